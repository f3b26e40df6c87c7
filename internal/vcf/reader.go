// Package vcf reads and writes tab-delimited variant files as opaque lines.
//
// A file is a leading block of header lines (each starting with '#')
// followed by data records whose first field is the chromosome. Records
// are never parsed beyond that first field.
package vcf

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// HeaderMarker starts every header/metadata line.
const HeaderMarker = '#'

// IsHeader reports whether line is a header-marker line.
func IsHeader(line []byte) bool {
	return len(line) > 0 && line[0] == HeaderMarker
}

// Key returns the partition key of a data line: its first tab-delimited field.
func Key(line []byte) string {
	line = bytes.TrimRight(line, "\r\n")
	if i := bytes.IndexByte(line, '\t'); i >= 0 {
		line = line[:i]
	}
	return string(line)
}

// Header is the leading block of header lines, each newline-terminated.
type Header [][]byte

// WriteTo writes every header line to w.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, l := range h {
		m, err := w.Write(l)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Len is the number of header lines.
func (h Header) Len() int { return len(h) }

// Reader yields the data lines of a variant file after consuming its header.
type Reader struct {
	br      *bufio.Reader
	header  Header
	pending []byte
	skipped int
}

// NewReader consumes the header block from r.
func NewReader(r io.Reader) (*Reader, error) {
	vr := &Reader{br: bufio.NewReaderSize(r, 256*1024)}
	for {
		line, err := vr.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return vr, nil
			}
			return nil, err
		}
		if !IsHeader(line) {
			vr.pending = line
			return vr, nil
		}
		vr.header = append(vr.header, line)
	}
}

// Header returns the header block read by NewReader.
func (r *Reader) Header() Header { return r.header }

// Skipped counts blank and stray '#' lines found after the header block.
func (r *Reader) Skipped() int { return r.skipped }

// Next returns the next data line including its trailing newline. The slice
// is owned by the caller. It returns io.EOF after the last record.
func (r *Reader) Next() ([]byte, error) {
	for {
		var line []byte
		if r.pending != nil {
			line, r.pending = r.pending, nil
		} else {
			var err error
			if line, err = r.readLine(); err != nil {
				return nil, err
			}
		}
		if IsHeader(line) || len(bytes.TrimSpace(line)) == 0 {
			r.skipped++
			continue
		}
		return line, nil
	}
}

// readLine returns one newline-terminated line. A final unterminated line
// gets a newline appended.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if len(line) == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	if line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return line, nil
}

// CountData opens path and counts its header and data lines.
func CountData(path string) (header, data int, err error) {
	rc, err := Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer rc.Close()
	vr, err := NewReader(rc)
	if err != nil {
		return 0, 0, err
	}
	for {
		if _, err := vr.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return vr.Header().Len(), data, nil
			}
			return 0, 0, err
		}
		data++
	}
}
