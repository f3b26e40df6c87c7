// internal/vcf/open.go
package vcf

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// multiReadCloser closes multiple io.Closers when Close() is called.
type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var err error
	for _, c := range m.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Open opens a variant file for reading. "-" reads stdin. Gzip (and bgzip)
// input is detected by magic number or by a .gz suffix.
func Open(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var sig [2]byte
	n, _ := io.ReadFull(fh, sig[:])
	if _, err := fh.Seek(0, io.SeekStart); err != nil {
		_ = fh.Close()
		return nil, err
	}
	if (n == 2 && sig[0] == 0x1f && sig[1] == 0x8b) || strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(fh)
		if err != nil {
			_ = fh.Close()
			return nil, err
		}
		return &multiReadCloser{Reader: gr, closers: []io.Closer{gr, fh}}, nil
	}
	return fh, nil
}

// Writer is a buffered line sink over a file, optionally gzip-compressed.
// Close flushes every layer before closing the file.
type Writer struct {
	*bufio.Writer
	gz *gzip.Writer
	fh *os.File
}

// NewWriter wraps fh. When compress is set the stream is gzip-encoded.
func NewWriter(fh *os.File, compress bool) *Writer {
	w := &Writer{fh: fh}
	if compress {
		w.gz = gzip.NewWriter(fh)
		w.Writer = bufio.NewWriterSize(w.gz, 256*1024)
	} else {
		w.Writer = bufio.NewWriterSize(fh, 256*1024)
	}
	return w
}

// Create truncates or creates path and returns a Writer for it. Paths ending
// in .gz are compressed.
func Create(path string) (*Writer, error) {
	fh, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewWriter(fh, strings.HasSuffix(path, ".gz")), nil
}

// Name returns the underlying file name.
func (w *Writer) Name() string { return w.fh.Name() }

func (w *Writer) Close() error {
	err := w.Flush()
	if w.gz != nil {
		if cerr := w.gz.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if cerr := w.fh.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
