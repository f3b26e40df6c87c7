// Package merge concatenates per-partition engine outputs into one file.
//
// The first input is copied verbatim, header included; header-marker lines
// of every later input are dropped. Inputs are streamed in the given order
// and records are never reordered. The destination appears only once it is
// complete: data goes to a temporary file beside it that is renamed into
// place on success.
package merge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cwas/internal/vcf"
)

var (
	// ErrNoInputs is returned when there is nothing to merge.
	ErrNoInputs = errors.New("no files to merge")
	// ErrRecordCount means the inputs held a different number of data
	// records than the caller expected. Nothing is published.
	ErrRecordCount = errors.New("merged record count mismatch")
)

type options struct {
	wantRecords int
}

// Option configures Merge.
type Option func(*options)

// WithExpectedRecords makes Merge fail with ErrRecordCount, before dest is
// touched, unless exactly n data records were written.
func WithExpectedRecords(n int) Option {
	return func(o *options) {
		o.wantRecords = n
	}
}

// Stats summarizes a merge.
type Stats struct {
	Files       int
	HeaderLines int
	DataLines   int
}

// Merge writes inputs into dest.
func Merge(ctx context.Context, inputs []string, dest string, opts ...Option) (Stats, error) {
	o := options{wantRecords: -1}
	for _, opt := range opts {
		opt(&o)
	}

	var st Stats
	if len(inputs) == 0 {
		return st, ErrNoInputs
	}
	err := publish(dest, func(w io.Writer) error {
		for i, in := range inputs {
			if err := ctx.Err(); err != nil {
				return err
			}
			h, d, err := appendFile(w, in, i == 0)
			if err != nil {
				return err
			}
			st.Files++
			st.HeaderLines += h
			st.DataLines += d
		}
		if o.wantRecords >= 0 && st.DataLines != o.wantRecords {
			return fmt.Errorf("%w: expected %d data records, got %d", ErrRecordCount, o.wantRecords, st.DataLines)
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// WriteHeaderOnly publishes a file holding just header. It stands in for
// the merged output of an input without data records.
func WriteHeaderOnly(header vcf.Header, dest string) (Stats, error) {
	err := publish(dest, func(w io.Writer) error {
		_, err := header.WriteTo(w)
		return err
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{HeaderLines: header.Len()}, nil
}

func appendFile(w io.Writer, path string, keepHeader bool) (header, data int, err error) {
	rc, err := vcf.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 256*1024)
	for {
		line, rerr := br.ReadBytes('\n')
		if len(line) > 0 {
			keep := true
			switch {
			case len(bytes.TrimSpace(line)) == 0:
				keep = false
			case !vcf.IsHeader(line):
				data++
			case keepHeader:
				header++
			default:
				keep = false
			}
			if keep {
				if line[len(line)-1] != '\n' {
					line = append(line, '\n')
				}
				if _, err := w.Write(line); err != nil {
					return 0, 0, err
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return header, data, nil
			}
			return 0, 0, fmt.Errorf("read %s: %w", path, rerr)
		}
	}
}

// publish runs fill against a temp file next to dest and renames it over
// dest once fill and all flushes succeed.
func publish(dest string, fill func(io.Writer) error) (err error) {
	dir := filepath.Dir(dest)
	fh, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create output in %s: %w", dir, err)
	}
	tmp := fh.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	w := vcf.NewWriter(fh, strings.HasSuffix(dest, ".gz"))
	if err := fill(w); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := fh.Chmod(0o644); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("publish %s: %w", dest, err)
	}
	return nil
}
