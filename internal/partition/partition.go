// Package partition splits a variant file into one file per chromosome.
//
// The source is read in a single pass. Each partition file carries a copy
// of the source header block followed by that key's records in source
// order; partitions are returned in order of first key appearance.
package partition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"cwas/internal/vcf"
)

// Partition is one materialized key group.
type Partition struct {
	Key     string
	Path    string
	Records int
}

type sink struct {
	part *Partition
	w    *vcf.Writer
}

// checkEvery is how many records pass between context checks.
const checkEvery = 4096

// Split reads src and writes one file per distinct key as named by naming.
// A source with no data records yields no partitions and no error. On
// failure every partition file created so far is removed.
func Split(ctx context.Context, src string, naming NamingPolicy) (parts []Partition, header vcf.Header, err error) {
	rc, err := vcf.Open(src)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", src, err)
	}
	defer rc.Close()

	vr, err := vcf.NewReader(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("read header of %s: %w", src, err)
	}
	header = vr.Header()

	sinks := linkedhashmap.New() // key -> *sink, first-appearance order
	paths := make(map[string]string)
	defer func() {
		var closeErr error
		for _, v := range sinks.Values() {
			if cerr := v.(*sink).w.Close(); cerr != nil && closeErr == nil {
				closeErr = fmt.Errorf("close %s: %w", v.(*sink).part.Path, cerr)
			}
		}
		if err == nil && closeErr != nil {
			err = closeErr
		}
		if err != nil {
			for _, v := range sinks.Values() {
				_ = os.Remove(v.(*sink).part.Path)
			}
			parts = nil
		}
	}()

	for n := 0; ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, header, err
			}
		}
		line, rerr := vr.Next()
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return nil, header, fmt.Errorf("read %s: %w", src, rerr)
		}
		key := vcf.Key(line)

		var s *sink
		if v, ok := sinks.Get(key); ok {
			s = v.(*sink)
		} else {
			path := naming(key)
			if other, clash := paths[path]; clash {
				return nil, header, fmt.Errorf("partition keys %q and %q both map to %s", other, key, path)
			}
			w, cerr := vcf.Create(path)
			if cerr != nil {
				return nil, header, fmt.Errorf("create partition for %q: %w", key, cerr)
			}
			s = &sink{part: &Partition{Key: key, Path: path}, w: w}
			sinks.Put(key, s)
			paths[path] = key
			if _, werr := header.WriteTo(w); werr != nil {
				return nil, header, fmt.Errorf("write %s: %w", path, werr)
			}
		}
		if _, werr := s.w.Write(line); werr != nil {
			return nil, header, fmt.Errorf("write %s: %w", s.part.Path, werr)
		}
		s.part.Records++
	}

	parts = make([]Partition, 0, sinks.Size())
	for _, v := range sinks.Values() {
		parts = append(parts, *v.(*sink).part)
	}
	return parts, header, nil
}

// Paths returns the file path of every partition, in order.
func Paths(parts []Partition) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.Path
	}
	return out
}
