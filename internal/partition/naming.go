// internal/partition/naming.go
package partition

import (
	"crypto/rand"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NamingPolicy maps a partition key to the path of its partition file.
// Distinct keys must map to distinct paths.
type NamingPolicy func(key string) string

// NewRunID returns a sortable, unique identifier for one pipeline run.
func NewRunID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

// Stem strips directory, compression and .vcf suffixes from a source path.
func Stem(src string) string {
	base := filepath.Base(src)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".bgz")
	base = strings.TrimSuffix(base, ".vcf")
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "input"
	}
	return base
}

// DefaultNaming names partitions <dir>/<stem>.<runID>.tmp.<key>.vcf.
func DefaultNaming(dir, src, runID string) NamingPolicy {
	stem := Stem(src)
	return func(key string) string {
		name := fmt.Sprintf("%s.%s.tmp.%s.vcf", stem, runID, SanitizeKey(key))
		return filepath.Join(dir, name)
	}
}

// SanitizeKey makes a key safe for use inside a file name.
func SanitizeKey(key string) string {
	if key == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
