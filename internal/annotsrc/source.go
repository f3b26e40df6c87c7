// internal/annotsrc/source.go
package annotsrc

import (
	"fmt"
	"strings"
)

// Format is the declared file format of an annotation source. It decides
// how the engine matches records against the source.
type Format string

const (
	FormatVCF    Format = "vcf"
	FormatBigWig Format = "bigwig"
	FormatBED    Format = "bed"
)

// DefaultVCFFields is the INFO field pulled from VCF sources.
const DefaultVCFFields = "AF"

// Source is one user-declared auxiliary annotation dataset.
type Source struct {
	Name   string
	Path   string
	Format Format
	Fields []string // VCF only
}

// FormatFromPath infers a format from the file extension:
// .vcf/.vcf.gz → VCF, .bw/.bw.gz → BigWig, anything else → BED.
func FormatFromPath(path string) Format {
	p := strings.ToLower(strings.TrimSuffix(strings.ToLower(path), ".gz"))
	switch {
	case strings.HasSuffix(p, ".vcf"):
		return FormatVCF
	case strings.HasSuffix(p, ".bw"):
		return FormatBigWig
	default:
		return FormatBED
	}
}

// ParseFormat accepts the explicit format names used in the declaration
// file. "bw" is an alias of "bigwig".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vcf":
		return FormatVCF, nil
	case "bigwig", "bw":
		return FormatBigWig, nil
	case "bed":
		return FormatBED, nil
	}
	return "", fmt.Errorf("unknown annotation format %q (want vcf | bigwig | bed)", s)
}

// Clause renders the engine's custom-annotation argument for s.
// VCF sources match exact positions and carry allele-frequency fields;
// BigWig and BED sources match by overlap.
func (s Source) Clause() string {
	switch s.Format {
	case FormatVCF:
		fields := DefaultVCFFields
		if len(s.Fields) > 0 {
			fields = strings.Join(s.Fields, ",")
		}
		return strings.Join([]string{s.Path, s.Name, "vcf", "exact", "0", fields}, ",")
	case FormatBigWig:
		return strings.Join([]string{s.Path, s.Name, "bigwig", "overlap", "0"}, ",")
	default:
		return strings.Join([]string{s.Path, s.Name, "bed", "overlap", "0"}, ",")
	}
}
