// Package annotsrc loads the declaration of auxiliary annotation sources.
//
// The declaration is a YAML mapping of source name to file. Order matters:
// engine arguments are emitted in declaration order, so the file is decoded
// at the node level rather than into a Go map.
//
//	phyloP: hg38.phyloP46way.bw
//	gnomad:
//	  path: gnomad.genomes.vcf.gz
//	  fields: [AF, AF_nfe]
//	enhancers:
//	  path: enhancers.txt.gz
//	  format: bed
package annotsrc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type entry struct {
	Path   string   `yaml:"path"`
	Format string   `yaml:"format"`
	Fields []string `yaml:"fields"`
}

// Load reads the declaration file at path. Relative source paths are
// resolved against dataDir.
func Load(path, dataDir string) ([]Source, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	srcs, err := Decode(fh, dataDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return srcs, nil
}

// Decode parses a declaration from r.
func Decode(r io.Reader, dataDir string) ([]Source, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of source name to file", root.Line)
	}

	seen := make(map[string]int, len(root.Content)/2)
	out := make([]Source, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		name := k.Value
		if name == "" {
			return nil, fmt.Errorf("line %d: empty source name", k.Line)
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("line %d: source %q already declared on line %d", k.Line, name, prev)
		}
		seen[name] = k.Line

		var e entry
		switch v.Kind {
		case yaml.ScalarNode:
			e.Path = v.Value
		case yaml.MappingNode:
			if err := v.Decode(&e); err != nil {
				return nil, fmt.Errorf("line %d: source %q: %w", v.Line, name, err)
			}
		default:
			return nil, fmt.Errorf("line %d: source %q: expected a file name or a mapping", v.Line, name)
		}
		if e.Path == "" {
			return nil, fmt.Errorf("line %d: source %q has no path", v.Line, name)
		}

		src := Source{Name: name, Path: e.Path, Fields: e.Fields}
		if !filepath.IsAbs(src.Path) && dataDir != "" {
			src.Path = filepath.Join(dataDir, src.Path)
		}
		if e.Format != "" {
			f, err := ParseFormat(e.Format)
			if err != nil {
				return nil, fmt.Errorf("line %d: source %q: %w", v.Line, name, err)
			}
			src.Format = f
		} else {
			src.Format = FormatFromPath(e.Path)
		}
		if len(src.Fields) > 0 && src.Format != FormatVCF {
			return nil, fmt.Errorf("line %d: source %q: fields are only valid for vcf sources", v.Line, name)
		}
		out = append(out, src)
	}
	return out, nil
}
