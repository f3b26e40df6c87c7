package arch

import (
	"bytes"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"testing"
)

type pkg struct {
	ImportPath string
	Imports    []string
	Standard   bool
}

const module = "cwas/"

var (
	outer = []string{"cwas/internal/cli", "cwas/internal/appshell", "cwas/internal/config", "cwas/cmd/"}
	fakes = []string{"cwas/internal/testutil", "cwas/internal/mocks"}
)

func banned(extra ...string) []string {
	out := append([]string{}, outer...)
	out = append(out, fakes...)
	return append(out, extra...)
}

func TestImportBoundaries(t *testing.T) {
	cmd := exec.Command("go", "list", "-json", "./...")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		t.Fatalf("go list: %v", err)
	}
	dec := json.NewDecoder(&out)

	// Stage packages never reach up into orchestration or the command
	// layer, and nothing outside tests links the fakes.
	bans := map[string][]string{
		"cwas/internal/vcf":       banned("cwas/internal/pipeline", "cwas/internal/partition", "cwas/internal/merge", "cwas/internal/runner"),
		"cwas/internal/annotsrc":  banned("cwas/internal/pipeline", "cwas/internal/job", "cwas/internal/runner"),
		"cwas/internal/partition": banned("cwas/internal/pipeline", "cwas/internal/runner", "cwas/internal/merge", "cwas/internal/job"),
		"cwas/internal/job":       banned("cwas/internal/pipeline", "cwas/internal/runner", "cwas/internal/partition"),
		"cwas/internal/runner":    banned("cwas/internal/pipeline", "cwas/internal/partition", "cwas/internal/merge"),
		"cwas/internal/merge":     banned("cwas/internal/pipeline", "cwas/internal/runner", "cwas/internal/partition"),
		"cwas/internal/cleanup":   banned("cwas/internal/pipeline", "cwas/internal/runner"),
		"cwas/internal/metrics":   banned("cwas/internal/pipeline", "cwas/internal/runner"),
		"cwas/internal/logger":    banned("cwas/internal/pipeline", "cwas/internal/runner"),
		"cwas/internal/pipeline":  banned(),
		"cwas/internal/cli":       fakes,
	}

	var violations []string
	for {
		var p pkg
		if err := dec.Decode(&p); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !strings.HasPrefix(p.ImportPath, module) {
			continue
		}
		imp := p.ImportPath
		for prefix, forbidden := range bans {
			if imp != prefix && !strings.HasPrefix(imp, prefix+"/") {
				continue
			}
			for _, dep := range p.Imports {
				if !strings.HasPrefix(dep, module) {
					continue
				}
				for _, ban := range forbidden {
					if strings.HasPrefix(dep, ban) {
						violations = append(violations, imp+" → "+dep)
					}
				}
			}
		}
	}

	if len(violations) > 0 {
		t.Fatalf("import boundary violations:\n  %s", strings.Join(violations, "\n  "))
	}
}
