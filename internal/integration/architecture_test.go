package integration

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestPublicPackagesStayLeaf ensures the exported pkg/ tree never reaches back
// into internal packages. Domain and schema are the dependency floor; adapters
// and infra build on top of them, never the other way around.
func TestPublicPackagesStayLeaf(t *testing.T) {
	publicPrefix := "lithocore/pkg/"
	internalPrefix := "lithocore/internal/"

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: false}
	pkgs, err := packages.Load(cfg, "lithocore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if !strings.HasPrefix(pkg.PkgPath, publicPrefix) {
			continue
		}
		for importPath := range pkg.Imports {
			if strings.HasPrefix(importPath, internalPrefix) {
				seen[pkg.PkgPath+": "+importPath] = struct{}{}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("public package imports internal package: %s", v)
		}
	}
}
