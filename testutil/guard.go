// Package testutil holds test helpers that keep package boundaries honest:
// which packages may reach the ledger drivers, the query builder or the
// object store backends.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Predicate reports whether an import path is off limits.
type Predicate func(importPath string) bool

// StorageImportForbidden matches SQL drivers, the query builder and the
// concrete ledger backends.
func StorageImportForbidden(path string) bool {
	switch {
	case path == "database/sql",
		strings.HasPrefix(path, "github.com/jackc/pgx"),
		strings.HasPrefix(path, "modernc.org/sqlite"),
		strings.HasPrefix(path, "github.com/doug-martin/goqu"),
		strings.Contains(path, "/internal/infra/persistence"):
		return true
	}
	return false
}

// ObjectStoreImportForbidden matches the concrete object store backends.
func ObjectStoreImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/infra/blob") || strings.HasPrefix(path, "github.com/aws/")
}

// AnyOf matches when any of preds matches.
func AnyOf(preds ...func(string) bool) Predicate {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

// AssertNoDirectImports fails when a non-test file in dir imports a path
// matched by forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	failIfViolations(t, "forbidden direct imports", reason, viols)
}

// AssertNoTransitiveDependency fails when any package reachable from
// pattern matches forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(string) bool, reason string) {
	t.Helper()
	roots, err := loadDeps(pattern)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	failIfViolations(t, "forbidden transitive dependency", reason, transitiveViolations(roots, forbidden))
}

var loadDeps = func(pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	return packages.Load(cfg, pattern)
}

// transitiveViolations walks the import graph below roots. Each match is
// reported once with the package that pulled it in.
func transitiveViolations(roots []*packages.Package, forbidden func(string) bool) []string {
	seen := make(map[string]bool)
	var viols []string
	var walk func(p *packages.Package)
	walk = func(p *packages.Package) {
		for path, imp := range p.Imports {
			if seen[path] {
				continue
			}
			seen[path] = true
			if forbidden(path) {
				viols = append(viols, path+" (via "+p.PkgPath+")")
				continue
			}
			walk(imp)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	sort.Strings(viols)
	return viols
}

func directImportViolations(dir string, forbidden func(string) bool) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.go"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}
	fset := token.NewFileSet()
	var viols []string
	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			if path := strings.Trim(imp.Path.Value, `"`); forbidden(path) {
				viols = append(viols, path+" (in "+filepath.Base(file)+")")
			}
		}
	}
	return viols, nil
}

type fatalf interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalf, what, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s (%s):\n%s", what, reason, strings.Join(viols, "\n"))
	}
}
