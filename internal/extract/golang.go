package extract

import (
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// extractGoImports parses a fenced Go code block with go/parser in
// ImportsOnly mode, so a snippet need not be a complete, compilable file —
// only syntactically valid up through its import block. Pasted snippets
// often omit the package clause entirely, so a bare parse failure falls
// back to retrying with one prepended.
func extractGoImports(src string) []model.ExtractedPackage {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", src, parser.ImportsOnly)
	if err != nil {
		f, err = parser.ParseFile(fset, "", "package codegate\n"+src, parser.ImportsOnly)
	}
	if err != nil || f == nil {
		return nil
	}

	var out []model.ExtractedPackage
	for _, imp := range f.Imports {
		importPath, uerr := strconv.Unquote(imp.Path.Value)
		if uerr != nil || isStdlibImportPath(importPath) {
			continue
		}
		out = append(out, model.ExtractedPackage{Ecosystem: "go", Name: importPath, Location: model.LocationCodeImport})
	}
	return out
}

// isStdlibImportPath applies the standard heuristic: a standard-library
// import path's first segment carries no dot (no domain), since every
// third-party module path is rooted at a host name.
func isStdlibImportPath(importPath string) bool {
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}
