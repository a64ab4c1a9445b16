package extract

import (
	"regexp"
	"strings"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// importPattern is one regex whose first capture group is a package
// identifier, plus the function that trims that capture down to the root
// package/distribution name the intelligence index keys on.
type importPattern struct {
	pattern *regexp.Regexp
	rootOf  func(string) string
}

func extractRegexImports(body string, patterns []importPattern, ecosystem string) []model.ExtractedPackage {
	var out []model.ExtractedPackage
	for _, ip := range patterns {
		for _, m := range ip.pattern.FindAllStringSubmatch(body, -1) {
			name := ip.rootOf(m[1])
			if name == "" {
				continue
			}
			out = append(out, model.ExtractedPackage{Ecosystem: ecosystem, Name: name, Location: model.LocationCodeImport})
		}
	}
	return out
}

func firstDotSegment(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

func firstSlashSegment(s string) string {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}

func firstColonSegment(s string) string {
	if i := strings.Index(s, "::"); i >= 0 {
		return s[:i]
	}
	return s
}

// pythonImportPatterns covers "import pkg" / "import pkg.sub" and
// "from pkg import x".
var pythonImportPatterns = []importPattern{
	{regexp.MustCompile(`(?m)^\s*import\s+([A-Za-z_][\w.]*)`), firstDotSegment},
	{regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][\w.]*)\s+import`), firstDotSegment},
}

// jsImportPatterns covers ES module imports, CommonJS require, and dynamic
// import(); relative/absolute local paths ("./x", "/x") are excluded since
// they name files, not packages.
var jsImportPatterns = []importPattern{
	{regexp.MustCompile(`(?m)\bfrom\s+['"]([^'"./][^'"]*)['"]`), npmRoot},
	{regexp.MustCompile(`(?m)\brequire\(\s*['"]([^'"./][^'"]*)['"]\s*\)`), npmRoot},
	{regexp.MustCompile(`(?m)\bimport\(\s*['"]([^'"./][^'"]*)['"]\s*\)`), npmRoot},
	{regexp.MustCompile(`(?m)^\s*import\s+['"]([^'"./][^'"]*)['"]`), npmRoot},
}

// npmRoot keeps a scoped package's "@scope/name" whole and trims everything
// else to its first path segment (e.g. "lodash/debounce" -> "lodash").
func npmRoot(importPath string) string {
	if strings.HasPrefix(importPath, "@") {
		parts := strings.SplitN(importPath, "/", 3)
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
		return importPath
	}
	return firstSlashSegment(importPath)
}

// javaImportPatterns covers "import pkg.Class;" and "import static
// pkg.Class.member;".
var javaImportPatterns = []importPattern{
	{regexp.MustCompile(`(?m)^\s*import\s+(?:static\s+)?([\w.]+?)(?:\.\*)?;`), func(s string) string { return s }},
}

// rustImportPatterns covers "use crate_name::...;" and "extern crate
// crate_name;"; "crate", "self", and "super" are path-relative keywords, not
// external crates.
var rustImportPatterns = []importPattern{
	{regexp.MustCompile(`(?m)^\s*use\s+([A-Za-z_][\w:]*)`), rustCrateRoot},
	{regexp.MustCompile(`(?m)^\s*extern\s+crate\s+([A-Za-z_][\w]*)`), rustCrateRoot},
}

func rustCrateRoot(s string) string {
	root := firstColonSegment(s)
	switch root {
	case "crate", "self", "super", "std", "core", "alloc":
		return ""
	}
	return root
}
