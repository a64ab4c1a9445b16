// Package extract walks a request's message bodies for fenced code blocks,
// package-manifest content, and free-text package mentions, emitting the
// package references internal/pipeline checks against the intelligence
// index.
//
// Go source uses go/parser + go/ast (the idiomatic and only choice for
// parsing Go — no third-party Go-grammar package appears anywhere in the
// retrieval pack). Python, JavaScript/TypeScript, Java, and Rust use
// line-oriented regex extraction of import/require/use statements, the
// plain-regex fallback SPEC_FULL.md's expanded module design sanctions for
// languages with no pack-carried grammar. Manifest files get dedicated
// parsers: requirements.txt and go.mod by line regex, package.json by gjson
// (already used throughout internal/provider), pyproject.toml by
// pelletier/go-toml.
package extract

import (
	"path"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// Extractor implements pipeline.CodeExtractor.
type Extractor struct{}

// New returns an Extractor. It holds no state; every Extract call is
// independent.
func New() *Extractor { return &Extractor{} }

// fencedBlock matches one markdown fenced code block: the opening fence's
// info string (language tag and/or filename hint) on its own line, the body,
// and the closing fence.
var fencedBlock = regexp.MustCompile("(?s)```([^\n`]*)\n(.*?)\n```")

// fenceFilenameHint pulls a filename out of a fence info string, either a
// title=\"...\" attribute or a bare token carrying a file extension —
// the same two shapes internal/mux's router looks for.
var fenceFilenameHint = regexp.MustCompile(`title="([^"]+)"|(\S+\.[A-Za-z0-9]+)`)

// Extract implements pipeline.CodeExtractor: every fenced code block is
// classified as a manifest (by filename hint) or dispatched to its
// language's import extractor; free text outside fences is scanned for
// explicit package mentions (install/use phrasing, or a backtick-quoted
// name).
func (e *Extractor) Extract(req *model.RequestRecord) []model.ExtractedPackage {
	var out []model.ExtractedPackage
	seen := make(map[model.ExtractedPackage]bool)
	add := func(pkgs []model.ExtractedPackage) {
		for _, p := range pkgs {
			if p.Name == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}

	if req.System != "" {
		add(extractFromText(req.System))
	}
	for _, msg := range req.Messages {
		add(extractFromText(msg.Text()))
	}
	return out
}

// extractFromText splits text into fenced blocks and the prose around them,
// and runs the matching extractor over each.
func extractFromText(text string) []model.ExtractedPackage {
	var out []model.ExtractedPackage

	matches := fencedBlock.FindAllStringSubmatchIndex(text, -1)
	prose := strings.Builder{}
	last := 0
	for _, m := range matches {
		prose.WriteString(text[last:m[0]])
		last = m[1]

		info := text[m[2]:m[3]]
		body := text[m[4]:m[5]]
		out = append(out, extractFromFence(info, body)...)
	}
	prose.WriteString(text[last:])

	out = append(out, extractFreeTextMentions(prose.String())...)
	return out
}

// extractFromFence classifies one fenced block by its info string and
// dispatches to the matching manifest parser or language extractor.
func extractFromFence(info, body string) []model.ExtractedPackage {
	lang, filename := parseFenceInfo(info)

	if filename != "" {
		if parse, ok := manifestParsers[path.Base(filename)]; ok {
			return parse(body)
		}
	}
	if parse, ok := manifestParsers[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return parse(body)
	}

	switch normalizeLang(lang) {
	case "go":
		return extractGoImports(body)
	case "python":
		return extractRegexImports(body, pythonImportPatterns, "pypi")
	case "javascript", "typescript":
		return extractRegexImports(body, jsImportPatterns, "npm")
	case "java":
		return extractRegexImports(body, javaImportPatterns, "maven")
	case "rust":
		return extractRegexImports(body, rustImportPatterns, "crates")
	default:
		return nil
	}
}

// parseFenceInfo splits a fence info string ("python title=\"app.py\"",
// "requirements.txt", "go") into a language tag and an optional filename
// hint.
func parseFenceInfo(info string) (lang, filename string) {
	fields := strings.Fields(info)
	if len(fields) > 0 {
		lang = fields[0]
	}
	if m := fenceFilenameHint.FindStringSubmatch(info); m != nil {
		if m[1] != "" {
			filename = m[1]
		} else if m[2] != "" {
			filename = m[2]
		}
	}
	return lang, filename
}

func normalizeLang(lang string) string {
	switch strings.ToLower(lang) {
	case "go", "golang":
		return "go"
	case "py", "python", "python3":
		return "python"
	case "js", "javascript", "jsx", "mjs", "cjs":
		return "javascript"
	case "ts", "typescript", "tsx":
		return "typescript"
	case "java":
		return "java"
	case "rs", "rust":
		return "rust"
	default:
		return ""
	}
}

// manifestParsers dispatches on a manifest's exact basename or a fence
// language tag that names a manifest file directly (a common chat pattern:
// ```requirements.txt\n...```).
var manifestParsers = map[string]func(content string) []model.ExtractedPackage{
	"requirements.txt": parseRequirementsTxt,
	"package.json":     parsePackageJSON,
	"pyproject.toml":   parsePyprojectTOML,
	"go.mod":           parseGoModManifest,
}

func parsePyprojectTOML(content string) []model.ExtractedPackage {
	var doc struct {
		Project struct {
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Dependencies map[string]any `toml:"dependencies"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal([]byte(content), &doc); err != nil {
		return nil
	}

	var out []model.ExtractedPackage
	for _, dep := range doc.Project.Dependencies {
		if name := pep508Name(dep); name != "" {
			out = append(out, model.ExtractedPackage{Ecosystem: "pypi", Name: name, Location: model.LocationManifest})
		}
	}
	for name := range doc.Tool.Poetry.Dependencies {
		if name == "python" {
			continue
		}
		out = append(out, model.ExtractedPackage{Ecosystem: "pypi", Name: name, Location: model.LocationManifest})
	}
	return out
}

func parsePackageJSON(content string) []model.ExtractedPackage {
	var out []model.ExtractedPackage
	parsed := gjson.Parse(content)
	for _, field := range []string{"dependencies", "devDependencies", "peerDependencies"} {
		parsed.Get(field).ForEach(func(key, _ gjson.Result) bool {
			out = append(out, model.ExtractedPackage{Ecosystem: "npm", Name: key.String(), Location: model.LocationManifest})
			return true
		})
	}
	return out
}

// requirementLine strips inline comments and PEP 508 version specifiers from
// one requirements.txt line, leaving the bare distribution name.
var requirementLine = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)

func parseRequirementsTxt(content string) []model.ExtractedPackage {
	var out []model.ExtractedPackage
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		m := requirementLine.FindString(line)
		if m == "" {
			continue
		}
		out = append(out, model.ExtractedPackage{Ecosystem: "pypi", Name: m, Location: model.LocationManifest})
	}
	return out
}

// pep508Name strips a PEP 508 dependency specifier ("requests>=2.0; extra
// == 'x'") down to the bare distribution name.
func pep508Name(spec string) string {
	m := requirementLine.FindString(strings.TrimSpace(spec))
	return m
}

var goModRequireLine = regexp.MustCompile(`^\s*([^\s]+\.[^\s]+/\S+)\s+v\S+`)

func parseGoModManifest(content string) []model.ExtractedPackage {
	var out []model.ExtractedPackage
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "// indirect") {
			continue
		}
		m := goModRequireLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, model.ExtractedPackage{Ecosystem: "go", Name: m[1], Location: model.LocationManifest})
	}
	return out
}

// extractFreeTextMentions scans prose (the parts of a message outside any
// fenced code block) for an explicit package reference: "pip install X",
// "npm install X", "go get X", "cargo add X", or a bare backtick-quoted
// name, per spec.md §4.4's free-text heuristic.
func extractFreeTextMentions(text string) []model.ExtractedPackage {
	var out []model.ExtractedPackage
	for _, fam := range freeTextInstallPatterns {
		for _, m := range fam.pattern.FindAllStringSubmatch(text, -1) {
			out = append(out, model.ExtractedPackage{Ecosystem: fam.ecosystem, Name: m[1], Location: model.LocationFreeText})
		}
	}
	return out
}

type installPattern struct {
	ecosystem string
	pattern   *regexp.Regexp
}

var freeTextInstallPatterns = []installPattern{
	{"pypi", regexp.MustCompile(`\bpip3?\s+install\s+([A-Za-z0-9][A-Za-z0-9._-]*)`)},
	{"npm", regexp.MustCompile(`\bnpm\s+(?:install|i|add)\s+([@A-Za-z0-9][\w./@-]*)`)},
	{"npm", regexp.MustCompile(`\byarn\s+add\s+([@A-Za-z0-9][\w./@-]*)`)},
	{"go", regexp.MustCompile(`\bgo\s+(?:get|install)\s+([^\s@]+\.[^\s@]+/\S+?)(?:@\S+)?\b`)},
	{"crates", regexp.MustCompile(`\bcargo\s+add\s+([A-Za-z0-9][\w-]*)`)},
	{"maven", regexp.MustCompile(`\bmvn\s+dependency:get\s+-Dartifact=(\S+)`)},
}
