// Package mux evaluates a Workspace's ordered MuxRule list against a
// request and resolves the provider endpoint/model to use (spec.md §4.3).
// Grounded on the teacher's DomainRegistry: a read-mostly, rare-write
// structure, generalized here from a flat domain set to an ordered rule
// list evaluated top-to-bottom with first-match-wins.
package mux

import (
	"regexp"

	"github.com/gobwas/glob"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// EndpointLookup resolves a provider endpoint by ID. Implemented by
// internal/provider's registry.
type EndpointLookup interface {
	Lookup(id string) (model.ProviderEndpoint, bool)
}

// Router implements pipeline.MuxResolver.
type Router struct {
	endpoints EndpointLookup
}

// New returns a Router that resolves MuxRule.ProviderEndpointID through
// endpoints.
func New(endpoints EndpointLookup) *Router {
	return &Router{endpoints: endpoints}
}

// Resolve evaluates ws.MuxRules top-to-bottom and returns the endpoint/model
// of the first matching rule whose endpoint is registered. A rule naming an
// endpoint that no longer exists is silently skipped, not fatal — the next
// rule still gets a chance (spec.md §4.3: only a workspace with no matching
// rule at all yields FailNoRoute).
func (r *Router) Resolve(ws model.Workspace, req *model.RequestRecord) (model.ProviderEndpoint, string, bool) {
	for _, rule := range ws.MuxRules {
		if !matches(rule, req) {
			continue
		}
		endpoint, ok := r.endpoints.Lookup(rule.ProviderEndpointID)
		if !ok {
			continue
		}
		modelName := rule.ModelName
		if modelName == "" {
			modelName = req.Model
		}
		return endpoint, modelName, true
	}
	return model.ProviderEndpoint{}, "", false
}

func matches(rule model.MuxRule, req *model.RequestRecord) bool {
	switch rule.MatcherType {
	case model.MatcherCatchAll:
		return true
	case model.MatcherRequestTypeMatch:
		return string(req.Kind) == rule.Matcher
	case model.MatcherFilenameMatch:
		return matchesFilename(req, rule.Matcher)
	default:
		return false
	}
}

// codeFenceHeader matches a markdown fenced-code-block opener that carries a
// filename hint, e.g. "```python title=\"main.py\"" or "```main.go".
var codeFenceHeader = regexp.MustCompile("(?m)^```[a-zA-Z0-9_+-]*\\s+(?:title=\"([^\"]+)\"|([^\\s`]+\\.[A-Za-z0-9]+))")

// fimPathHint matches a FIM-style leading path comment, e.g.
// "// path: src/main.go" or "# file: app.py".
var fimPathHint = regexp.MustCompile(`(?m)^\s*(?://|#)\s*(?:path|file|filename)\s*:\s*(\S+)`)

// matchesFilename extracts every heuristically-found file path from req and
// glob-matches each against pattern, matching if any hit (spec.md §4.3:
// "heuristically extracted ... glob semantics").
func matchesFilename(req *model.RequestRecord, pattern string) bool {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return false
	}
	for _, path := range extractFilenames(req) {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// extractFilenames collects every candidate file path mentioned across the
// request's messages, via code-fence headers and FIM path-hint comments.
func extractFilenames(req *model.RequestRecord) []string {
	var out []string
	for _, msg := range req.Messages {
		text := msg.Text()
		for _, m := range codeFenceHeader.FindAllStringSubmatch(text, -1) {
			if m[1] != "" {
				out = append(out, m[1])
			} else if m[2] != "" {
				out = append(out, m[2])
			}
		}
		for _, m := range fimPathHint.FindAllStringSubmatch(text, -1) {
			out = append(out, m[1])
		}
	}
	return out
}
