package mux

import (
	"testing"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

type fakeEndpoints struct {
	endpoints map[string]model.ProviderEndpoint
}

func (f fakeEndpoints) Lookup(id string) (model.ProviderEndpoint, bool) {
	ep, ok := f.endpoints[id]
	return ep, ok
}

func TestRouter_CatchAllAlwaysMatches(t *testing.T) {
	r := New(fakeEndpoints{endpoints: map[string]model.ProviderEndpoint{
		"ep-1": {ID: "ep-1", Kind: model.ProviderOpenAI},
	}})
	ws := model.Workspace{MuxRules: []model.MuxRule{
		{ProviderEndpointID: "ep-1", ModelName: "gpt-4", MatcherType: model.MatcherCatchAll},
	}}
	ep, modelName, ok := r.Resolve(ws, &model.RequestRecord{})
	if !ok || ep.ID != "ep-1" || modelName != "gpt-4" {
		t.Errorf("got ep=%+v model=%q ok=%v", ep, modelName, ok)
	}
}

func TestRouter_FirstMatchWins(t *testing.T) {
	r := New(fakeEndpoints{endpoints: map[string]model.ProviderEndpoint{
		"ep-1": {ID: "ep-1"},
		"ep-2": {ID: "ep-2"},
	}})
	ws := model.Workspace{MuxRules: []model.MuxRule{
		{ProviderEndpointID: "ep-1", MatcherType: model.MatcherRequestTypeMatch, Matcher: "chat"},
		{ProviderEndpointID: "ep-2", MatcherType: model.MatcherCatchAll},
	}}
	ep, _, ok := r.Resolve(ws, &model.RequestRecord{Kind: model.KindChat})
	if !ok || ep.ID != "ep-1" {
		t.Errorf("expected ep-1 to win, got %+v ok=%v", ep, ok)
	}
}

func TestRouter_RequestTypeMatchFallsThroughOnMismatch(t *testing.T) {
	r := New(fakeEndpoints{endpoints: map[string]model.ProviderEndpoint{
		"ep-2": {ID: "ep-2"},
	}})
	ws := model.Workspace{MuxRules: []model.MuxRule{
		{ProviderEndpointID: "ep-1", MatcherType: model.MatcherRequestTypeMatch, Matcher: "chat"},
		{ProviderEndpointID: "ep-2", MatcherType: model.MatcherCatchAll},
	}}
	ep, _, ok := r.Resolve(ws, &model.RequestRecord{Kind: model.KindFIM})
	if !ok || ep.ID != "ep-2" {
		t.Errorf("expected fallthrough to ep-2, got %+v ok=%v", ep, ok)
	}
}

func TestRouter_NoMatchingRuleReturnsFalse(t *testing.T) {
	r := New(fakeEndpoints{endpoints: map[string]model.ProviderEndpoint{}})
	ws := model.Workspace{MuxRules: []model.MuxRule{
		{ProviderEndpointID: "ep-1", MatcherType: model.MatcherRequestTypeMatch, Matcher: "chat"},
	}}
	_, _, ok := r.Resolve(ws, &model.RequestRecord{Kind: model.KindFIM})
	if ok {
		t.Error("expected no match")
	}
}

func TestRouter_SkipsRuleWithUnregisteredEndpoint(t *testing.T) {
	r := New(fakeEndpoints{endpoints: map[string]model.ProviderEndpoint{
		"ep-2": {ID: "ep-2"},
	}})
	ws := model.Workspace{MuxRules: []model.MuxRule{
		{ProviderEndpointID: "ep-gone", MatcherType: model.MatcherCatchAll},
		{ProviderEndpointID: "ep-2", MatcherType: model.MatcherCatchAll},
	}}
	ep, _, ok := r.Resolve(ws, &model.RequestRecord{})
	if !ok || ep.ID != "ep-2" {
		t.Errorf("expected fallthrough to ep-2, got %+v ok=%v", ep, ok)
	}
}

func TestRouter_ModelNameDefaultsToRequestModel(t *testing.T) {
	r := New(fakeEndpoints{endpoints: map[string]model.ProviderEndpoint{
		"ep-1": {ID: "ep-1"},
	}})
	ws := model.Workspace{MuxRules: []model.MuxRule{
		{ProviderEndpointID: "ep-1", MatcherType: model.MatcherCatchAll},
	}}
	_, modelName, ok := r.Resolve(ws, &model.RequestRecord{Model: "llama3"})
	if !ok || modelName != "llama3" {
		t.Errorf("got model=%q ok=%v, want llama3", modelName, ok)
	}
}

func TestRouter_FilenameMatch_CodeFenceTitleHint(t *testing.T) {
	r := New(fakeEndpoints{endpoints: map[string]model.ProviderEndpoint{"ep-1": {ID: "ep-1"}}})
	ws := model.Workspace{MuxRules: []model.MuxRule{
		{ProviderEndpointID: "ep-1", MatcherType: model.MatcherFilenameMatch, Matcher: "*.go"},
	}}
	req := &model.RequestRecord{Messages: []model.Message{
		{Role: model.RoleUser, Parts: model.TextParts("```go title=\"main.go\"\nfunc main() {}\n```")},
	}}
	_, _, ok := r.Resolve(ws, req)
	if !ok {
		t.Error("expected filename_match to hit on a *.go glob against main.go")
	}
}

func TestRouter_FilenameMatch_FIMPathHint(t *testing.T) {
	r := New(fakeEndpoints{endpoints: map[string]model.ProviderEndpoint{"ep-1": {ID: "ep-1"}}})
	ws := model.Workspace{MuxRules: []model.MuxRule{
		{ProviderEndpointID: "ep-1", MatcherType: model.MatcherFilenameMatch, Matcher: "src/**/*.py"},
	}}
	req := &model.RequestRecord{Messages: []model.Message{
		{Role: model.RoleUser, Parts: model.TextParts("// path: src/pkg/app.py\ndef f(): pass")},
	}}
	_, _, ok := r.Resolve(ws, req)
	if !ok {
		t.Error("expected filename_match to hit on a glob against a FIM path hint")
	}
}

func TestRouter_FilenameMatch_NoHintNoMatch(t *testing.T) {
	r := New(fakeEndpoints{endpoints: map[string]model.ProviderEndpoint{"ep-1": {ID: "ep-1"}}})
	ws := model.Workspace{MuxRules: []model.MuxRule{
		{ProviderEndpointID: "ep-1", MatcherType: model.MatcherFilenameMatch, Matcher: "*.go"},
	}}
	req := &model.RequestRecord{Messages: []model.Message{
		{Role: model.RoleUser, Parts: model.TextParts("just plain text, no file hints")},
	}}
	_, _, ok := r.Resolve(ws, req)
	if ok {
		t.Error("expected no match with no extractable filename")
	}
}
