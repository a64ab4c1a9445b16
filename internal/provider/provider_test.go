package provider

import (
	"testing"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

func TestNewRegistry_HasCodecForEveryKind(t *testing.T) {
	r := NewRegistry()
	kinds := []model.ProviderKind{
		model.ProviderOpenAI,
		model.ProviderAnthropic,
		model.ProviderOllama,
		model.ProviderLlamaCPP,
		model.ProviderVLLM,
		model.ProviderOpenRouter,
		model.ProviderLMStudio,
		model.ProviderCopilot,
	}
	for _, kind := range kinds {
		if _, ok := r.Codec(kind); !ok {
			t.Errorf("no codec registered for kind %q", kind)
		}
	}
}

func TestNewRegistry_OpenAICompatibleKindsShareOneInstance(t *testing.T) {
	r := NewRegistry()
	openaiCodec, _ := r.Codec(model.ProviderOpenAI)
	for _, kind := range []model.ProviderKind{model.ProviderLlamaCPP, model.ProviderVLLM, model.ProviderOpenRouter, model.ProviderLMStudio} {
		c, ok := r.Codec(kind)
		if !ok {
			t.Fatalf("no codec for %q", kind)
		}
		if c != openaiCodec {
			t.Errorf("kind %q does not share the OpenAI codec instance", kind)
		}
	}
}

func TestRegistry_NormalizeIn_UnknownKindErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.NormalizeIn([]byte(`{}`), model.ProviderKind("unknown")); err == nil {
		t.Error("expected error for unregistered kind")
	}
}

func TestRegistry_NormalizeIn_DecodesViaRegisteredCodec(t *testing.T) {
	r := NewRegistry()
	req, err := r.NormalizeIn([]byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`), model.ProviderOpenAI)
	if err != nil {
		t.Fatalf("NormalizeIn: %v", err)
	}
	if req.Model != "gpt-4" {
		t.Errorf("Model = %q", req.Model)
	}
}

func TestRegistry_NormalizeOut_UnknownKindErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.NormalizeOut(&model.RequestRecord{}, model.ProviderKind("unknown")); err == nil {
		t.Error("expected error for unregistered kind")
	}
}

func TestRegistry_UpsertLookupRemove(t *testing.T) {
	r := NewRegistry()
	ep := model.ProviderEndpoint{ID: "ep-1", Kind: model.ProviderOpenAI}

	if _, ok := r.Lookup("ep-1"); ok {
		t.Fatal("expected no endpoint before Upsert")
	}
	r.Upsert(ep)
	got, ok := r.Lookup("ep-1")
	if !ok || got.ID != "ep-1" {
		t.Fatalf("Lookup after Upsert: got=%+v ok=%v", got, ok)
	}
	if len(r.All()) != 1 {
		t.Errorf("All() = %+v, want 1 entry", r.All())
	}

	r.Remove("ep-1")
	if _, ok := r.Lookup("ep-1"); ok {
		t.Error("expected endpoint gone after Remove")
	}
}

func TestRegistry_SatisfiesMuxEndpointLookupAndPipelineNormalizer(t *testing.T) {
	r := NewRegistry()
	var _ interface {
		Lookup(id string) (model.ProviderEndpoint, bool)
	} = r
	var _ interface {
		NormalizeIn([]byte, model.ProviderKind) (*model.RequestRecord, error)
		NormalizeOut(*model.RequestRecord, model.ProviderKind) ([]byte, error)
	} = r
}
