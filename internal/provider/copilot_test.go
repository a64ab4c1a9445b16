package provider

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

func TestCopilotCodec_DelegatesToOpenAICodec(t *testing.T) {
	c := &CopilotCodec{openai: &OpenAICodec{}}

	raw := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	req, err := c.DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if len(req.Messages) != 1 || req.Messages[0].Text() != "hi" {
		t.Errorf("Messages = %+v", req.Messages)
	}

	out, err := c.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if len(out) == 0 {
		t.Error("EncodeRequest returned empty body")
	}

	chunk, ok, err := c.DecodeChunk([]byte(`{"id":"x","choices":[{"delta":{"content":"hi"}}]}`))
	if err != nil || !ok || chunk.Delta.Text != "hi" {
		t.Errorf("DecodeChunk: chunk=%+v ok=%v err=%v", chunk, ok, err)
	}

	encoded, err := c.EncodeChunk(model.StreamChunk{DeltaKind: model.DeltaPart, Delta: model.Part{Kind: model.PartText, Text: "hi"}})
	if err != nil || len(encoded) == 0 {
		t.Errorf("EncodeChunk: err=%v out=%s", err, encoded)
	}
}

func TestCopilotCodec_RequiredHeaders(t *testing.T) {
	c := &CopilotCodec{openai: &OpenAICodec{}}
	headers := c.RequiredHeaders()

	for _, key := range []string{"Editor-Version", "Copilot-Integration-Id", "OpenAI-Intent", "X-GitHub-Api-Version"} {
		if headers[key] == "" {
			t.Errorf("missing required header %q", key)
		}
	}
}

func TestCopilotCodec_SatisfiesHeaderInjector(t *testing.T) {
	var _ HeaderInjector = &CopilotCodec{openai: &OpenAICodec{}}
}

func TestCopilotCodec_DecodeFullResponse_DelegatesToOpenAI(t *testing.T) {
	c := &CopilotCodec{openai: &OpenAICodec{}}
	raw := []byte(`{"id":"chatcmpl-1","choices":[{"message":{"role":"assistant","content":"hello there"}}]}`)
	text, err := c.DecodeFullResponse(raw)
	if err != nil {
		t.Fatalf("DecodeFullResponse: %v", err)
	}
	if text != "hello there" {
		t.Errorf("got %q", text)
	}
}

func TestCopilotCodec_EncodeFullResponse_DelegatesToOpenAI(t *testing.T) {
	c := &CopilotCodec{openai: &OpenAICodec{}}
	raw := []byte(`{"id":"chatcmpl-1","choices":[{"message":{"role":"assistant","content":"secret-token-abc"}}]}`)
	out, err := c.EncodeFullResponse(raw, "[REDACTED]")
	if err != nil {
		t.Fatalf("EncodeFullResponse: %v", err)
	}
	if gjson.GetBytes(out, "choices.0.message.content").String() != "[REDACTED]" {
		t.Errorf("got %s", out)
	}
}
