package provider

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

func TestOpenAICodec_DecodeRequest_SplitsSystemMessage(t *testing.T) {
	c := &OpenAICodec{}
	raw := []byte(`{"model":"gpt-4","stream":true,"messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hi"}]}`)

	req, err := c.DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.System != "be terse" {
		t.Errorf("System = %q, want %q", req.System, "be terse")
	}
	if len(req.Messages) != 1 || req.Messages[0].Text() != "hi" {
		t.Errorf("Messages = %+v", req.Messages)
	}
	if req.Model != "gpt-4" || !req.Stream {
		t.Errorf("Model/Stream not carried through: %q %v", req.Model, req.Stream)
	}
}

func TestOpenAICodec_EncodeRequest_PreservesUntouchedFields(t *testing.T) {
	c := &OpenAICodec{}
	raw := []byte(`{"model":"gpt-4","temperature":0.2,"messages":[{"role":"user","content":"hi"}]}`)
	req, err := c.DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}

	req.Messages[0].Parts[0].Text = "REDACTED"
	req.Model = "gpt-4-resolved"

	out, err := c.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	parsed := gjson.ParseBytes(out)
	if parsed.Get("temperature").Float() != 0.2 {
		t.Errorf("temperature not preserved: %v", parsed.Get("temperature"))
	}
	if parsed.Get("model").String() != "gpt-4-resolved" {
		t.Errorf("model not updated: %v", parsed.Get("model"))
	}
	if parsed.Get("messages.0.content").String() != "REDACTED" {
		t.Errorf("message content not updated: %v", parsed.Get("messages.0.content"))
	}
}

func TestOpenAICodec_DecodeChunk_TextDelta(t *testing.T) {
	c := &OpenAICodec{}
	raw := []byte(`{"id":"chatcmpl-1","choices":[{"delta":{"content":"hello"}}]}`)
	chunk, ok, err := c.DecodeChunk(raw)
	if err != nil || !ok {
		t.Fatalf("DecodeChunk: ok=%v err=%v", ok, err)
	}
	if chunk.DeltaKind != model.DeltaPart || chunk.Delta.Text != "hello" {
		t.Errorf("got %+v", chunk)
	}
}

func TestOpenAICodec_DecodeChunk_FinishReason(t *testing.T) {
	c := &OpenAICodec{}
	raw := []byte(`{"id":"chatcmpl-1","choices":[{"delta":{},"finish_reason":"stop"}]}`)
	chunk, ok, err := c.DecodeChunk(raw)
	if err != nil || !ok {
		t.Fatalf("DecodeChunk: ok=%v err=%v", ok, err)
	}
	if chunk.DeltaKind != model.DeltaFinish || chunk.FinishReason != "stop" {
		t.Errorf("got %+v", chunk)
	}
}

func TestOpenAICodec_DecodeChunk_DoneSentinelIgnored(t *testing.T) {
	c := &OpenAICodec{}
	_, ok, err := c.DecodeChunk([]byte("[DONE]"))
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if ok {
		t.Error("expected [DONE] to yield ok=false")
	}
}

func TestOpenAICodec_EncodeChunk_RoundTripsTextDelta(t *testing.T) {
	c := &OpenAICodec{}
	chunk := model.StreamChunk{
		DeltaKind:    model.DeltaPart,
		Delta:        model.Part{Kind: model.PartText, Text: "hi"},
		ProviderMeta: map[string]any{"id": "chatcmpl-1"},
	}
	out, err := c.EncodeChunk(chunk)
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid JSON produced: %v", err)
	}
	if gjson.GetBytes(out, "choices.0.delta.content").String() != "hi" {
		t.Errorf("got %s", out)
	}
	if gjson.GetBytes(out, "id").String() != "chatcmpl-1" {
		t.Errorf("got %s", out)
	}
}

func TestOpenAICodec_DecodeFullResponse_ExtractsMessageContent(t *testing.T) {
	c := &OpenAICodec{}
	raw := []byte(`{"id":"chatcmpl-1","choices":[{"message":{"role":"assistant","content":"hello there"}}]}`)
	text, err := c.DecodeFullResponse(raw)
	if err != nil {
		t.Fatalf("DecodeFullResponse: %v", err)
	}
	if text != "hello there" {
		t.Errorf("got %q", text)
	}
}

func TestOpenAICodec_DecodeFullResponse_ErrorsWithoutContent(t *testing.T) {
	c := &OpenAICodec{}
	if _, err := c.DecodeFullResponse([]byte(`{"id":"chatcmpl-1"}`)); err == nil {
		t.Error("expected error for missing choices.0.message.content")
	}
}

func TestOpenAICodec_EncodeFullResponse_PreservesUntouchedFields(t *testing.T) {
	c := &OpenAICodec{}
	raw := []byte(`{"id":"chatcmpl-1","usage":{"total_tokens":42},"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"secret-token-abc"}}]}`)
	out, err := c.EncodeFullResponse(raw, "[REDACTED]")
	if err != nil {
		t.Fatalf("EncodeFullResponse: %v", err)
	}
	if gjson.GetBytes(out, "choices.0.message.content").String() != "[REDACTED]" {
		t.Errorf("got %s", out)
	}
	if gjson.GetBytes(out, "usage.total_tokens").Int() != 42 {
		t.Errorf("usage not preserved: %s", out)
	}
	if gjson.GetBytes(out, "choices.0.finish_reason").String() != "stop" {
		t.Errorf("finish_reason not preserved: %s", out)
	}
}
