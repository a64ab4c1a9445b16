package provider

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

func TestOllamaCodec_DecodeRequest_DefaultsStreamTrue(t *testing.T) {
	c := &OllamaCodec{}
	raw := []byte(`{"model":"llama3","messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hi"}]}`)

	req, err := c.DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if !req.Stream {
		t.Error("expected Stream default to true when field omitted")
	}
	if req.System != "be terse" {
		t.Errorf("System = %q", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Text() != "hi" {
		t.Errorf("Messages = %+v", req.Messages)
	}
}

func TestOllamaCodec_DecodeRequest_ExplicitStreamFalse(t *testing.T) {
	c := &OllamaCodec{}
	raw := []byte(`{"model":"llama3","stream":false,"messages":[{"role":"user","content":"hi"}]}`)
	req, err := c.DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Stream {
		t.Error("expected Stream=false to be honored")
	}
}

func TestOllamaCodec_DecodeRequest_OptionsMapping(t *testing.T) {
	c := &OllamaCodec{}
	raw := []byte(`{"model":"llama3","messages":[],"options":{"temperature":0.4,"num_predict":128}}`)
	req, err := c.DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Temperature == nil || *req.Temperature != 0.4 {
		t.Errorf("Temperature = %v", req.Temperature)
	}
	if req.MaxTokens == nil || *req.MaxTokens != 128 {
		t.Errorf("MaxTokens = %v", req.MaxTokens)
	}
}

func TestOllamaCodec_EncodeRequest_SetsModelAndMessages(t *testing.T) {
	c := &OllamaCodec{}
	req := &model.RequestRecord{
		Model:    "llama3-resolved",
		System:   "sys",
		Messages: []model.Message{{Role: model.RoleUser, Parts: model.TextParts("hi")}},
	}
	out, err := c.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if gjson.GetBytes(out, "model").String() != "llama3-resolved" {
		t.Errorf("got %s", out)
	}
	if gjson.GetBytes(out, "messages.0.role").String() != "system" || gjson.GetBytes(out, "messages.0.content").String() != "sys" {
		t.Errorf("got %s", out)
	}
	if gjson.GetBytes(out, "messages.1.content").String() != "hi" {
		t.Errorf("got %s", out)
	}
}

func TestOllamaCodec_DecodeChunk_ContentLine(t *testing.T) {
	c := &OllamaCodec{}
	raw := []byte(`{"model":"llama3","message":{"role":"assistant","content":"hi"},"done":false}`)
	chunk, ok, err := c.DecodeChunk(raw)
	if err != nil || !ok {
		t.Fatalf("DecodeChunk: ok=%v err=%v", ok, err)
	}
	if chunk.DeltaKind != model.DeltaPart || chunk.Delta.Text != "hi" {
		t.Errorf("got %+v", chunk)
	}
}

func TestOllamaCodec_DecodeChunk_DoneLine(t *testing.T) {
	c := &OllamaCodec{}
	raw := []byte(`{"model":"llama3","done":true,"done_reason":"stop"}`)
	chunk, ok, err := c.DecodeChunk(raw)
	if err != nil || !ok {
		t.Fatalf("DecodeChunk: ok=%v err=%v", ok, err)
	}
	if chunk.DeltaKind != model.DeltaFinish || chunk.FinishReason != "stop" {
		t.Errorf("got %+v", chunk)
	}
}

func TestOllamaCodec_EncodeChunk_RoundTrip(t *testing.T) {
	c := &OllamaCodec{}
	out, err := c.EncodeChunk(model.StreamChunk{DeltaKind: model.DeltaPart, Delta: model.Part{Kind: model.PartText, Text: "hi"}})
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	if gjson.GetBytes(out, "message.content").String() != "hi" {
		t.Errorf("got %s", out)
	}

	out, err = c.EncodeChunk(model.StreamChunk{DeltaKind: model.DeltaFinish, FinishReason: "stop"})
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	if !gjson.GetBytes(out, "done").Bool() || gjson.GetBytes(out, "done_reason").String() != "stop" {
		t.Errorf("got %s", out)
	}
}

func TestOllamaCodec_DecodeFullResponse_ExtractsMessageContent(t *testing.T) {
	c := &OllamaCodec{}
	raw := []byte(`{"model":"qwen2.5-coder:1.5b","message":{"role":"assistant","content":"hello there"},"done":true}`)
	text, err := c.DecodeFullResponse(raw)
	if err != nil {
		t.Fatalf("DecodeFullResponse: %v", err)
	}
	if text != "hello there" {
		t.Errorf("got %q", text)
	}
}

func TestOllamaCodec_DecodeFullResponse_ErrorsWithoutContent(t *testing.T) {
	c := &OllamaCodec{}
	if _, err := c.DecodeFullResponse([]byte(`{"done":true}`)); err == nil {
		t.Error("expected error for missing message.content")
	}
}

func TestOllamaCodec_EncodeFullResponse_PreservesUntouchedFields(t *testing.T) {
	c := &OllamaCodec{}
	raw := []byte(`{"model":"qwen2.5-coder:1.5b","done":true,"message":{"role":"assistant","content":"secret-token-abc"}}`)
	out, err := c.EncodeFullResponse(raw, "[REDACTED]")
	if err != nil {
		t.Fatalf("EncodeFullResponse: %v", err)
	}
	if gjson.GetBytes(out, "message.content").String() != "[REDACTED]" {
		t.Errorf("got %s", out)
	}
	if gjson.GetBytes(out, "model").String() != "qwen2.5-coder:1.5b" {
		t.Errorf("model not preserved: %s", out)
	}
}
