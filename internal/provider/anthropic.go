package provider

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// AnthropicCodec normalizes the Anthropic Messages API wire format: a
// top-level "system" string (not a message), "messages": [{role, content}],
// and SSE events of several named types rather than one uniform chunk shape.
// Grounded on the teacher's StreamingDeanonymize/AnonymizeJSON, which parsed
// this exact envelope (injectPIIInstruction's "Anthropic: system field"
// branch, "content_block_delta" event handling) — kept here via gjson/sjson
// field surgery instead of the teacher's manual string/byte scanning, since
// the rest of this package already standardizes on that technique.
type AnthropicCodec struct{}

func (c *AnthropicCodec) DecodeRequest(raw []byte) (*model.RequestRecord, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("anthropic: decode request: not a JSON object")
	}

	req := &model.RequestRecord{
		Kind:              model.KindChat,
		Model:             parsed.Get("model").String(),
		Stream:            parsed.Get("stream").Bool(),
		System:            parsed.Get("system").String(),
		RawProviderFields: cloneBytes(raw),
	}
	if t := parsed.Get("temperature"); t.Exists() {
		v := t.Float()
		req.Temperature = &v
	}
	if mt := parsed.Get("max_tokens"); mt.Exists() {
		v := int(mt.Int())
		req.MaxTokens = &v
	}
	if stop := parsed.Get("stop_sequences"); stop.Exists() {
		for _, s := range stop.Array() {
			req.Stop = append(req.Stop, s.String())
		}
	}

	for _, m := range parsed.Get("messages").Array() {
		req.Messages = append(req.Messages, model.Message{
			Role:  model.Role(m.Get("role").String()),
			Parts: anthropicContentToParts(m.Get("content")),
		})
	}
	return req, nil
}

// anthropicContentToParts handles both Anthropic content shapes: a bare
// string, or an array of typed content blocks ({"type":"text","text":...}).
func anthropicContentToParts(content gjson.Result) []model.Part {
	if content.Type == gjson.String {
		return model.TextParts(content.String())
	}
	var parts []model.Part
	for _, block := range content.Array() {
		if block.Get("type").String() == "text" {
			parts = append(parts, model.Part{Kind: model.PartText, Text: block.Get("text").String()})
		}
	}
	return parts
}

// EncodeRequest rewrites only what the pipeline actually changed: "model",
// "system" when non-empty, and a message's "content" string when its text
// differs from the raw request's. A message whose content is a typed block
// array (tool_use, tool_result, image) is left untouched, since its text
// never round-trips through anthropicContentToParts in the first place.
func (c *AnthropicCodec) EncodeRequest(req *model.RequestRecord) ([]byte, error) {
	body := req.RawProviderFields
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	var err error
	body, err = sjson.SetBytes(body, "model", req.Model)
	if err != nil {
		return nil, fmt.Errorf("anthropic: set model: %w", err)
	}
	if req.System != "" {
		body, err = sjson.SetBytes(body, "system", req.System)
		if err != nil {
			return nil, fmt.Errorf("anthropic: set system: %w", err)
		}
	}

	rawMessages := gjson.GetBytes(body, "messages").Array()
	if len(rawMessages) == 0 {
		messages := make([]map[string]any, 0, len(req.Messages))
		for _, msg := range req.Messages {
			messages = append(messages, map[string]any{"role": string(msg.Role), "content": msg.Text()})
		}
		body, err = sjson.SetBytes(body, "messages", messages)
		if err != nil {
			return nil, fmt.Errorf("anthropic: set messages: %w", err)
		}
		return body, nil
	}

	for i, raw := range rawMessages {
		if i >= len(req.Messages) {
			break
		}
		content := raw.Get("content")
		if content.Type != gjson.String && content.Type != gjson.Null {
			continue
		}
		text := req.Messages[i].Text()
		if content.String() == text {
			continue
		}
		path := fmt.Sprintf("messages.%d.content", i)
		body, err = sjson.SetBytes(body, path, text)
		if err != nil {
			return nil, fmt.Errorf("anthropic: set %s: %w", path, err)
		}
	}
	return body, nil
}

// DecodeChunk parses one Anthropic SSE event payload. Only
// "content_block_delta" (text) and "message_delta" (stop_reason) events
// carry anything the pipeline needs; everything else (message_start,
// content_block_start/stop, ping) yields ok=false.
func (c *AnthropicCodec) DecodeChunk(raw []byte) (model.StreamChunk, bool, error) {
	parsed := gjson.ParseBytes(raw)
	switch parsed.Get("type").String() {
	case "content_block_delta":
		text := parsed.Get("delta.text")
		if !text.Exists() {
			return model.StreamChunk{}, false, nil
		}
		return model.StreamChunk{
			DeltaKind: model.DeltaPart,
			Delta:     model.Part{Kind: model.PartText, Text: text.String()},
			ProviderMeta: map[string]any{
				"event": "content_block_delta",
				"index": parsed.Get("index").Int(),
			},
		}, true, nil
	case "message_delta":
		reason := parsed.Get("delta.stop_reason")
		if !reason.Exists() || reason.String() == "" {
			return model.StreamChunk{}, false, nil
		}
		return model.StreamChunk{DeltaKind: model.DeltaFinish, FinishReason: reason.String()}, true, nil
	default:
		return model.StreamChunk{}, false, nil
	}
}

// EncodeChunk re-wraps chunk as an Anthropic "content_block_delta" or
// "message_delta" SSE event payload.
func (c *AnthropicCodec) EncodeChunk(chunk model.StreamChunk) ([]byte, error) {
	switch chunk.DeltaKind {
	case model.DeltaFinish:
		body := []byte(`{"type":"message_delta","delta":{}}`)
		body, _ = sjson.SetBytes(body, "delta.stop_reason", chunk.FinishReason)
		return body, nil
	case model.DeltaPart:
		index := int64(0)
		if v, ok := chunk.ProviderMeta["index"]; ok {
			if i, ok := v.(int64); ok {
				index = i
			}
		}
		body := []byte(`{"type":"content_block_delta","delta":{"type":"text_delta"}}`)
		body, _ = sjson.SetBytes(body, "index", index)
		body, _ = sjson.SetBytes(body, "delta.text", chunk.Delta.Text)
		return body, nil
	default:
		return nil, fmt.Errorf("anthropic: cannot encode chunk of kind %q", chunk.DeltaKind)
	}
}

// DecodeFullResponse extracts the first text content block from a
// non-streaming Messages API response.
func (c *AnthropicCodec) DecodeFullResponse(raw []byte) (string, error) {
	parsed := gjson.ParseBytes(raw)
	for _, block := range parsed.Get("content").Array() {
		if block.Get("type").String() == "text" {
			return block.Get("text").String(), nil
		}
	}
	return "", fmt.Errorf("anthropic: decode full response: no text content block")
}

// EncodeFullResponse applies text on top of raw's first text content block.
func (c *AnthropicCodec) EncodeFullResponse(raw []byte, text string) ([]byte, error) {
	body, err := sjson.SetBytes(raw, "content.0.text", text)
	if err != nil {
		return nil, fmt.Errorf("anthropic: set content.0.text: %w", err)
	}
	return body, nil
}
