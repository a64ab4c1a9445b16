package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// OllamaCodec normalizes Ollama's native /api/chat wire format: a flat
// {model, messages: [{role, content}], stream} request and NDJSON response
// lines ({"message":{"role":"assistant","content":"..."},"done":bool})
// rather than OpenAI's SSE framing. It embeds a reference to the OpenAI
// codec only so a future /v1/chat/completions-compatible Ollama deployment
// (recent Ollama releases expose this alongside the native API) can reuse
// it without another registry entry; DecodeRequest/EncodeRequest always use
// the native shape since that's what spec.md's Ollama kind targets.
type OllamaCodec struct {
	openai *OpenAICodec
}

func (c *OllamaCodec) DecodeRequest(raw []byte) (*model.RequestRecord, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("ollama: decode request: not a JSON object")
	}
	req := &model.RequestRecord{
		Kind:              model.KindChat,
		Model:             parsed.Get("model").String(),
		Stream:            !parsed.Get("stream").Exists() || parsed.Get("stream").Bool(), // Ollama defaults stream=true
		RawProviderFields: cloneBytes(raw),
	}
	if opts := parsed.Get("options"); opts.Exists() {
		if t := opts.Get("temperature"); t.Exists() {
			v := t.Float()
			req.Temperature = &v
		}
		if n := opts.Get("num_predict"); n.Exists() {
			v := int(n.Int())
			req.MaxTokens = &v
		}
	}
	for _, m := range parsed.Get("messages").Array() {
		role := model.Role(m.Get("role").String())
		if role == model.RoleSystem && req.System == "" {
			req.System = m.Get("content").String()
			continue
		}
		req.Messages = append(req.Messages, model.Message{Role: role, Parts: model.TextParts(m.Get("content").String())})
	}
	return req, nil
}

// EncodeRequest only rewrites a message's "content" string when its text
// actually changed, leaving every other field of an untouched message (and
// the whole message, if nothing in it changed) byte-identical to the raw
// request — see OpenAICodec.EncodeRequest, which this mirrors.
func (c *OllamaCodec) EncodeRequest(req *model.RequestRecord) ([]byte, error) {
	body := req.RawProviderFields
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	var err error
	body, err = sjson.SetBytes(body, "model", req.Model)
	if err != nil {
		return nil, fmt.Errorf("ollama: set model: %w", err)
	}

	logical := ollamaLogicalMessages(req)
	rawMessages := gjson.GetBytes(body, "messages").Array()

	if len(rawMessages) == 0 {
		messages := make([]map[string]any, 0, len(logical))
		for _, msg := range logical {
			messages = append(messages, map[string]any{"role": string(msg.Role), "content": msg.Text()})
		}
		body, err = sjson.SetBytes(body, "messages", messages)
		if err != nil {
			return nil, fmt.Errorf("ollama: set messages: %w", err)
		}
		return body, nil
	}

	if len(logical) == len(rawMessages)+1 {
		injected, merr := json.Marshal(map[string]any{"role": string(logical[0].Role), "content": logical[0].Text()})
		if merr != nil {
			return nil, fmt.Errorf("ollama: marshal injected system message: %w", merr)
		}
		raws := make([]string, 0, len(rawMessages)+1)
		raws = append(raws, string(injected))
		for _, m := range rawMessages {
			raws = append(raws, m.Raw)
		}
		body, err = sjson.SetRawBytes(body, "messages", []byte("["+strings.Join(raws, ",")+"]"))
		if err != nil {
			return nil, fmt.Errorf("ollama: insert injected system message: %w", err)
		}
		rawMessages = gjson.GetBytes(body, "messages").Array()
	}

	for i, raw := range rawMessages {
		if i >= len(logical) {
			break
		}
		content := raw.Get("content")
		if content.Type != gjson.String && content.Type != gjson.Null {
			continue
		}
		text := logical[i].Text()
		if content.String() == text {
			continue
		}
		path := fmt.Sprintf("messages.%d.content", i)
		body, err = sjson.SetBytes(body, path, text)
		if err != nil {
			return nil, fmt.Errorf("ollama: set %s: %w", path, err)
		}
	}
	return body, nil
}

// ollamaLogicalMessages re-attaches the system prompt DecodeRequest split out
// (if any) as a leading system-role message, so EncodeRequest can diff
// position-for-position against the raw "messages" array.
func ollamaLogicalMessages(req *model.RequestRecord) []model.Message {
	logical := make([]model.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		logical = append(logical, model.Message{Role: model.RoleSystem, Parts: model.TextParts(req.System)})
	}
	return append(logical, req.Messages...)
}

// DecodeChunk parses one NDJSON line of an Ollama /api/chat stream.
func (c *OllamaCodec) DecodeChunk(raw []byte) (model.StreamChunk, bool, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return model.StreamChunk{}, false, nil
	}
	if parsed.Get("done").Bool() {
		reason := parsed.Get("done_reason").String()
		if reason == "" {
			reason = "stop"
		}
		return model.StreamChunk{DeltaKind: model.DeltaFinish, FinishReason: reason}, true, nil
	}
	content := parsed.Get("message.content")
	if !content.Exists() || content.String() == "" {
		return model.StreamChunk{}, false, nil
	}
	return model.StreamChunk{
		DeltaKind: model.DeltaPart,
		Delta:     model.Part{Kind: model.PartText, Text: content.String()},
	}, true, nil
}

// EncodeChunk re-wraps chunk as one Ollama NDJSON response line.
func (c *OllamaCodec) EncodeChunk(chunk model.StreamChunk) ([]byte, error) {
	switch chunk.DeltaKind {
	case model.DeltaFinish:
		body := []byte(`{"done":true}`)
		body, _ = sjson.SetBytes(body, "done_reason", chunk.FinishReason)
		return body, nil
	case model.DeltaPart:
		body := []byte(`{"done":false,"message":{"role":"assistant"}}`)
		body, _ = sjson.SetBytes(body, "message.content", chunk.Delta.Text)
		return body, nil
	default:
		return nil, fmt.Errorf("ollama: cannot encode chunk of kind %q", chunk.DeltaKind)
	}
}

// DecodeFullResponse extracts the assistant message text from a
// non-streaming /api/chat response.
func (c *OllamaCodec) DecodeFullResponse(raw []byte) (string, error) {
	parsed := gjson.ParseBytes(raw)
	content := parsed.Get("message.content")
	if !content.Exists() {
		return "", fmt.Errorf("ollama: decode full response: no message.content")
	}
	return content.String(), nil
}

// EncodeFullResponse applies text on top of raw's message.content.
func (c *OllamaCodec) EncodeFullResponse(raw []byte, text string) ([]byte, error) {
	body, err := sjson.SetBytes(raw, "message.content", text)
	if err != nil {
		return nil, fmt.Errorf("ollama: set message.content: %w", err)
	}
	return body, nil
}
