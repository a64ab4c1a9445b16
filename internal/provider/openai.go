package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// OpenAICodec normalizes the OpenAI chat-completions wire format. It is also
// reused, unchanged, for every other OpenAI-compatible kind (llamacpp, vLLM,
// OpenRouter, LM Studio) — they differ only in base URL/auth, not in wire
// shape — and wrapped by OllamaCodec and CopilotCodec for their kind-specific
// quirks.
type OpenAICodec struct{}

// DecodeRequest unmarshals into openai.ChatCompletionRequest for the common
// fields (grounded on backend-go-model-gateway's use of the same struct for
// its own OpenAI calls), then keeps the original bytes for EncodeRequest's
// field surgery.
func (c *OpenAICodec) DecodeRequest(raw []byte) (*model.RequestRecord, error) {
	var wire openai.ChatCompletionRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("openai: decode request: %w", err)
	}

	req := &model.RequestRecord{
		Kind:              model.KindChat,
		Model:             wire.Model,
		Stream:            wire.Stream,
		Stop:              wire.Stop,
		RawProviderFields: cloneBytes(raw),
	}
	if wire.Temperature != 0 {
		t := float64(wire.Temperature)
		req.Temperature = &t
	}
	if wire.MaxTokens != 0 {
		m := wire.MaxTokens
		req.MaxTokens = &m
	}

	for _, msg := range wire.Messages {
		role := model.Role(msg.Role)
		if msg.Role == openai.ChatMessageRoleSystem && req.System == "" {
			req.System = msg.Content
			continue
		}
		req.Messages = append(req.Messages, model.Message{
			Role:  role,
			Parts: model.TextParts(msg.Content),
		})
	}
	return req, nil
}

// EncodeRequest applies the pipeline's mutations (redacted text, an injected
// system message, the mux-resolved model) on top of RawProviderFields via
// sjson field surgery, so every field the pipeline never touched survives
// byte-for-byte — the same technique copilot_executor.go uses before
// forwarding a request upstream. Only a message's "content" string is ever
// rewritten, and only when its text actually changed; tool_calls,
// tool_call_id, name, and multimodal content arrays are never reconstructed,
// so a tool-calling or vision turn with nothing to redact passes through
// untouched.
func (c *OpenAICodec) EncodeRequest(req *model.RequestRecord) ([]byte, error) {
	body := req.RawProviderFields
	if len(body) == 0 {
		return json.Marshal(toOpenAIRequest(req))
	}

	var err error
	body, err = sjson.SetBytes(body, "model", req.Model)
	if err != nil {
		return nil, fmt.Errorf("openai: set model: %w", err)
	}

	logical := openAILogicalMessages(req)
	rawMessages := gjson.GetBytes(body, "messages").Array()

	if len(rawMessages) == 0 {
		messages := make([]openai.ChatCompletionMessage, 0, len(logical))
		for _, msg := range logical {
			messages = append(messages, openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Text()})
		}
		body, err = sjson.SetBytes(body, "messages", messages)
		if err != nil {
			return nil, fmt.Errorf("openai: set messages: %w", err)
		}
		return body, nil
	}

	// systemPromptInjectStep can prepend a brand-new system message when the
	// original request carried neither a system-role message nor a "system"
	// field; it has no raw counterpart, so insert it instead of patching an
	// index that doesn't exist.
	if len(logical) == len(rawMessages)+1 {
		injected, merr := json.Marshal(openai.ChatCompletionMessage{Role: string(logical[0].Role), Content: logical[0].Text()})
		if merr != nil {
			return nil, fmt.Errorf("openai: marshal injected system message: %w", merr)
		}
		raws := make([]string, 0, len(rawMessages)+1)
		raws = append(raws, string(injected))
		for _, m := range rawMessages {
			raws = append(raws, m.Raw)
		}
		body, err = sjson.SetRawBytes(body, "messages", []byte("["+strings.Join(raws, ",")+"]"))
		if err != nil {
			return nil, fmt.Errorf("openai: insert injected system message: %w", err)
		}
		rawMessages = gjson.GetBytes(body, "messages").Array()
	}

	for i, raw := range rawMessages {
		if i >= len(logical) {
			break
		}
		content := raw.Get("content")
		if content.Type != gjson.String && content.Type != gjson.Null {
			continue // multimodal content array (image_url parts, etc.); never rebuilt
		}
		text := logical[i].Text()
		if content.String() == text {
			continue
		}
		path := fmt.Sprintf("messages.%d.content", i)
		body, err = sjson.SetBytes(body, path, text)
		if err != nil {
			return nil, fmt.Errorf("openai: set %s: %w", path, err)
		}
	}
	return body, nil
}

// openAILogicalMessages re-attaches the system prompt DecodeRequest split out
// (if any) as a leading system-role message, the inverse of that split, so
// EncodeRequest can diff position-for-position against the raw "messages"
// array.
func openAILogicalMessages(req *model.RequestRecord) []model.Message {
	logical := make([]model.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		logical = append(logical, model.Message{Role: model.RoleSystem, Parts: model.TextParts(req.System)})
	}
	return append(logical, req.Messages...)
}

func toOpenAIRequest(req *model.RequestRecord) openai.ChatCompletionRequest {
	wire := openai.ChatCompletionRequest{Model: req.Model, Stream: req.Stream, Stop: req.Stop}
	if req.System != "" {
		wire.Messages = append(wire.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		wire.Messages = append(wire.Messages, openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Text()})
	}
	if req.Temperature != nil {
		wire.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		wire.MaxTokens = *req.MaxTokens
	}
	return wire
}

// DecodeChunk parses one OpenAI chat-completions streaming SSE payload
// ("data: {...}"). The "[DONE]" sentinel and any chunk carrying no textual
// delta (a bare role announcement) yield ok=false.
func (c *OpenAICodec) DecodeChunk(raw []byte) (model.StreamChunk, bool, error) {
	if string(raw) == "[DONE]" {
		return model.StreamChunk{}, false, nil
	}
	parsed := gjson.ParseBytes(raw)
	choices := parsed.Get("choices.0")
	if !choices.Exists() {
		return model.StreamChunk{}, false, nil
	}

	chunk := model.StreamChunk{ProviderMeta: map[string]any{"id": parsed.Get("id").String()}}
	if finish := choices.Get("finish_reason"); finish.Exists() && finish.String() != "" {
		chunk.DeltaKind = model.DeltaFinish
		chunk.FinishReason = finish.String()
		return chunk, true, nil
	}

	content := choices.Get("delta.content")
	if !content.Exists() {
		return model.StreamChunk{}, false, nil
	}
	chunk.DeltaKind = model.DeltaPart
	chunk.Delta = model.Part{Kind: model.PartText, Text: content.String()}
	return chunk, true, nil
}

// EncodeChunk re-wraps chunk in the OpenAI chat-completions streaming shape.
func (c *OpenAICodec) EncodeChunk(chunk model.StreamChunk) ([]byte, error) {
	id, _ := chunk.ProviderMeta["id"].(string)
	body := []byte(`{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{}}]}`)
	body, _ = sjson.SetBytes(body, "id", id)

	switch chunk.DeltaKind {
	case model.DeltaFinish:
		body, _ = sjson.SetBytes(body, "choices.0.finish_reason", chunk.FinishReason)
	case model.DeltaPart:
		body, _ = sjson.SetBytes(body, "choices.0.delta.content", chunk.Delta.Text)
	}
	return body, nil
}

// DecodeFullResponse extracts the assistant message text from a
// non-streaming chat.completion body.
func (c *OpenAICodec) DecodeFullResponse(raw []byte) (string, error) {
	parsed := gjson.ParseBytes(raw)
	content := parsed.Get("choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("openai: decode full response: no choices.0.message.content")
	}
	return content.String(), nil
}

// EncodeFullResponse applies text on top of raw's choices.0.message.content,
// leaving every other field (usage, finish_reason, id, ...) untouched.
func (c *OpenAICodec) EncodeFullResponse(raw []byte, text string) ([]byte, error) {
	body, err := sjson.SetBytes(raw, "choices.0.message.content", text)
	if err != nil {
		return nil, fmt.Errorf("openai: set choices.0.message.content: %w", err)
	}
	return body, nil
}
