package provider

import "github.com/syntax-syndicate/codegate-alt/internal/model"

// CopilotCodec normalizes GitHub Copilot's chat completions API, which is
// wire-compatible with OpenAI's (grounded on the copilot_executor.go
// reference file forwarding to an OpenAI-shaped chat completions endpoint)
// but requires a fixed set of extra headers beyond the Bearer token every
// request must carry, or upstream rejects it outright.
type CopilotCodec struct {
	openai *OpenAICodec
}

func (c *CopilotCodec) DecodeRequest(raw []byte) (*model.RequestRecord, error) {
	return c.openai.DecodeRequest(raw)
}

func (c *CopilotCodec) EncodeRequest(req *model.RequestRecord) ([]byte, error) {
	return c.openai.EncodeRequest(req)
}

func (c *CopilotCodec) DecodeChunk(raw []byte) (model.StreamChunk, bool, error) {
	return c.openai.DecodeChunk(raw)
}

func (c *CopilotCodec) EncodeChunk(chunk model.StreamChunk) ([]byte, error) {
	return c.openai.EncodeChunk(chunk)
}

func (c *CopilotCodec) DecodeFullResponse(raw []byte) (string, error) {
	return c.openai.DecodeFullResponse(raw)
}

func (c *CopilotCodec) EncodeFullResponse(raw []byte, text string) ([]byte, error) {
	return c.openai.EncodeFullResponse(raw, text)
}

// RequiredHeaders returns the fixed header set GitHub Copilot's backend
// requires on every request, beyond the Authorization header the gateway
// already sets from ProviderEndpoint.Auth/APIKey. The gateway's forward path
// type-asserts a Codec against HeaderInjector and applies these before
// RoundTrip.
func (c *CopilotCodec) RequiredHeaders() map[string]string {
	return map[string]string{
		"Editor-Version":          "codegate/1.0.0",
		"Copilot-Integration-Id":  "vscode-chat",
		"OpenAI-Intent":           "conversation-panel",
		"X-GitHub-Api-Version":    "2025-04-01",
	}
}

// HeaderInjector is satisfied by codecs whose upstream requires fixed
// headers beyond standard auth.
type HeaderInjector interface {
	RequiredHeaders() map[string]string
}
