package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
	"github.com/syntax-syndicate/codegate-alt/internal/pipeline"
	"github.com/syntax-syndicate/codegate-alt/internal/provider"
)

// serveRequest is the shared core both the clear-HTTP and MITM'd-HTTPS entry
// points funnel into. inboundKind is only ever used to pick the codec that
// talks to the client — the decode at the top and the two encode paths at
// the bottom (ReplyNow and the real upstream response) all use it, while the
// upstream call itself always goes through whatever ctx.Provider the
// pipeline's mux_resolve step decides, independent of how the client framed
// the request.
func (s *Server) serveRequest(w http.ResponseWriter, r *http.Request, inboundKind model.ProviderKind) {
	inboundCodec, ok := s.Providers.Codec(inboundKind)
	if !ok {
		http.Error(w, fmt.Sprintf("gateway: no codec for %q", inboundKind), http.StatusBadGateway)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	r.Body.Close() //nolint:errcheck // best-effort close, request is already fully read

	req, err := s.Providers.NormalizeIn(raw, inboundKind)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid %s request: %v", inboundKind, err), http.StatusBadRequest)
		return
	}

	ws, ok := s.Workspaces.ActiveWorkspace()
	if !ok {
		http.Error(w, "gateway: no active workspace", http.StatusInternalServerError)
		return
	}
	session := s.Workspaces.Session()
	req.WorkspaceID = ws.ID
	req.SessionID = session.ID

	ctx := &pipeline.Context{
		Ctx:         r.Context(),
		SessionID:   session.ID,
		WorkspaceID: ws.ID,
		Request:     req,
		RawBody:     raw,
		Store:       s.Store,
		Signatures:  s.Signatures,
		PII:         s.PII,
		Extractor:   s.Extractor,
		Packages:    s.Packages,
		Workspaces:  s.Workspaces,
		Mux:         s.Mux,
		Normalize:   s.Providers,
		Audit:       s.Audit,
		Metrics:     s.Metrics,
		Log:         s.Log,
		PromptID:    uuid.NewString(),
	}

	outcome := s.Engine.RunRequest(ctx)
	switch outcome.Kind {
	case pipeline.Abort:
		s.Log.Errorf("request_abort", "prompt_id=%s err=%v", ctx.PromptID, outcome.Err)
		http.Error(w, outcome.Err.Error(), http.StatusBadGateway)
		return
	case pipeline.ReplyNow:
		s.writeReplyNow(w, ctx, inboundKind, inboundCodec, outcome.Reply)
		return
	}

	ctx.Request.Model = ctx.Model
	s.persistPrompt(ctx, ctx.Request)

	upstreamCodec, ok := s.Providers.Codec(ctx.Provider.Kind)
	if !ok {
		http.Error(w, fmt.Sprintf("gateway: no codec for upstream kind %q", ctx.Provider.Kind), http.StatusBadGateway)
		return
	}

	outBody, err := s.Providers.NormalizeOut(ctx.Request, ctx.Provider.Kind)
	if err != nil {
		http.Error(w, fmt.Sprintf("gateway: encode upstream request: %v", err), http.StatusInternalServerError)
		return
	}

	upstreamReq, err := s.buildUpstreamRequest(ctx, upstreamCodec, outBody)
	if err != nil {
		http.Error(w, fmt.Sprintf("gateway: build upstream request: %v", err), http.StatusInternalServerError)
		return
	}

	resp, err := s.transport.RoundTrip(upstreamReq)
	if err != nil {
		if ctx.Metrics != nil {
			ctx.Metrics.ErrorsUpstream.Inc()
		}
		http.Error(w, fmt.Sprintf("gateway: upstream request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close after streaming/reading the body

	if resp.StatusCode >= http.StatusBadRequest {
		s.passThroughError(w, resp)
		return
	}

	if ctx.Request.Stream {
		s.streamResponse(w, ctx, resp, upstreamCodec, inboundKind, inboundCodec)
		return
	}
	s.fullResponse(w, ctx, resp, upstreamCodec, inboundCodec)
}

// persistPrompt logs the post-redaction, mux-resolved request. A failure
// here never blocks request delivery (spec.md §5) — only logged.
func (s *Server) persistPrompt(ctx *pipeline.Context, req *model.RequestRecord) {
	if ctx.Audit == nil {
		return
	}
	body, err := json.Marshal(req)
	if err != nil {
		ctx.Log.Errorf("persist_prompt_marshal", "prompt_id=%s err=%v", ctx.PromptID, err)
		return
	}
	rec := model.PromptRecord{
		ID:          ctx.PromptID,
		WorkspaceID: ctx.WorkspaceID,
		Timestamp:   time.Now(),
		Provider:    string(ctx.Provider.Kind),
		Request:     body,
		Type:        string(req.Kind),
	}
	if err := ctx.Audit.PersistPrompt(rec); err != nil {
		ctx.Log.Errorf("persist_prompt", "prompt_id=%s err=%v", ctx.PromptID, err)
	}
}

// writeReplyNow answers the client with the synthetic assistant message the
// malicious-package-check step built, without ever calling upstream.
func (s *Server) writeReplyNow(w http.ResponseWriter, ctx *pipeline.Context, inboundKind model.ProviderKind, codec provider.Codec, reply *model.RequestRecord) {
	var text string
	if n := len(reply.Messages); n > 0 {
		text = reply.Messages[n-1].Text()
	}
	s.persistPrompt(ctx, reply)
	if ctx.Audit != nil {
		if err := ctx.Audit.PersistOutput(model.OutputRecord{
			ID:        uuid.NewString(),
			PromptID:  ctx.PromptID,
			Timestamp: time.Now(),
			Output:    []byte(text),
		}); err != nil {
			ctx.Log.Errorf("persist_output", "prompt_id=%s err=%v", ctx.PromptID, err)
		}
	}

	if !reply.Stream {
		body, err := codec.EncodeFullResponse([]byte(`{}`), text)
		if err != nil {
			http.Error(w, fmt.Sprintf("gateway: encode reply: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body) //nolint:errcheck // client disconnect mid-write is not actionable
		return
	}

	framing := provider.FramingFor(inboundKind)
	w.Header().Set("Content-Type", contentTypeFor(framing))
	flusher, _ := w.(http.Flusher)
	for _, chunk := range []model.StreamChunk{
		{DeltaKind: model.DeltaPart, Delta: model.Part{Kind: model.PartText, Text: text}},
		{DeltaKind: model.DeltaFinish, FinishReason: "stop"},
	} {
		encoded, err := codec.EncodeChunk(chunk)
		if err != nil {
			continue
		}
		w.Write(wrapFrame(framing, encoded)) //nolint:errcheck // client disconnect mid-write is not actionable
		if flusher != nil {
			flusher.Flush()
		}
	}
	if framing == provider.FramingSSE {
		w.Write(terminalSSEFrame) //nolint:errcheck // client disconnect mid-write is not actionable
	}
}

// buildUpstreamRequest builds the outbound HTTP request for ctx.Provider,
// applying auth per its ProviderAuthKind and any fixed headers the upstream
// codec requires (Copilot's HeaderInjector).
func (s *Server) buildUpstreamRequest(ctx *pipeline.Context, codec provider.Codec, body []byte) (*http.Request, error) {
	url := strings.TrimRight(ctx.Provider.BaseURL, "/") + provider.EndpointPath(ctx.Provider.Kind)
	req, err := http.NewRequestWithContext(ctx.Ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	applyAuth(req, ctx.Provider)
	if injector, ok := codec.(provider.HeaderInjector); ok {
		for k, v := range injector.RequiredHeaders() {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

// applyAuth sets the credential header(s) a ProviderEndpoint's auth kind
// requires. Anthropic's Messages API takes its key in x-api-key rather than
// Authorization, alongside the anthropic-version header every request needs;
// every other kind uses a plain bearer token.
func applyAuth(req *http.Request, ep model.ProviderEndpoint) {
	switch ep.Auth {
	case model.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	case model.AuthAPIKey:
		if ep.Kind == model.ProviderAnthropic {
			req.Header.Set("x-api-key", ep.APIKey)
			req.Header.Set("anthropic-version", "2023-06-01")
			return
		}
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	case model.AuthNone:
	}
}

// passThroughError relays an upstream error response verbatim; there is no
// assistant text in an error body to redact or unredact.
func (s *Server) passThroughError(w http.ResponseWriter, resp *http.Response) {
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body) //nolint:errcheck // client disconnect mid-write is not actionable
}

// contentTypeFor returns the response Content-Type matching framing.
func contentTypeFor(framing provider.Framing) string {
	if framing == provider.FramingNDJSON {
		return "application/x-ndjson"
	}
	return "text/event-stream"
}
