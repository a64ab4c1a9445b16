package gateway

import (
	"bufio"
	"io"
	"net/http"
	"strings"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
	"github.com/syntax-syndicate/codegate-alt/internal/pipeline"
	"github.com/syntax-syndicate/codegate-alt/internal/provider"
)

// terminalSSEFrame is the sentinel event every OpenAI/Anthropic-shaped SSE
// stream ends on; clients key their read loop off seeing it.
var terminalSSEFrame = []byte("data: [DONE]\n\n")

// wrapFrame re-applies the wire framing a provider kind expects around one
// already-encoded chunk payload.
func wrapFrame(framing provider.Framing, payload []byte) []byte {
	if framing == provider.FramingNDJSON {
		return append(append([]byte{}, payload...), '\n')
	}
	out := make([]byte, 0, len(payload)+8)
	out = append(out, []byte("data: ")...)
	out = append(out, payload...)
	out = append(out, '\n', '\n')
	return out
}

// iterateFrames splits body per framing and calls yield with each frame's
// payload, stopping early if yield returns false. It honors cancellation on
// done by closing body from a side goroutine, so a blocked Read unblocks
// within one read cycle the way spec.md's cancellation model requires.
func iterateFrames(done <-chan struct{}, body io.ReadCloser, framing provider.Framing, yield func(raw []byte) bool) {
	closeOnce := make(chan struct{})
	go func() {
		select {
		case <-done:
			body.Close() //nolint:errcheck // unblocks the scanner below on cancellation
		case <-closeOnce:
		}
	}()
	defer close(closeOnce)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch framing {
		case provider.FramingNDJSON:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !yield([]byte(line)) {
				return
			}
		default: // FramingSSE
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				return
			}
			if !yield([]byte(payload)) {
				return
			}
		}
	}
}

// streamResponse splits resp.Body into upstream frames, decodes each with
// upstreamCodec, runs it through the response pipeline, re-encodes every
// resulting chunk with the codec the client actually speaks, and flushes
// each one downstream as it's produced.
func (s *Server) streamResponse(w http.ResponseWriter, ctx *pipeline.Context, resp *http.Response, upstreamCodec provider.Codec, inboundKind model.ProviderKind, inboundCodec provider.Codec) {
	outFraming := provider.FramingFor(inboundKind)
	w.Header().Set("Content-Type", contentTypeFor(outFraming))
	w.WriteHeader(resp.StatusCode)
	flusher, _ := w.(http.Flusher)

	iterateFrames(ctx.Ctx.Done(), resp.Body, provider.FramingFor(ctx.Provider.Kind), func(raw []byte) bool {
		chunk, ok, err := upstreamCodec.DecodeChunk(raw)
		if err != nil {
			ctx.Log.Errorf("decode_chunk", "prompt_id=%s err=%v", ctx.PromptID, err)
			return true
		}
		if !ok {
			return true
		}
		for _, out := range s.Engine.RunResponse(ctx, chunk) {
			encoded, err := inboundCodec.EncodeChunk(out)
			if err != nil {
				ctx.Log.Errorf("encode_chunk", "prompt_id=%s err=%v", ctx.PromptID, err)
				continue
			}
			w.Write(wrapFrame(outFraming, encoded)) //nolint:errcheck // client disconnect mid-write is not actionable
			if flusher != nil {
				flusher.Flush()
			}
		}
		return true
	})

	if outFraming == provider.FramingSSE {
		w.Write(terminalSSEFrame) //nolint:errcheck // client disconnect mid-write is not actionable
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// fullResponse handles a stream:false request: decode the whole upstream
// body to text, run it through the response pipeline as a single
// part-then-finish pair (the same unredact/alert/persist steps a streamed
// response gets, just collapsed to one call each), and re-encode fresh in
// the client's own shape. The result is always built from an empty skeleton
// rather than the upstream's raw bytes, since the inbound and upstream kinds
// can differ — field surgery against the wrong schema would leave a body
// that mixes two providers' envelopes.
func (s *Server) fullResponse(w http.ResponseWriter, ctx *pipeline.Context, resp *http.Response, upstreamCodec, inboundCodec provider.Codec) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "gateway: failed to read upstream response", http.StatusBadGateway)
		return
	}

	text, err := upstreamCodec.DecodeFullResponse(raw)
	if err != nil {
		ctx.Log.Errorf("decode_full_response", "prompt_id=%s err=%v", ctx.PromptID, err)
		http.Error(w, "gateway: failed to decode upstream response", http.StatusBadGateway)
		return
	}

	var rewritten strings.Builder
	partChunk := model.StreamChunk{DeltaKind: model.DeltaPart, Delta: model.Part{Kind: model.PartText, Text: text}}
	for _, out := range s.Engine.RunResponse(ctx, partChunk) {
		if out.DeltaKind == model.DeltaPart {
			rewritten.WriteString(out.Delta.Text)
		}
	}
	finishChunk := model.StreamChunk{DeltaKind: model.DeltaFinish, FinishReason: "stop"}
	for _, out := range s.Engine.RunResponse(ctx, finishChunk) {
		if out.DeltaKind == model.DeltaPart {
			rewritten.WriteString(out.Delta.Text)
		}
	}

	body, err := inboundCodec.EncodeFullResponse([]byte(`{}`), rewritten.String())
	if err != nil {
		http.Error(w, "gateway: failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body) //nolint:errcheck // client disconnect mid-write is not actionable
}
