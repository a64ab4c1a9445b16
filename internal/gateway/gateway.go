// Package gateway is the front door spec.md §2 component (11) describes:
// it accepts per-provider-prefixed clear-HTTP traffic on one port and
// HTTPS-CONNECT/TLS-intercepted traffic on another, and dispatches both into
// the same pipeline.Engine.
//
// Grounded on the teacher's internal/proxy/proxy.go (Server holding a
// *http.Transport built with ProxyFromEnvironment, dispatch split between a
// tunnel path and a forward path, hop-by-hop header stripping before
// RoundTrip) but the routing decision is reworked: the teacher forwarded a
// request to whatever domain the client addressed, deciding only whether to
// anonymize first. Here, the path prefix (or MITM'd SNI host) only selects
// the wire codec used toward the client — the actual upstream
// ProviderEndpoint and model are always decided by pipeline.Engine's
// muxResolveStep, uniformly across every entry point. This mirrors spec.md's
// description of each provider prefix preserving its own native wire shape
// while routing is a workspace-level concern (§4.3), not a prefix-level one.
package gateway

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/syntax-syndicate/codegate-alt/internal/logger"
	"github.com/syntax-syndicate/codegate-alt/internal/metrics"
	"github.com/syntax-syndicate/codegate-alt/internal/mitm"
	"github.com/syntax-syndicate/codegate-alt/internal/model"
	"github.com/syntax-syndicate/codegate-alt/internal/pipeline"
	"github.com/syntax-syndicate/codegate-alt/internal/provider"
	"github.com/syntax-syndicate/codegate-alt/internal/redact"
)

// Providers is the subset of provider.Registry the gateway needs: codec
// dispatch by kind plus endpoint lookup for the auth/base-URL fields a mux
// rule resolved only by ID.
type Providers interface {
	pipeline.Normalizer
	Codec(kind model.ProviderKind) (provider.Codec, bool)
}

// Workspaces is the subset of workspace.Registry the gateway needs to seed
// every request's WorkspaceID/SessionID before running the pipeline.
type Workspaces interface {
	pipeline.WorkspaceLookup
	ActiveWorkspace() (model.Workspace, bool)
	Session() model.Session
}

// prefixKinds maps every clear-HTTP path prefix spec.md §6 lists to the
// ProviderKind whose wire codec should decode/encode traffic at that prefix.
// "/v1/mux/" is the provider-agnostic catch-all entry and defaults to the
// OpenAI-compatible shape, the most common client wire format.
var prefixKinds = map[string]model.ProviderKind{
	"/openai/":     model.ProviderOpenAI,
	"/anthropic/":  model.ProviderAnthropic,
	"/ollama/":     model.ProviderOllama,
	"/vllm/":       model.ProviderVLLM,
	"/llamacpp/":   model.ProviderLlamaCPP,
	"/openrouter/": model.ProviderOpenRouter,
	"/lm-studio/":  model.ProviderLMStudio,
	"/copilot/":    model.ProviderCopilot,
	"/v1/mux/":     model.ProviderOpenAI,
}

// hostKinds maps the SNI/Host a MITM'd HTTPS-only client connects to onto
// the ProviderKind whose wire codec matches what that client speaks
// natively. Copilot is the motivating case (spec.md §1, §4.5): it only ever
// calls api.githubcopilot.com over TLS and can't be pointed at a clear-HTTP
// prefix, so interception is the only way to bring it into the pipeline.
var hostKinds = map[string]model.ProviderKind{
	"api.githubcopilot.com": model.ProviderCopilot,
	"api.openai.com":        model.ProviderOpenAI,
	"api.anthropic.com":     model.ProviderAnthropic,
}

// Server is the gateway front: it owns nothing that outlives a process
// restart itself (the pipeline's own collaborators are long-lived and
// injected), just the HTTP plumbing to reach them.
type Server struct {
	Engine     *pipeline.Engine
	Providers  Providers
	Workspaces Workspaces
	Store      *redact.Store
	Signatures *redact.SignatureCatalog
	PII        *redact.Detector
	Extractor  pipeline.CodeExtractor
	Packages   pipeline.PackageLookup
	Mux        pipeline.MuxResolver
	Audit      pipeline.AuditSink
	Metrics    *metrics.Metrics
	Log        *logger.Logger
	CA         *mitm.CA

	transport *http.Transport
}

// New builds a Server with its own outbound transport, grounded on the
// teacher's New() (ProxyFromEnvironment so a corporate upstream proxy still
// works, generous idle-conn reuse, HTTP/2 attempted for upstreams that speak
// it).
func New() *Server {
	return &Server{
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          200,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// ClearHTTPHandler returns the http.Handler for the clear-HTTP port (spec.md
// §6, 8989 by default): dispatch by path prefix alone, no TLS involved.
func (s *Server) ClearHTTPHandler() http.Handler {
	return http.HandlerFunc(s.serveClearHTTP)
}

func (s *Server) serveClearHTTP(w http.ResponseWriter, r *http.Request) {
	kind, trimmed, ok := matchPrefix(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	r.URL.Path = trimmed
	s.serveRequest(w, r, kind)
}

// matchPrefix finds the longest registered prefix r's path starts with and
// returns the kind it maps to plus the path with that prefix stripped (so
// the remainder, e.g. "chat/completions", still reads the way the upstream
// expects it to for codecs that care about it).
func matchPrefix(path string) (model.ProviderKind, string, bool) {
	var bestPrefix string
	var bestKind model.ProviderKind
	for prefix, kind := range prefixKinds {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestKind = kind
		}
	}
	if bestPrefix == "" {
		return "", "", false
	}
	return bestKind, strings.TrimPrefix(path, bestPrefix), true
}

// kindForHost resolves the ProviderKind a MITM-terminated request's Host
// header implies. Unknown hosts default to the OpenAI-compatible shape,
// since most self-hosted OpenAI-compatible servers are what an operator
// would point a custom CA trust at outside the three well-known hosts above.
func kindForHost(host string) model.ProviderKind {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if kind, ok := hostKinds[host]; ok {
		return kind
	}
	return model.ProviderOpenAI
}
