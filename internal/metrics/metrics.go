// Package metrics provides the gateway's runtime counters and latency
// statistics, registered with a Prometheus registry and exposed at
// GET /metrics on the management port, plus a lighter JSON Snapshot for
// the GET /status-style endpoint.
//
// Counters are Prometheus primitives so the hot paths (request handling,
// token substitution) get the library's own low-contention counter
// increments rather than a hand-rolled atomic wrapper. Latency statistics
// keep a single mutex per dimension, updated at most once per request.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Metrics holds all runtime counters for a running gateway instance.
// Use New to obtain one wired to a dedicated Prometheus registry.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal       prometheus.Counter
	RequestsRedacted    prometheus.Counter
	RequestsPassthrough prometheus.Counter
	RequestsBlocked     prometheus.Counter

	ErrorsUpstream  prometheus.Counter
	ErrorsRedaction prometheus.Counter

	TokensReplaced     prometheus.Counter
	TokensDeanonymized prometheus.Counter

	OllamaDispatches prometheus.Counter
	OllamaErrors     prometheus.Counter
	CacheFallbacks   prometheus.Counter

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	redactionsByKind *prometheus.CounterVec
	packageAlerts    *prometheus.CounterVec

	anonMu   sync.Mutex
	anonStat latencyStats

	upstreamMu   sync.Mutex
	upstreamStat latencyStats

	// cacheHitN/cacheMissN mirror the CounterVec increments into a plain
	// per-subtype map: CounterVec has no cheap "current values" read, and
	// Snapshot must omit zero-count subtypes.
	cacheMu    sync.Mutex
	cacheHitN  map[string]int64
	cacheMissN map[string]int64

	startTime time.Time
}

// New returns a new Metrics with its own Prometheus registry and the start
// time recorded.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry:  reg,
		startTime: time.Now(),

		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_requests_total", Help: "Total requests handled.",
		}),
		RequestsRedacted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_requests_redacted_total", Help: "Requests with at least one redaction.",
		}),
		RequestsPassthrough: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_requests_passthrough_total", Help: "Requests forwarded unmodified.",
		}),
		RequestsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_requests_blocked_total", Help: "Requests short-circuited by a policy block.",
		}),
		ErrorsUpstream: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_errors_upstream_total", Help: "Upstream call failures.",
		}),
		ErrorsRedaction: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_errors_redaction_total", Help: "Redaction step failures.",
		}),
		TokensReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_tokens_replaced_total", Help: "Literals replaced with placeholders.",
		}),
		TokensDeanonymized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_tokens_restored_total", Help: "Placeholders restored to literals in responses.",
		}),
		OllamaDispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_pii_ollama_dispatches_total", Help: "Async PII classification calls dispatched.",
		}),
		OllamaErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_pii_ollama_errors_total", Help: "Async PII classification call failures.",
		}),
		CacheFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codegate_pii_cache_fallback_total", Help: "Low-confidence matches tokenized before classification completed.",
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codegate_pii_cache_hits_total", Help: "PII classification cache hits by subtype.",
		}, []string{"subtype"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codegate_pii_cache_misses_total", Help: "PII classification cache misses by subtype.",
		}, []string{"subtype"}),
		redactionsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codegate_redactions_total", Help: "Placeholders minted, by origin and subtype.",
		}, []string{"origin", "subtype"}),
		packageAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codegate_package_alerts_total", Help: "Package-intelligence alerts raised, by trigger type.",
		}, []string{"trigger"}),
		cacheHitN:  make(map[string]int64),
		cacheMissN: make(map[string]int64),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestsRedacted, m.RequestsPassthrough, m.RequestsBlocked,
		m.ErrorsUpstream, m.ErrorsRedaction,
		m.TokensReplaced, m.TokensDeanonymized,
		m.OllamaDispatches, m.OllamaErrors, m.CacheFallbacks,
		m.cacheHits, m.cacheMisses,
		m.redactionsByKind, m.packageAlerts,
	)
	return m
}

// RecordCacheHit records a PII-classification cache hit for the given subtype
// (e.g. "email", "phone"). Empty subtypes are ignored.
func (m *Metrics) RecordCacheHit(subtype string) {
	if subtype == "" {
		return
	}
	m.cacheHits.WithLabelValues(subtype).Inc()
	m.cacheMu.Lock()
	m.cacheHitN[subtype]++
	m.cacheMu.Unlock()
}

// RecordCacheMiss records a PII-classification cache miss for the given subtype.
func (m *Metrics) RecordCacheMiss(subtype string) {
	if subtype == "" {
		return
	}
	m.cacheMisses.WithLabelValues(subtype).Inc()
	m.cacheMu.Lock()
	m.cacheMissN[subtype]++
	m.cacheMu.Unlock()
}

// AddOllamaDispatch records one async PII classification call dispatched to Ollama.
func (m *Metrics) AddOllamaDispatch() { m.OllamaDispatches.Inc() }

// AddOllamaError records one failed async PII classification call.
func (m *Metrics) AddOllamaError() { m.OllamaErrors.Inc() }

// AddCacheFallback records one low-confidence match tokenized before its
// Ollama classification completed.
func (m *Metrics) AddCacheFallback() { m.CacheFallbacks.Inc() }

// AddRedaction records one placeholder minted for the given origin
// ("secret" or "pii") and subtype (e.g. "aws_access_key_id", "email").
func (m *Metrics) AddRedaction(origin, subtype string) {
	m.TokensReplaced.Inc()
	m.redactionsByKind.WithLabelValues(origin, subtype).Inc()
}

// AddPackageAlert records one package-intelligence alert raised for the
// given trigger type (e.g. "malicious_package", "deprecated_package").
func (m *Metrics) AddPackageAlert(trigger string) {
	m.packageAlerts.WithLabelValues(trigger).Inc()
}

// RecordAnonLatency records the duration of one redaction pass.
func (m *Metrics) RecordAnonLatency(d time.Duration) {
	m.anonMu.Lock()
	m.anonStat.record(float64(d.Microseconds()) / 1000.0)
	m.anonMu.Unlock()
}

// RecordUpstreamLatency records the round-trip time to the upstream provider.
func (m *Metrics) RecordUpstreamLatency(d time.Duration) {
	m.upstreamMu.Lock()
	m.upstreamStat.record(float64(d.Microseconds()) / 1000.0)
	m.upstreamMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.anonMu.Lock()
	anon := m.anonStat.snapshot()
	m.anonMu.Unlock()

	m.upstreamMu.Lock()
	upstream := m.upstreamStat.snapshot()
	m.upstreamMu.Unlock()

	m.cacheMu.Lock()
	hits := copyNonZero(m.cacheHitN)
	misses := copyNonZero(m.cacheMissN)
	m.cacheMu.Unlock()

	return Snapshot{
		Requests: RequestSnapshot{
			Total:       int64(testutil.ToFloat64(m.RequestsTotal)),
			Redacted:    int64(testutil.ToFloat64(m.RequestsRedacted)),
			Passthrough: int64(testutil.ToFloat64(m.RequestsPassthrough)),
			Blocked:     int64(testutil.ToFloat64(m.RequestsBlocked)),
		},
		Errors: ErrorSnapshot{
			Upstream:  int64(testutil.ToFloat64(m.ErrorsUpstream)),
			Redaction: int64(testutil.ToFloat64(m.ErrorsRedaction)),
		},
		PIITokens: PIISnapshot{
			Replaced:         int64(testutil.ToFloat64(m.TokensReplaced)),
			Deanonymized:     int64(testutil.ToFloat64(m.TokensDeanonymized)),
			OllamaDispatches: int64(testutil.ToFloat64(m.OllamaDispatches)),
			OllamaErrors:     int64(testutil.ToFloat64(m.OllamaErrors)),
			CacheFallbacks:   int64(testutil.ToFloat64(m.CacheFallbacks)),
			CacheHits:        hits,
			CacheMisses:      misses,
		},
		Latency: LatencyGroup{
			AnonymizationMs: anon,
			UpstreamMs:      upstream,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

func copyNonZero(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests   RequestSnapshot `json:"requests"`
	Errors     ErrorSnapshot   `json:"errors"`
	PIITokens  PIISnapshot     `json:"piiTokens"`
	Latency    LatencyGroup    `json:"latency"`
	UptimeSecs float64         `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Total       int64 `json:"total"`
	Redacted    int64 `json:"redacted"`
	Passthrough int64 `json:"passthrough"`
	Blocked     int64 `json:"blocked"`
}

// ErrorSnapshot holds error counters.
type ErrorSnapshot struct {
	Upstream  int64 `json:"upstream"`
	Redaction int64 `json:"redaction"`
}

// PIISnapshot holds PII/secret token volume counters.
type PIISnapshot struct {
	Replaced         int64            `json:"replaced"`
	Deanonymized     int64            `json:"restored"`
	OllamaDispatches int64            `json:"ollamaDispatches"`
	OllamaErrors     int64            `json:"ollamaErrors"`
	CacheFallbacks   int64            `json:"cacheFallbacks"`
	CacheHits        map[string]int64 `json:"cacheHits,omitempty"`
	CacheMisses      map[string]int64 `json:"cacheMisses,omitempty"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	AnonymizationMs LatencySnapshot `json:"redactionMs"`
	UpstreamMs      LatencySnapshot `json:"upstreamMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
