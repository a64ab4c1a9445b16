// Package redact — pii.go
//
// Detector finds PII spans in text using a two-stage pipeline, generalized
// from the teacher's anonymizer.compilePatterns/tokenForMatch/dispatchOllamaAsync:
//
//  1. A fast regex pre-pass over structured patterns (email, phone, SSN,
//     credit card, IP, ...), each carrying a confidence score.
//  2. Spans at or above the configured confidence threshold are classified
//     immediately from the regex's own type. Spans below it consult the
//     cross-session ClassificationCache keyed by the literal value:
//       - cache hit  → use the cached classification.
//       - cache miss → classify from the regex type immediately (a span is
//         never left unclassified), then dispatch an async Ollama query to
//         confirm/refine the classification and warm the cache for the next
//         occurrence of the same value.
//
// An in-flight map deduplicates concurrent Ollama queries for the same value,
// and a semaphore bounds how many run at once.
package redact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// PIIType classifies the kind of sensitive data a Detector span belongs to.
type PIIType string

// Supported PII types.
const (
	PIIEmail      PIIType = "email"
	PIIPhone      PIIType = "phone"
	PIISSN        PIIType = "ssn"
	PIICreditCard PIIType = "credit_card"
	PIIIPAddress  PIIType = "ip_address"
	PIIAddress    PIIType = "address"
	PIIName       PIIType = "name"
	PIIMedical    PIIType = "medical"
	PIISalary     PIIType = "salary"
	PIICompany    PIIType = "company"
	PIIJobTitle   PIIType = "job_title"
)

// PIIMatch is one literal span the Detector found in text.
type PIIMatch struct {
	Start          int
	End            int
	Value          string
	Classification PIIType
	Confidence     float64
}

type piiPattern struct {
	re         *regexp.Regexp
	piiType    PIIType
	confidence float64
}

// DetectorMetrics is the subset of metrics.Metrics the Detector reports
// through, kept narrow so this package does not import internal/metrics
// directly and create an import cycle risk as the pipeline wires both up.
type DetectorMetrics interface {
	RecordCacheHit(subtype string)
	RecordCacheMiss(subtype string)
	AddCacheFallback()
	AddOllamaDispatch()
	AddOllamaError()
}

// Detector finds and classifies PII spans, consulting Ollama for low
// confidence matches and caching the result per literal value.
type Detector struct {
	patterns []piiPattern

	ollamaURL   string
	ollamaModel string
	useAI       bool
	aiThreshold float64

	cache ClassificationCache
	m     DetectorMetrics // nil disables metrics collection

	inflightMu sync.Mutex
	inflight   map[string]bool

	ollamaSem chan struct{}
}

// DetectorConfig configures a new Detector.
type DetectorConfig struct {
	OllamaEndpoint      string
	OllamaModel         string
	UseAI               bool
	AIThreshold         float64
	OllamaMaxConcurrent int
	Cache               ClassificationCache // required; use newMemoryCache() for an unbounded default
	Metrics             DetectorMetrics     // optional
}

// NewDetector builds a Detector from cfg. cfg.Cache must be non-nil; callers
// typically pass a newS3FIFOCache wrapping a bbolt-backed ClassificationCache.
func NewDetector(cfg DetectorConfig) *Detector {
	maxConcurrent := cfg.OllamaMaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	cache := cfg.Cache
	if cache == nil {
		cache = newMemoryCache()
	}
	d := &Detector{
		ollamaURL:   strings.TrimRight(cfg.OllamaEndpoint, "/") + "/api/generate",
		ollamaModel: cfg.OllamaModel,
		useAI:       cfg.UseAI,
		aiThreshold: cfg.AIThreshold,
		cache:       cache,
		m:           cfg.Metrics,
		inflight:    make(map[string]bool),
		ollamaSem:   make(chan struct{}, maxConcurrent),
	}
	d.compilePatterns()
	return d
}

// Close releases the detector's cache.
func (d *Detector) Close() error {
	return d.cache.Close()
}

func (d *Detector) compilePatterns() {
	// Confidence bands follow Presidio/CHPDA convention: 0.90+ unambiguous
	// format, 0.70-0.89 moderately specific, below 0.70 broad with real
	// false-positive risk. Anything under aiThreshold triggers the Ollama
	// fallback path.
	specs := []struct {
		expr       string
		piiType    PIIType
		confidence float64
	}{
		{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, PIIEmail, 0.95},
		{`\b(?:\d{3}-?\d{2}-?\d{4}|\d{9})\b`, PIISSN, 0.85},
		{`\b(?:\d{4}[\-\s]?){3}\d{4}\b`, PIICreditCard, 0.85},
		{`(?i)\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\b`, PIIAddress, 0.75},
		{`(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}` +
			`|(?:[0-9a-fA-F]{1,4}:){1,7}:` +
			`|(?:[0-9a-fA-F]{1,4}:){1,6}:[0-9a-fA-F]{1,4}` +
			`|(?:[0-9a-fA-F]{1,4}:){1,5}(?::[0-9a-fA-F]{1,4}){1,2}` +
			`|(?:[0-9a-fA-F]{1,4}:){1,4}(?::[0-9a-fA-F]{1,4}){1,3}` +
			`|(?:[0-9a-fA-F]{1,4}:){1,3}(?::[0-9a-fA-F]{1,4}){1,4}` +
			`|(?:[0-9a-fA-F]{1,4}:){1,2}(?::[0-9a-fA-F]{1,4}){1,5}` +
			`|[0-9a-fA-F]{1,4}:(?::[0-9a-fA-F]{1,4}){1,6}` +
			`|:(?::[0-9a-fA-F]{1,4}){1,7}` +
			`|::`,
			PIIIPAddress, 0.85},
		{`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`, PIIIPAddress, 0.70},
		{`(\+?1?[\-.\s]?)?\(?([0-9]{3})\)?[\-.\s]?([0-9]{3})[\-.\s]?([0-9]{4})`, PIIPhone, 0.65},
		{`\b\d{5}(?:-\d{4})?\b`, PIIAddress, 0.40},
	}
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			cacheLog.Warnf("pattern_compile", "skipping invalid pattern %q: %v", s.expr, err)
			continue
		}
		d.patterns = append(d.patterns, piiPattern{re: re, piiType: s.piiType, confidence: s.confidence})
	}
}

// Scan returns every PII span found in text, classified and in order of
// appearance.
func (d *Detector) Scan(text string) []PIIMatch {
	if text == "" {
		return nil
	}
	var matches []PIIMatch
	for _, p := range d.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			matches = append(matches, PIIMatch{
				Start:          loc[0],
				End:            loc[1],
				Value:          value,
				Classification: d.classify(p, value),
				Confidence:     p.confidence,
			})
		}
	}
	return matches
}

// classify returns the PII type for a single regex match, consulting the
// cache and dispatching an async Ollama confirmation for low-confidence
// matches. The match is always classified from p.piiType immediately — a
// span is never left unclassified while Ollama is consulted in the
// background.
func (d *Detector) classify(p piiPattern, value string) PIIType {
	if !d.useAI || p.confidence >= d.aiThreshold {
		return p.piiType
	}

	if cached, hit := d.cache.Get(value); hit {
		if d.m != nil {
			d.m.RecordCacheHit(string(p.piiType))
		}
		if t := parseCachedClassification(cached); t != "" {
			return t
		}
		return p.piiType
	}

	if d.m != nil {
		d.m.RecordCacheMiss(string(p.piiType))
		d.m.AddCacheFallback()
	}
	cacheLog.Infof("cache_miss", "low-confidence PII cache miss piiType=%s", p.piiType)
	d.dispatchOllamaAsync(value)
	return p.piiType
}

// parseCachedClassification parses the "type:confidence" string stored by
// Set/dispatchOllamaAsync, returning "" if the stored value doesn't carry a
// recognizable type prefix.
func parseCachedClassification(cached string) PIIType {
	idx := strings.IndexByte(cached, ':')
	if idx <= 0 {
		return ""
	}
	return PIIType(cached[:idx])
}

func formatClassification(t PIIType, confidence float64) string {
	return fmt.Sprintf("%s:%.2f", t, confidence)
}

// dispatchOllamaAsync fires a background goroutine that confirms a single
// PII value's classification via Ollama and warms the cache. An in-flight
// map prevents duplicate concurrent queries for the same value.
func (d *Detector) dispatchOllamaAsync(value string) {
	d.inflightMu.Lock()
	if d.inflight[value] {
		d.inflightMu.Unlock()
		return
	}
	d.inflight[value] = true
	d.inflightMu.Unlock()

	if d.m != nil {
		d.m.AddOllamaDispatch()
	}

	go func() {
		defer func() {
			d.inflightMu.Lock()
			delete(d.inflight, value)
			d.inflightMu.Unlock()
		}()

		select {
		case d.ollamaSem <- struct{}{}:
			defer func() { <-d.ollamaSem }()
		default:
			cacheLog.Warn("ollama_busy", "skipping background classification query, semaphore full")
			if d.m != nil {
				d.m.AddOllamaError()
			}
			return
		}

		detections, err := d.queryOllamaHTTP(value)
		if err != nil {
			cacheLog.Errorf("ollama_query", "async classification query failed: %v", err)
			if d.m != nil {
				d.m.AddOllamaError()
			}
			return
		}

		for _, det := range detections {
			if det.Value != "" && det.Confidence >= d.aiThreshold {
				d.cache.Set(det.Value, formatClassification(det.PIIType, det.Confidence))
			}
		}
		cacheLog.Infof("ollama_cache_populated", "async classification cached %d value(s)", len(detections))
	}()
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

type ollamaDetection struct {
	Value      string  `json:"original"`
	PIIType    PIIType `json:"type"`
	Confidence float64 `json:"confidence"`
}

// queryOllamaHTTP sends a single synchronous classification request to the
// Ollama HTTP API and returns the parsed detections. It does not consult or
// update the cache; callers own cache management.
func (d *Detector) queryOllamaHTTP(text string) ([]ollamaDetection, error) {
	prompt := fmt.Sprintf(`Analyze the following text for PII (personally identifiable information).
Return ONLY a JSON array of detections. Each item must have:
- "original": the exact text found
- "type": one of: email, phone, ssn, credit_card, ip_address, name, address, medical, salary, company, job_title
- "confidence": float 0.0-1.0

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"original":"John Smith","type":"name","confidence":0.95}]`,
		text)

	reqBody, err := json.Marshal(ollamaRequest{Model: d.ollamaModel, Prompt: prompt, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.ollamaURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("ollama response parse error: %w", err)
	}

	raw := strings.TrimSpace(ollamaResp.Response)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in ollama response")
	}
	raw = raw[start : end+1]

	var detections []ollamaDetection
	if err := json.Unmarshal([]byte(raw), &detections); err != nil {
		return nil, fmt.Errorf("detection parse error: %w", err)
	}
	return detections, nil
}
