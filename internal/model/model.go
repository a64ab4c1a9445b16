// Package model holds the common request/response shapes and registry entities
// shared across the gateway: the normalized request record the pipeline operates
// on, streaming chunks, workspaces, mux rules, provider endpoints, sessions, and
// the audit/alert records the collaborating subsystems persist.
package model

import "time"

// RequestKind is the kind of request the client sent, after normalization.
type RequestKind string

// Supported request kinds.
const (
	KindChat       RequestKind = "chat"
	KindFIM        RequestKind = "fim"
	KindCompletion RequestKind = "completion"
	KindEmbeddings RequestKind = "embeddings"
)

// Role is the speaker of a Message.
type Role string

// Supported roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind discriminates the variants of Part.
type PartKind string

// Supported part kinds.
const (
	PartText       PartKind = "text"
	PartToolUse    PartKind = "tool_use"
	PartToolResult PartKind = "tool_result"
	PartImageRef   PartKind = "image_ref"
)

// Part is one piece of a Message's content. Exactly the fields relevant to Kind
// are populated; the others are zero.
type Part struct {
	Kind PartKind `json:"kind"`

	Text string `json:"text,omitempty"`

	ToolName  string `json:"tool_name,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	ToolInput any    `json:"tool_input,omitempty"`

	ToolResult  any    `json:"tool_result,omitempty"`
	ToolIsError bool   `json:"tool_is_error,omitempty"`
	ToolForID   string `json:"tool_for_id,omitempty"`

	ImageRef string `json:"image_ref,omitempty"`
}

// TextParts builds a slice of text Parts — the common case of a plain-text
// message body.
func TextParts(s string) []Part {
	if s == "" {
		return nil
	}
	return []Part{{Kind: PartText, Text: s}}
}

// Message is one turn in the conversation.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text concatenates all text parts of the message, in order.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// RequestRecord is the common shape every provider's wire request is
// normalized into, and denormalized back out of, by the pipeline.
type RequestRecord struct {
	Kind        RequestKind `json:"kind"`
	System      string      `json:"system,omitempty"`
	Messages    []Message   `json:"messages"`
	Model       string      `json:"model"`
	Stream      bool        `json:"stream"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   *int        `json:"max_tokens,omitempty"`
	Stop        []string    `json:"stop,omitempty"`

	// RawProviderFields holds the provider's original wire JSON so a
	// round-trip to the same provider is byte-equivalent unless the pipeline
	// mutated something the common shape models. Normalize-out steps apply
	// their common-shape mutations on top of this via field surgery (gjson/sjson)
	// rather than discarding it.
	RawProviderFields []byte `json:"-"`

	// WorkspaceID is the workspace this request is scoped to, captured at
	// pipeline entry so in-flight requests are unaffected by a later
	// workspace activation (spec.md §4.6).
	WorkspaceID string `json:"-"`

	// SessionID scopes the substitution store and the value cache.
	SessionID string `json:"-"`
}

// ChunkDeltaKind discriminates StreamChunk.Delta.
type ChunkDeltaKind string

// Supported stream delta kinds.
const (
	DeltaPart     ChunkDeltaKind = "part"
	DeltaFinish   ChunkDeltaKind = "finish"
	DeltaToolCall ChunkDeltaKind = "tool_call"
	DeltaError    ChunkDeltaKind = "error"
)

// StreamChunk is one unit of a streaming response, totally ordered by Seq
// within a single connection.
type StreamChunk struct {
	Seq          uint64         `json:"seq"`
	DeltaKind    ChunkDeltaKind `json:"delta_kind"`
	Delta        Part           `json:"delta,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Err          error          `json:"-"`

	// ProviderMeta carries provider-specific envelope fields (event type,
	// block index, ...) that Normalize-out needs to re-wrap the chunk in the
	// provider's own wire shape.
	ProviderMeta map[string]any `json:"provider_meta,omitempty"`
}

// WorkspaceState is the lifecycle state of a Workspace.
type WorkspaceState string

// Supported workspace states.
const (
	WorkspaceActive   WorkspaceState = "active"
	WorkspaceArchived WorkspaceState = "archived"
)

// DefaultWorkspaceName is the name of the built-in workspace that always
// exists, cannot be archived, and cannot be deleted.
const DefaultWorkspaceName = "default"

// MatcherType is the kind of matcher a MuxRule applies.
type MatcherType string

// Supported matcher types.
const (
	MatcherCatchAll         MatcherType = "catch_all"
	MatcherFilenameMatch    MatcherType = "filename_match"
	MatcherRequestTypeMatch MatcherType = "request_type_match"
)

// MuxRule routes a request to a provider endpoint and model when its matcher
// is satisfied. Rules are evaluated top-to-bottom within a Workspace; the
// first match wins.
type MuxRule struct {
	ProviderEndpointID string      `json:"provider_endpoint_id"`
	ModelName          string      `json:"model_name"`
	MatcherType        MatcherType `json:"matcher_type"`
	Matcher            string      `json:"matcher"`
}

// Workspace is a named, rule-scoped resource governing how requests under the
// active session are routed and what custom instructions are injected.
type Workspace struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	State              WorkspaceState `json:"state"`
	CustomInstructions string         `json:"custom_instructions,omitempty"`
	MuxRules           []MuxRule      `json:"mux_rules"`
	CreatedAt          time.Time      `json:"created_at"`
}

// ProviderAuthKind is how a ProviderEndpoint authenticates to its upstream.
type ProviderAuthKind string

// Supported auth kinds.
const (
	AuthNone   ProviderAuthKind = "none"
	AuthAPIKey ProviderAuthKind = "api_key"
	AuthBearer ProviderAuthKind = "bearer"
)

// ProviderKind is the closed set of upstream wire-format variants CodeGate
// normalizes to and from. See internal/provider.
type ProviderKind string

// Supported provider kinds.
const (
	ProviderOpenAI     ProviderKind = "openai"
	ProviderAnthropic  ProviderKind = "anthropic"
	ProviderOllama     ProviderKind = "ollama"
	ProviderLlamaCPP   ProviderKind = "llamacpp"
	ProviderVLLM       ProviderKind = "vllm"
	ProviderOpenRouter ProviderKind = "openrouter"
	ProviderLMStudio   ProviderKind = "lm_studio"
	ProviderCopilot    ProviderKind = "copilot"
)

// ProviderEndpoint is a global (not workspace-scoped) upstream configuration.
type ProviderEndpoint struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Kind    ProviderKind     `json:"kind"`
	BaseURL string           `json:"base_url"`
	Auth    ProviderAuthKind `json:"auth"`
	APIKey  string           `json:"api_key,omitempty"`
}

// Session is the single current session driving routing and redaction scope.
type Session struct {
	ID                string    `json:"id"`
	ActiveWorkspaceID string    `json:"active_workspace_id"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SpanOrigin is the detector family that produced a SubstitutionEntry.
type SpanOrigin string

// Supported span origins.
const (
	SpanSecret SpanOrigin = "secret"
	SpanPII    SpanOrigin = "pii"
)

// SubstitutionEntry is one literal⇄placeholder mapping, scoped to a Session.
type SubstitutionEntry struct {
	Placeholder  string     `json:"placeholder"`
	Literal      string     `json:"-"` // never serialized; would defeat the point
	SpanOrigin   SpanOrigin `json:"span_origin"`
	Subtype      string     `json:"subtype"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

// AlertTriggerType classifies why an AlertRecord was raised.
type AlertTriggerType string

// Supported alert trigger types.
const (
	TriggerSecret             AlertTriggerType = "secret"
	TriggerPII                AlertTriggerType = "pii"
	TriggerMaliciousPackage    AlertTriggerType = "malicious_package"
	TriggerDeprecatedPackage   AlertTriggerType = "deprecated_package"
	TriggerArchivedPackage     AlertTriggerType = "archived_package"
	TriggerPolicy              AlertTriggerType = "policy"
)

// AlertRecord is raised whenever a pipeline step detects something
// notable — a secret, PII, or a package-intelligence hit.
type AlertRecord struct {
	ID             string           `json:"id"`
	PromptID       string           `json:"prompt_id"`
	CodeSnippet    string           `json:"code_snippet,omitempty"`
	TriggerString  string           `json:"trigger_string,omitempty"`
	TriggerType    AlertTriggerType `json:"trigger_type"`
	TriggerCategory string          `json:"trigger_category,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// PromptRecord is one logged request, for audit readout.
type PromptRecord struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Timestamp   time.Time `json:"timestamp"`
	Provider    string    `json:"provider"`
	Request     []byte    `json:"request"` // raw JSON
	Type        string    `json:"type"`
}

// OutputRecord is one logged response, for audit readout.
type OutputRecord struct {
	ID        string    `json:"id"`
	PromptID  string    `json:"prompt_id"`
	Timestamp time.Time `json:"timestamp"`
	Output    []byte    `json:"output"` // raw JSON
}

// PackageStatus is the intelligence status of a package in the vector index.
type PackageStatus string

// Supported package statuses.
const (
	StatusMalicious PackageStatus = "malicious"
	StatusDeprecated PackageStatus = "deprecated"
	StatusArchived  PackageStatus = "archived"
	StatusOK        PackageStatus = "ok"
	StatusUnknown   PackageStatus = "unknown"
)

// PackageRecord is one row of the package-intelligence vector index.
type PackageRecord struct {
	Ecosystem    string        `json:"ecosystem"`
	Name         string        `json:"name"`
	Status       PackageStatus `json:"status"`
	AdvisoryURL  string        `json:"advisory_url,omitempty"`
}

// ExtractedPackageLocation is where an ExtractedPackage was found.
type ExtractedPackageLocation string

// Supported extraction locations.
const (
	LocationCodeImport ExtractedPackageLocation = "code_import"
	LocationManifest   ExtractedPackageLocation = "manifest"
	LocationFreeText   ExtractedPackageLocation = "free_text"
)

// ExtractedPackage is one package reference pulled out of a request.
type ExtractedPackage struct {
	Ecosystem string
	Name      string
	Location  ExtractedPackageLocation
}
