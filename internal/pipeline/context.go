// Package pipeline implements the gateway's ordered request/response step
// chain (spec.md §4.1). The engine's driver is a plain match over an
// explicit Outcome value — no panics, no sentinel errors used for control
// flow — mirroring the teacher's small ordered sequence of decisions in
// proxy.ServeHTTP/handleHTTP, generalized into a typed step list since no
// pack example implements a generic step-chain engine for this.
package pipeline

import (
	"context"
	"time"

	"github.com/syntax-syndicate/codegate-alt/internal/logger"
	"github.com/syntax-syndicate/codegate-alt/internal/metrics"
	"github.com/syntax-syndicate/codegate-alt/internal/model"
	"github.com/syntax-syndicate/codegate-alt/internal/redact"
)

// PackageLookup resolves one extracted package against the package
// intelligence index. Implemented by internal/packageindex.
type PackageLookup interface {
	Lookup(ctx context.Context, ecosystem, name string) (model.PackageRecord, bool)
}

// CodeExtractor walks a request's message bodies for fenced code blocks and
// manifest-like content, returning every package reference found.
// Implemented by internal/extract.
type CodeExtractor interface {
	Extract(req *model.RequestRecord) []model.ExtractedPackage
}

// WorkspaceLookup resolves a workspace by ID. Implemented by
// internal/workspace.
type WorkspaceLookup interface {
	Resolve(workspaceID string) (model.Workspace, bool)
}

// MuxResolver picks the concrete provider endpoint and model for a request
// within a workspace. Implemented by internal/mux.
type MuxResolver interface {
	Resolve(ws model.Workspace, req *model.RequestRecord) (model.ProviderEndpoint, modelName string, ok bool)
}

// Normalizer converts between a provider's wire format and the common
// RequestRecord/StreamChunk shapes. Implemented per-kind by internal/provider.
type Normalizer interface {
	NormalizeIn(raw []byte, kind model.ProviderKind) (*model.RequestRecord, error)
	NormalizeOut(req *model.RequestRecord, kind model.ProviderKind) ([]byte, error)
}

// AuditSink persists prompts, outputs, and alerts. A failure to append never
// blocks request delivery (spec.md §5); implementations log their own
// errors. Implemented by internal/audit.
type AuditSink interface {
	PersistPrompt(model.PromptRecord) error
	PersistOutput(model.OutputRecord) error
	PersistAlert(model.AlertRecord) error
}

// Context is threaded through every step of one request/response pair. It
// carries the mutable request record, the collaborators each step needs, and
// the side-effect surfaces (alerts, substitution store) a pure Step writes
// through rather than mutating global state.
type Context struct {
	// Ctx carries cancellation: a client disconnect propagates here and is
	// observed by the response pipeline within one read of the upstream
	// stream (spec.md §9 Open Question, resolved: ctx.Done() is selected on
	// in the same loop that reads upstream chunks).
	Ctx context.Context

	SessionID   string
	WorkspaceID string

	Request  *model.RequestRecord
	RawBody  []byte
	Provider model.ProviderEndpoint
	Model    string

	Store      *redact.Store
	Signatures *redact.SignatureCatalog
	PII        *redact.Detector

	Extractor  CodeExtractor
	Packages   PackageLookup
	Workspaces WorkspaceLookup
	Mux        MuxResolver
	Normalize  Normalizer
	Audit      AuditSink

	Metrics *metrics.Metrics
	Log     *logger.Logger

	PromptID string

	// ExtractedPackages accumulates across CodeSnippetExtract for
	// MaliciousPackageCheck to consume.
	ExtractedPackages []model.ExtractedPackage

	// Alerts accumulates every alert raised by a step, finalized and
	// persisted by the response side's AlertFinalize step.
	Alerts []model.AlertRecord

	unredact *redact.ChunkUnredactor
}

// AddAlert records one alert for this request. Called by steps, persisted
// later by the response pipeline's AlertFinalize step.
func (c *Context) AddAlert(trigger model.AlertTriggerType, category, triggerString, codeSnippet string) {
	c.Alerts = append(c.Alerts, model.AlertRecord{
		PromptID:        c.PromptID,
		CodeSnippet:     codeSnippet,
		TriggerString:   triggerString,
		TriggerType:     trigger,
		TriggerCategory: category,
		Timestamp:       time.Now(),
	})
}

// Unredactor lazily constructs the per-response sliding-boundary unredactor,
// scoped to this request's session.
func (c *Context) Unredactor() *redact.ChunkUnredactor {
	if c.unredact == nil {
		c.unredact = redact.NewChunkUnredactor(c.Store, c.SessionID)
	}
	return c.unredact
}
