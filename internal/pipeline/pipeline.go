package pipeline

import (
	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// OutcomeKind is the result a request Step returns after running.
type OutcomeKind string

// Supported outcomes. No panics or sentinel errors are used for step control
// flow — every step returns one of these explicitly.
const (
	// Continue runs the next step in the chain against the (possibly
	// mutated) request.
	Continue OutcomeKind = "continue"
	// ReplyNow short-circuits the chain: the engine answers the client
	// directly with the synthetic response carried on the Outcome, without
	// calling upstream.
	ReplyNow OutcomeKind = "reply_now"
	// Abort terminates the request with an error; only genuinely fatal
	// conditions use this (invalid JSON, oversize payload, upstream auth
	// failure) — an ordinary detection or lookup failure continues with the
	// un-mutated value instead (spec.md §4.1).
	Abort OutcomeKind = "abort"
)

// Outcome is what a request Step returns.
type Outcome struct {
	Kind  OutcomeKind
	Reply *model.RequestRecord // populated only when Kind == ReplyNow; holds the synthetic assistant message
	Err   error                // populated only when Kind == Abort
}

// continueOutcome is returned by steps that made no terminal decision.
func continueOutcome() Outcome { return Outcome{Kind: Continue} }

func replyNowOutcome(reply *model.RequestRecord) Outcome {
	return Outcome{Kind: ReplyNow, Reply: reply}
}

func abortOutcome(err error) Outcome {
	return Outcome{Kind: Abort, Err: err}
}

// Step is one request-side inspection/mutation stage. Steps are pure over
// their explicit input (ctx.Request); side effects (alerts, the substitution
// store, audit writes) go through the passed-in Context.
type Step interface {
	Name() string
	Run(ctx *Context) Outcome
}

// OutStep is one response-side stage, applied per StreamChunk. A step may
// emit zero, one, or several chunks; the engine preserves Seq ordering
// across steps (spec.md §4.1 response contract).
type OutStep interface {
	Name() string
	Run(ctx *Context, chunk model.StreamChunk) []model.StreamChunk
}

// Engine runs the canonical ordered step chains over a Context.
type Engine struct {
	RequestSteps  []Step
	ResponseSteps []OutStep
}

// NewEngine returns an Engine wired with the canonical request and response
// step order (spec.md §4.1).
func NewEngine() *Engine {
	return &Engine{
		RequestSteps: []Step{
			codeSnippetExtractStep{},
			maliciousPackageCheckStep{},
			secretRedactStep{},
			piiRedactStep{},
			systemPromptInjectStep{},
			muxResolveStep{},
		},
		ResponseSteps: []OutStep{
			unredactStep{},
			alertFinalizeStep{},
			persistOutputsStep{},
		},
	}
}

// RunRequest runs every request step in order against ctx.Request, stopping
// at the first ReplyNow or Abort.
func (e *Engine) RunRequest(ctx *Context) Outcome {
	for _, step := range e.RequestSteps {
		outcome := step.Run(ctx)
		switch outcome.Kind {
		case Continue:
			continue
		case ReplyNow, Abort:
			return outcome
		}
	}
	return continueOutcome()
}

// RunResponse runs every response step in order over one upstream chunk,
// threading the fan-out (a step may split one chunk into several) through
// the rest of the chain.
func (e *Engine) RunResponse(ctx *Context, chunk model.StreamChunk) []model.StreamChunk {
	chunks := []model.StreamChunk{chunk}
	for _, step := range e.ResponseSteps {
		var next []model.StreamChunk
		for _, c := range chunks {
			next = append(next, step.Run(ctx, c)...)
		}
		chunks = next
	}
	return chunks
}
