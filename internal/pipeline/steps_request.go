package pipeline

import (
	"fmt"
	neturl "net/url"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
	"github.com/syntax-syndicate/codegate-alt/internal/redact"
)

// NormalizeIn and NormalizeOut are not Steps: they convert between a
// provider's wire bytes and *model.RequestRecord at the gateway's decode/
// encode boundary (ctx.Normalize), outside the ordered chain below, since
// every other step operates on the common RequestRecord shape and has no
// business seeing raw provider bytes.

// codeSnippetExtractStep walks every message for fenced code blocks and
// manifest-like content, recording package references for the next step.
type codeSnippetExtractStep struct{}

func (codeSnippetExtractStep) Name() string { return "code_snippet_extract" }

func (s codeSnippetExtractStep) Run(ctx *Context) Outcome {
	if ctx.Extractor == nil {
		return continueOutcome()
	}
	ctx.ExtractedPackages = ctx.Extractor.Extract(ctx.Request)
	return continueOutcome()
}

// maliciousPackageCheckStep looks up every package CodeSnippetExtract found
// against the package intelligence index and raises an alert for anything
// malicious, deprecated, or archived. A package mentioned in free text that
// resolves to malicious is treated as the user asking for or about it, and
// short-circuits the pipeline with a synthetic warning reply instead of
// forwarding upstream; everything else is reported, not stripped (spec.md §2
// Non-goals: no automatic code mutation outside redaction).
type maliciousPackageCheckStep struct{}

func (maliciousPackageCheckStep) Name() string { return "malicious_package_check" }

func (s maliciousPackageCheckStep) Run(ctx *Context) Outcome {
	if ctx.Packages == nil || len(ctx.ExtractedPackages) == 0 {
		return continueOutcome()
	}
	var maliciousInFreeText []model.PackageRecord
	for _, pkg := range ctx.ExtractedPackages {
		rec, ok := ctx.Packages.Lookup(ctx.Ctx, pkg.Ecosystem, pkg.Name)
		if !ok {
			continue
		}
		trigger, ok := triggerForPackageStatus(rec.Status)
		if !ok {
			continue
		}
		ctx.AddAlert(trigger, string(rec.Ecosystem), rec.Name, rec.AdvisoryURL)
		if ctx.Metrics != nil {
			ctx.Metrics.AddPackageAlert(string(trigger))
		}
		if rec.Status == model.StatusMalicious && pkg.Location == model.LocationFreeText {
			maliciousInFreeText = append(maliciousInFreeText, rec)
		}
	}
	if len(maliciousInFreeText) > 0 {
		return replyNowOutcome(maliciousPackageWarningReply(ctx.Request, maliciousInFreeText))
	}
	return continueOutcome()
}

// maliciousPackageWarningReply builds a synthetic assistant reply: one line
// per flagged package plus its insight URL, in place of forwarding the
// request upstream.
func maliciousPackageWarningReply(req *model.RequestRecord, flagged []model.PackageRecord) *model.RequestRecord {
	text := "CodeGate detected one or more malicious, deprecated or archived packages.\n"
	for _, rec := range flagged {
		url := rec.AdvisoryURL
		if url == "" {
			url = fmt.Sprintf("https://www.insight.stacklok.com/report/%s/%s?utm_source=codegate", rec.Ecosystem, neturl.PathEscape(rec.Name))
		}
		text += fmt.Sprintf("- %s/%s: %s\n", rec.Ecosystem, rec.Name, url)
	}
	reply := *req
	reply.Messages = append(append([]model.Message{}, req.Messages...), model.Message{
		Role:  model.RoleAssistant,
		Parts: model.TextParts(text),
	})
	return &reply
}

func triggerForPackageStatus(status model.PackageStatus) (model.AlertTriggerType, bool) {
	switch status {
	case model.StatusMalicious:
		return model.TriggerMaliciousPackage, true
	case model.StatusDeprecated:
		return model.TriggerDeprecatedPackage, true
	case model.StatusArchived:
		return model.TriggerArchivedPackage, true
	default:
		return "", false
	}
}

// secretRedactStep runs the signature catalog over every message and
// replaces each match with a session-scoped placeholder, ahead of PII
// redaction (spec.md §4.1 step ordering: secrets before PII, so a secret
// embedded inside what also looks like PII is tokenized as a secret first).
type secretRedactStep struct{}

func (secretRedactStep) Name() string { return "secret_redact" }

func (s secretRedactStep) Run(ctx *Context) Outcome {
	if ctx.Signatures == nil {
		return continueOutcome()
	}
	redactMessages(ctx, func(text string) string {
		matches := ctx.Signatures.Scan(text)
		if len(matches) == 0 {
			return text
		}
		return substituteSecretMatches(ctx, text, matches)
	})
	return continueOutcome()
}

func substituteSecretMatches(ctx *Context, text string, matches []redact.SecretMatch) string {
	var out []byte
	last := 0
	for _, m := range matches {
		if m.Start < last {
			continue // overlapping match already consumed by an earlier, higher-confidence one
		}
		out = append(out, text[last:m.Start]...)
		ph := ctx.Store.Put(ctx.SessionID, m.Value, model.SpanSecret, m.Subtype)
		out = append(out, ph...)
		last = m.End
		if ctx.Metrics != nil {
			ctx.Metrics.AddRedaction("secret", m.Subtype)
		}
		// CodeSnippet is left empty: the matched literal is the secret itself,
		// and the alert record must not persist what the redaction step exists
		// to remove. The placeholder is enough to correlate the alert to the
		// substitution store entry.
		ctx.AddAlert(model.TriggerSecret, m.Subtype, ph, "")
	}
	out = append(out, text[last:]...)
	return string(out)
}

// piiRedactStep runs the PII detector over every message (after secrets have
// already been tokenized out of it) and replaces each match with a
// session-scoped placeholder.
type piiRedactStep struct{}

func (piiRedactStep) Name() string { return "pii_redact" }

func (s piiRedactStep) Run(ctx *Context) Outcome {
	if ctx.PII == nil {
		return continueOutcome()
	}
	redactMessages(ctx, func(text string) string {
		matches := ctx.PII.Scan(text)
		if len(matches) == 0 {
			return text
		}
		return substitutePIIMatches(ctx, text, matches)
	})
	return continueOutcome()
}

func substitutePIIMatches(ctx *Context, text string, matches []redact.PIIMatch) string {
	var out []byte
	last := 0
	for _, m := range matches {
		if m.Start < last {
			continue
		}
		out = append(out, text[last:m.Start]...)
		ph := ctx.Store.Put(ctx.SessionID, m.Value, model.SpanPII, string(m.Classification))
		out = append(out, ph...)
		last = m.End
		if ctx.Metrics != nil {
			ctx.Metrics.AddRedaction("pii", string(m.Classification))
		}
		ctx.AddAlert(model.TriggerPII, string(m.Classification), ph, "")
	}
	out = append(out, text[last:]...)
	return string(out)
}

// redactMessages rewrites every text part of every message (and the system
// prompt) in place through transform, which receives and returns plain text.
func redactMessages(ctx *Context, transform func(string) string) {
	req := ctx.Request
	if req == nil {
		return
	}
	if req.System != "" {
		req.System = transform(req.System)
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		for j := range msg.Parts {
			if msg.Parts[j].Kind != model.PartText {
				continue
			}
			msg.Parts[j].Text = transform(msg.Parts[j].Text)
		}
	}
}

// systemPromptInjectStep appends the active workspace's custom instructions
// to the request's system prompt, mirroring the teacher's
// injectPIIInstruction placement rule (Anthropic: top-level system field;
// OpenAI-style: a leading system message) but carrying workspace
// instructions instead of a fixed PII-handling notice.
type systemPromptInjectStep struct{}

func (systemPromptInjectStep) Name() string { return "system_prompt_inject" }

func (s systemPromptInjectStep) Run(ctx *Context) Outcome {
	if ctx.Workspaces == nil {
		return continueOutcome()
	}
	ws, ok := ctx.Workspaces.Resolve(ctx.WorkspaceID)
	if !ok || ws.CustomInstructions == "" {
		return continueOutcome()
	}
	injectSystemInstructions(ctx.Request, ws.CustomInstructions)
	return continueOutcome()
}

func injectSystemInstructions(req *model.RequestRecord, instructions string) {
	if req == nil {
		return
	}
	if req.System != "" {
		req.System = req.System + "\n\n" + instructions
		return
	}
	if len(req.Messages) > 0 && req.Messages[0].Role == model.RoleSystem {
		req.Messages[0].Parts = append(req.Messages[0].Parts, model.Part{
			Kind: model.PartText,
			Text: "\n\n" + instructions,
		})
		return
	}
	req.Messages = append([]model.Message{{
		Role:  model.RoleSystem,
		Parts: []model.Part{{Kind: model.PartText, Text: instructions}},
	}}, req.Messages...)
}

// muxResolveStep picks the concrete provider endpoint and model for this
// request within the active workspace's mux rules.
type muxResolveStep struct{}

func (muxResolveStep) Name() string { return "mux_resolve" }

func (s muxResolveStep) Run(ctx *Context) Outcome {
	if ctx.Mux == nil || ctx.Workspaces == nil {
		return continueOutcome()
	}
	ws, ok := ctx.Workspaces.Resolve(ctx.WorkspaceID)
	if !ok {
		return abortOutcome(fmt.Errorf("mux_resolve: unknown workspace %q", ctx.WorkspaceID))
	}
	endpoint, modelName, ok := ctx.Mux.Resolve(ws, ctx.Request)
	if !ok {
		return abortOutcome(fmt.Errorf("mux_resolve: no mux rule matched request in workspace %q", ws.Name))
	}
	ctx.Provider = endpoint
	ctx.Model = modelName
	return continueOutcome()
}
