package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

func newRecordID() string { return uuid.NewString() }

func now() time.Time { return time.Now() }

// NormalizeIn (decoding the upstream provider's SSE/JSON envelope into
// StreamChunk) and NormalizeOut (re-encoding a StreamChunk into the client's
// expected wire shape) happen at the gateway's stream decode/encode
// boundary, same as on the request side — every OutStep below operates on
// the common StreamChunk shape.

// unredactStep restores every placeholder in a chunk's text delta to its
// original literal, using the same session-scoped store the request side
// wrote to.
type unredactStep struct{}

func (unredactStep) Name() string { return "unredact" }

func (s unredactStep) Run(ctx *Context, chunk model.StreamChunk) []model.StreamChunk {
	if chunk.DeltaKind != model.DeltaPart || chunk.Delta.Kind != model.PartText {
		if chunk.DeltaKind == model.DeltaFinish {
			if tail := ctx.Unredactor().Flush(); tail != "" {
				flushChunk := model.StreamChunk{
					Seq:       chunk.Seq,
					DeltaKind: model.DeltaPart,
					Delta:     model.Part{Kind: model.PartText, Text: tail},
				}
				return []model.StreamChunk{flushChunk, chunk}
			}
		}
		return []model.StreamChunk{chunk}
	}

	restored := ctx.Unredactor().Feed(chunk.Delta.Text)
	if restored == "" {
		return nil // held back pending more text; nothing to emit yet
	}
	chunk.Delta.Text = restored
	if ctx.Metrics != nil {
		ctx.Metrics.TokensDeanonymized.Inc()
	}
	return []model.StreamChunk{chunk}
}

// alertFinalizeStep assigns IDs to every alert accumulated during the
// request, persists them through the audit sink, and prepends a
// client-visible notice counting them by trigger type ("CodeGate prevented N
// secret(s)"), the first time this step fires after a redaction. It runs
// once, on the first chunk it sees, since alerts are a property of the whole
// exchange, not of any one chunk.
type alertFinalizeStep struct{}

func (alertFinalizeStep) Name() string { return "alert_finalize" }

func (s alertFinalizeStep) Run(ctx *Context, chunk model.StreamChunk) []model.StreamChunk {
	if len(ctx.Alerts) == 0 {
		return []model.StreamChunk{chunk}
	}

	notice := alertNotice(ctx.Alerts)

	if ctx.Audit != nil {
		for _, alert := range ctx.Alerts {
			if alert.ID == "" {
				alert.ID = newRecordID()
			}
			if err := ctx.Audit.PersistAlert(alert); err != nil && ctx.Log != nil {
				ctx.Log.Errorf("alert_persist_failed", "failed to persist alert: %v", err)
			}
		}
	}
	ctx.Alerts = nil // notice emitted and alerts persisted once; don't repeat on the next chunk

	if notice == "" {
		return []model.StreamChunk{chunk}
	}
	noticeChunk := model.StreamChunk{
		Seq:       chunk.Seq,
		DeltaKind: model.DeltaPart,
		Delta:     model.Part{Kind: model.PartText, Text: notice + "\n\n"},
	}
	return []model.StreamChunk{noticeChunk, chunk}
}

// alertNoticeLabels maps a trigger type to its singular/plural noun for
// alertNotice's count clause.
var alertNoticeLabels = map[model.AlertTriggerType][2]string{
	model.TriggerSecret:            {"secret", "secrets"},
	model.TriggerPII:               {"PII value", "PII values"},
	model.TriggerMaliciousPackage:  {"malicious package", "malicious packages"},
	model.TriggerDeprecatedPackage: {"deprecated package", "deprecated packages"},
	model.TriggerArchivedPackage:   {"archived package", "archived packages"},
	model.TriggerPolicy:            {"policy violation", "policy violations"},
}

// alertNotice builds the "CodeGate prevented ..." client-visible notice
// spec.md §8 scenario S2 requires verbatim for a single secret ("CodeGate
// prevented 1 secret"), counting alerts by trigger type and in first-seen
// order so a mixed-category response reads naturally.
func alertNotice(alerts []model.AlertRecord) string {
	counts := make(map[model.AlertTriggerType]int)
	var order []model.AlertTriggerType
	for _, a := range alerts {
		if counts[a.TriggerType] == 0 {
			order = append(order, a.TriggerType)
		}
		counts[a.TriggerType]++
	}

	var clauses []string
	for _, t := range order {
		labels, ok := alertNoticeLabels[t]
		if !ok {
			continue
		}
		n := counts[t]
		label := labels[0]
		if n != 1 {
			label = labels[1]
		}
		clauses = append(clauses, fmt.Sprintf("%d %s", n, label))
	}
	if len(clauses) == 0 {
		return ""
	}
	return "CodeGate prevented " + joinClauses(clauses)
}

// joinClauses renders a list of count clauses as natural-language prose:
// "a", "a and b", "a, b, and c".
func joinClauses(clauses []string) string {
	switch len(clauses) {
	case 1:
		return clauses[0]
	case 2:
		return clauses[0] + " and " + clauses[1]
	default:
		return strings.Join(clauses[:len(clauses)-1], ", ") + ", and " + clauses[len(clauses)-1]
	}
}

// persistOutputsStep appends every assistant text delta to the audit sink's
// output log, completing the prompt/output pair PersistPrompt started on the
// request side.
type persistOutputsStep struct{}

func (persistOutputsStep) Name() string { return "persist_outputs" }

func (s persistOutputsStep) Run(ctx *Context, chunk model.StreamChunk) []model.StreamChunk {
	if ctx.Audit == nil || ctx.PromptID == "" {
		return []model.StreamChunk{chunk}
	}
	if chunk.DeltaKind == model.DeltaPart && chunk.Delta.Kind == model.PartText && chunk.Delta.Text != "" {
		rec := model.OutputRecord{
			ID:        newRecordID(),
			PromptID:  ctx.PromptID,
			Timestamp: now(),
			Output:    []byte(chunk.Delta.Text),
		}
		if err := ctx.Audit.PersistOutput(rec); err != nil && ctx.Log != nil {
			ctx.Log.Errorf("output_persist_failed", "failed to persist output chunk: %v", err)
		}
	}
	return []model.StreamChunk{chunk}
}
