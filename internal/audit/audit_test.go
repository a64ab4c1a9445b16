package audit

import (
	"testing"
	"time"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

func openTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSink_PersistAndListPrompts(t *testing.T) {
	s := openTestSink(t)
	rec := model.PromptRecord{
		ID:          "p1",
		WorkspaceID: "ws1",
		Timestamp:   time.Now().UTC(),
		Provider:    "openai",
		Request:     []byte(`{"model":"gpt-4"}`),
		Type:        "chat",
	}
	if err := s.PersistPrompt(rec); err != nil {
		t.Fatalf("PersistPrompt: %v", err)
	}

	prompts, err := s.Prompts("ws1", 0)
	if err != nil {
		t.Fatalf("Prompts: %v", err)
	}
	if len(prompts) != 1 || prompts[0].ID != "p1" {
		t.Fatalf("expected one prompt p1, got %+v", prompts)
	}

	none, err := s.Prompts("other-workspace", 0)
	if err != nil {
		t.Fatalf("Prompts filtered: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no prompts for other workspace, got %+v", none)
	}
}

func TestSink_PersistOutput(t *testing.T) {
	s := openTestSink(t)
	if err := s.PersistOutput(model.OutputRecord{ID: "o1", PromptID: "p1", Timestamp: time.Now().UTC(), Output: []byte("hello")}); err != nil {
		t.Fatalf("PersistOutput: %v", err)
	}
}

func TestSink_PersistAndListAlerts(t *testing.T) {
	s := openTestSink(t)
	rec := model.AlertRecord{
		ID:              "a1",
		PromptID:        "p1",
		CodeSnippet:     "",
		TriggerString:   "evil-pkg",
		TriggerType:     model.TriggerMaliciousPackage,
		TriggerCategory: "npm",
		Timestamp:       time.Now().UTC(),
	}
	if err := s.PersistAlert(rec); err != nil {
		t.Fatalf("PersistAlert: %v", err)
	}

	alerts, err := s.Alerts(0)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].TriggerType != model.TriggerMaliciousPackage {
		t.Fatalf("expected one malicious-package alert, got %+v", alerts)
	}
}

func TestSink_AlertsRespectsLimit(t *testing.T) {
	s := openTestSink(t)
	for i := 0; i < 3; i++ {
		rec := model.AlertRecord{
			ID:          string(rune('a' + i)),
			TriggerType: model.TriggerSecret,
			Timestamp:   time.Now().UTC(),
		}
		if err := s.PersistAlert(rec); err != nil {
			t.Fatalf("PersistAlert: %v", err)
		}
	}
	alerts, err := s.Alerts(2)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected limit of 2 alerts, got %d", len(alerts))
	}
}

func TestSink_SatisfiesPipelineAuditSink(t *testing.T) {
	var _ interface {
		PersistPrompt(model.PromptRecord) error
		PersistOutput(model.OutputRecord) error
		PersistAlert(model.AlertRecord) error
	} = (*Sink)(nil)
}
