// Package audit persists prompts, outputs, and alerts to a local SQLite
// database via GORM, behind the Sink interface pipeline.AuditSink is
// satisfied by. Grounded on BaSui01-agentflow's llm/db_init.go
// (AutoMigrate-driven schema, one struct per table, gorm.Open at startup).
// Uses github.com/glebarez/sqlite, a cgo-free GORM dialector over
// modernc.org/sqlite, rather than gorm.io/driver/sqlite's mattn/go-sqlite3
// binding — this gateway ships as a single static binary and a cgo
// dependency would break that for cross-compiled builds.
package audit

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// promptRow, outputRow, alertRow mirror model.PromptRecord/OutputRecord/
// AlertRecord with GORM tags; kept separate from the model package so
// internal/model stays free of a persistence-layer dependency.
type promptRow struct {
	ID          string `gorm:"primaryKey"`
	WorkspaceID string `gorm:"index"`
	Timestamp   time.Time
	Provider    string
	Request     []byte
	Type        string
}

func (promptRow) TableName() string { return "prompts" }

type outputRow struct {
	ID        string `gorm:"primaryKey"`
	PromptID  string `gorm:"index"`
	Timestamp time.Time
	Output    []byte
}

func (outputRow) TableName() string { return "outputs" }

type alertRow struct {
	ID              string `gorm:"primaryKey"`
	PromptID        string `gorm:"index"`
	CodeSnippet     string
	TriggerString   string
	TriggerType     string `gorm:"index"`
	TriggerCategory string
	Timestamp       time.Time
}

func (alertRow) TableName() string { return "alerts" }

// Sink implements pipeline.AuditSink against a SQLite-backed GORM handle.
type Sink struct {
	db *gorm.DB
}

// Open opens (creating if absent) the SQLite database at path and runs
// AutoMigrate for the prompt/output/alert tables.
func Open(path string) (*Sink, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&promptRow{}, &outputRow{}, &alertRow{}); err != nil {
		return nil, fmt.Errorf("audit: auto migrate: %w", err)
	}
	return &Sink{db: db}, nil
}

// PersistPrompt implements pipeline.AuditSink.
func (s *Sink) PersistPrompt(rec model.PromptRecord) error {
	row := promptRow{
		ID:          rec.ID,
		WorkspaceID: rec.WorkspaceID,
		Timestamp:   rec.Timestamp,
		Provider:    rec.Provider,
		Request:     rec.Request,
		Type:        rec.Type,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("audit: persist prompt %s: %w", rec.ID, err)
	}
	return nil
}

// PersistOutput implements pipeline.AuditSink.
func (s *Sink) PersistOutput(rec model.OutputRecord) error {
	row := outputRow{
		ID:        rec.ID,
		PromptID:  rec.PromptID,
		Timestamp: rec.Timestamp,
		Output:    rec.Output,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("audit: persist output %s: %w", rec.ID, err)
	}
	return nil
}

// PersistAlert implements pipeline.AuditSink.
func (s *Sink) PersistAlert(rec model.AlertRecord) error {
	row := alertRow{
		ID:              rec.ID,
		PromptID:        rec.PromptID,
		CodeSnippet:     rec.CodeSnippet,
		TriggerString:   rec.TriggerString,
		TriggerType:     string(rec.TriggerType),
		TriggerCategory: rec.TriggerCategory,
		Timestamp:       rec.Timestamp,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("audit: persist alert %s: %w", rec.ID, err)
	}
	return nil
}

// Prompts returns every logged prompt for workspaceID, newest first. Backs
// the management API's GET /prompts.
func (s *Sink) Prompts(workspaceID string, limit int) ([]model.PromptRecord, error) {
	var rows []promptRow
	q := s.db.Order("timestamp desc")
	if workspaceID != "" {
		q = q.Where("workspace_id = ?", workspaceID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit: list prompts: %w", err)
	}
	out := make([]model.PromptRecord, len(rows))
	for i, r := range rows {
		out[i] = model.PromptRecord{ID: r.ID, WorkspaceID: r.WorkspaceID, Timestamp: r.Timestamp, Provider: r.Provider, Request: r.Request, Type: r.Type}
	}
	return out, nil
}

// Alerts returns every logged alert, newest first. Backs the management
// API's GET /alerts.
func (s *Sink) Alerts(limit int) ([]model.AlertRecord, error) {
	var rows []alertRow
	q := s.db.Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit: list alerts: %w", err)
	}
	out := make([]model.AlertRecord, len(rows))
	for i, r := range rows {
		out[i] = model.AlertRecord{
			ID:              r.ID,
			PromptID:        r.PromptID,
			CodeSnippet:     r.CodeSnippet,
			TriggerString:   r.TriggerString,
			TriggerType:     model.AlertTriggerType(r.TriggerType),
			TriggerCategory: r.TriggerCategory,
			Timestamp:       r.Timestamp,
		}
	}
	return out, nil
}

// Close releases the underlying database connection.
func (s *Sink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
