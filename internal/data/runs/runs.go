package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/whytv-ai/whytv-backend/internal/pipeline"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

// StageRun is one guarded stage invocation.
type StageRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Stage        string         `gorm:"column:stage;not null;index" json:"stage"`
	Trigger      string         `gorm:"column:trigger_name;not null" json:"trigger"`
	DocumentPath string         `gorm:"column:document_path" json:"document_path"`
	ChannelID    string         `gorm:"column:channel_id;index" json:"channel_id,omitempty"`
	EventID      string         `gorm:"column:event_id;index" json:"event_id"`
	Outcome      string         `gorm:"column:outcome;not null;index" json:"outcome"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	Attempt      int            `gorm:"column:attempt;not null;default:1" json:"attempt"`
	DurationMS   int64          `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	Details      datatypes.JSON `gorm:"column:details;type:jsonb" json:"details"`
	StartedAt    time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (StageRun) TableName() string { return "stage_run" }

// Details is the JSON payload of a StageRun.
type Details struct {
	FromStatus string `json:"from,omitempty"`
	ToStatus   string `json:"to,omitempty"`
}

type Repo interface {
	pipeline.Recorder
	ListByChannel(ctx context.Context, channelID string, limit int) ([]*StageRun, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, baseLog *logger.Logger) Repo {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &repo{db: db, log: baseLog.With("repo", "StageRunRepo")}
}

func (r *repo) Record(ctx context.Context, rec pipeline.RunRecord) error {
	details, err := json.Marshal(Details{FromStatus: rec.FromStatus, ToStatus: rec.ToStatus})
	if err != nil {
		return err
	}
	row := &StageRun{
		ID:           uuid.New(),
		Stage:        rec.Stage,
		Trigger:      rec.Trigger,
		DocumentPath: rec.DocumentPath,
		ChannelID:    rec.ChannelID,
		EventID:      rec.EventID,
		Outcome:      rec.Outcome,
		Error:        rec.Error,
		Attempt:      rec.Attempt,
		DurationMS:   rec.Duration.Milliseconds(),
		Details:      datatypes.JSON(details),
		StartedAt:    rec.StartedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert stage run: %w", err)
	}
	return nil
}

// ListByChannel returns the newest runs first.
func (r *repo) ListByChannel(ctx context.Context, channelID string, limit int) ([]*StageRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var results []*StageRun
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("started_at DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *repo) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("started_at < ?", before.UTC()).Delete(&StageRun{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("Pruned stage runs", "rows", res.RowsAffected, "before", before.UTC().Format(time.RFC3339))
	}
	return res.RowsAffected, nil
}
