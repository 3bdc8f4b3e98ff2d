// Package history keeps a queryable log of evaluation rounds.
package history

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"camrate-server-go/internal/domain/eventbus"
	"camrate-server-go/internal/platform/errors"
	"camrate-server-go/internal/platform/storage"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Round is the API view of one recorded round.
type Round struct {
	ID            uint                   `json:"id"`
	SessionID     string                 `json:"session_id"`
	Outcome       string                 `json:"outcome"`
	RecordKey     string                 `json:"record_key,omitempty"`
	Rate          int                    `json:"rate,omitempty"`
	Fragments     int                    `json:"fragments"`
	ResponseBytes int                    `json:"response_bytes"`
	DurationMS    int64                  `json:"duration_ms"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Repository 轮次历史仓库
type Repository interface {
	Record(ctx context.Context, summary eventbus.RoundSummary) error
	Recent(ctx context.Context, limit int) ([]Round, error)
	Stats(ctx context.Context) (map[string]int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository 创建基于 gorm 的仓库
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Record(ctx context.Context, summary eventbus.RoundSummary) error {
	var detail datatypes.JSON
	if len(summary.Detail) > 0 {
		raw, err := sonic.Marshal(summary.Detail)
		if err != nil {
			return errors.Wrap(errors.KindStorage, "history.record.marshal", "failed to marshal round detail", err)
		}
		detail = datatypes.JSON(raw)
	}

	createdAt := summary.CompletedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	model := &storage.EvaluationRound{
		SessionID:     summary.SessionID,
		Outcome:       summary.Outcome,
		RecordKey:     summary.RecordKey,
		Rate:          summary.Rate,
		Fragments:     summary.Fragments,
		ResponseBytes: summary.ResponseBytes,
		DurationMS:    summary.Duration.Milliseconds(),
		Detail:        detail,
		CreatedAt:     createdAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "history.record", "failed to record round", err)
	}
	return nil
}

func (r *gormRepository) Recent(ctx context.Context, limit int) ([]Round, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var models []storage.EvaluationRound
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "history.recent", "failed to list rounds", err)
	}

	rounds := make([]Round, 0, len(models))
	for _, m := range models {
		round := Round{
			ID:            m.ID,
			SessionID:     m.SessionID,
			Outcome:       m.Outcome,
			RecordKey:     m.RecordKey,
			Rate:          m.Rate,
			Fragments:     m.Fragments,
			ResponseBytes: m.ResponseBytes,
			DurationMS:    m.DurationMS,
			CreatedAt:     m.CreatedAt,
		}
		if len(m.Detail) > 0 {
			if err := sonic.Unmarshal(m.Detail, &round.Detail); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "history.recent.unmarshal", "failed to decode round detail", err)
			}
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

func (r *gormRepository) Stats(ctx context.Context) (map[string]int64, error) {
	var stats []struct {
		Outcome string
		Count   int64
	}

	if err := r.db.WithContext(ctx).
		Model(&storage.EvaluationRound{}).
		Select("outcome, count(*) as count").
		Group("outcome").
		Scan(&stats).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "history.stats", "failed to get round stats", err)
	}

	result := make(map[string]int64, len(stats))
	for _, stat := range stats {
		result[stat.Outcome] = stat.Count
	}
	return result, nil
}

func (r *gormRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", before.UTC()).
		Delete(&storage.EvaluationRound{})
	if res.Error != nil {
		return 0, errors.Wrap(errors.KindStorage, "history.delete_before", "failed to delete old rounds", res.Error)
	}
	return res.RowsAffected, nil
}
