package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/careloop/assessflow/internal/domain/score"
)

type scoreRepository struct {
	db *gorm.DB
}

func (r *scoreRepository) Create(ctx context.Context, s *score.AssessmentScore) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *scoreRepository) ListBySession(ctx context.Context, sessionID string) ([]*score.AssessmentScore, error) {
	var rows []*score.AssessmentScore
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("calculated_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
