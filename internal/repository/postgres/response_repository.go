package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/careloop/assessflow/internal/domain"
	"github.com/careloop/assessflow/internal/domain/response"
)

type responseRepository struct {
	db *gorm.DB
}

func (r *responseRepository) Create(ctx context.Context, qr *response.QuestionResponse) error {
	err := r.db.WithContext(ctx).Create(qr).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return response.ErrDuplicateResponse
	}
	return err
}

func (r *responseRepository) Exists(ctx context.Context, sessionID, questionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&response.QuestionResponse{}).
		Where("session_id = ? AND question_id = ?", sessionID, questionID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *responseRepository) ListBySession(ctx context.Context, sessionID string) ([]*response.QuestionResponse, error) {
	var rows []*response.QuestionResponse
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("response_timestamp ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *responseRepository) ListByType(ctx context.Context, sessionID string, t domain.AssessmentType) ([]*response.QuestionResponse, error) {
	var rows []*response.QuestionResponse
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND assessment_type = ?", sessionID, t).
		Order("response_timestamp ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
