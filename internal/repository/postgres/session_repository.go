package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/careloop/assessflow/internal/domain"
	"github.com/careloop/assessflow/internal/domain/response"
	"github.com/careloop/assessflow/internal/domain/score"
	"github.com/careloop/assessflow/internal/domain/session"
)

type sessionRepository struct {
	db *gorm.DB
}

func (r *sessionRepository) Create(ctx context.Context, s *session.Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepository) GetByID(ctx context.Context, sessionID string) (*session.Session, error) {
	var s session.Session
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepository) Update(ctx context.Context, s *session.Session) error {
	res := r.db.WithContext(ctx).
		Model(&session.Session{}).
		Where("session_id = ?", s.SessionID).
		Select("*").
		Updates(s)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepository) ListActive(ctx context.Context, patientID string) ([]*session.Session, error) {
	q := r.db.WithContext(ctx).
		Where("current_state NOT IN ?", []domain.State{domain.StateCompleted, domain.StateErrored}).
		Order("last_activity DESC")
	if patientID != "" {
		q = q.Where("patient_id = ?", patientID)
	}

	var sessions []*session.Session
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// Delete removes the session row and its dependent audit rows in one
// transaction. Score and response rows share the session id but carry no
// foreign key, so each relation is cleared explicitly.
func (r *sessionRepository) Delete(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("session_id = ?", sessionID).Delete(&session.Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return session.ErrSessionNotFound
		}

		for _, model := range []any{
			&session.ChatMessage{},
			&response.QuestionResponse{},
			&score.AssessmentScore{},
		} {
			if err := tx.Where("session_id = ?", sessionID).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *sessionRepository) AppendMessage(ctx context.Context, m *session.ChatMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *sessionRepository) Transcript(ctx context.Context, sessionID string) ([]*session.ChatMessage, error) {
	var messages []*session.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
