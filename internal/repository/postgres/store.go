// Package postgres implements the audit store repositories on GORM.
package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/careloop/assessflow/internal/domain/response"
	"github.com/careloop/assessflow/internal/domain/score"
	"github.com/careloop/assessflow/internal/domain/session"
	"github.com/careloop/assessflow/internal/service"
)

type Store struct {
	db        *gorm.DB
	sessions  *sessionRepository
	responses *responseRepository
	scores    *scoreRepository
}

var _ service.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		sessions:  &sessionRepository{db: db},
		responses: &responseRepository{db: db},
		scores:    &scoreRepository{db: db},
	}
}

func (s *Store) Sessions() session.Repository   { return s.sessions }
func (s *Store) Responses() response.Repository { return s.responses }
func (s *Store) Scores() score.Repository       { return s.scores }

// InTx runs fn against a store bound to one database transaction. GORM
// rolls back on a non-nil error or panic.
func (s *Store) InTx(ctx context.Context, fn func(service.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
