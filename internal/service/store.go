package service

import (
	"context"

	"github.com/careloop/assessflow/internal/domain/response"
	"github.com/careloop/assessflow/internal/domain/score"
	"github.com/careloop/assessflow/internal/domain/session"
)

// Store bundles the audit store repositories with transactional execution.
// Every state-machine transition performs its writes through one InTx call
// so a crash mid-transition is never observable as a partially updated
// session.
type Store interface {
	Sessions() session.Repository
	Responses() response.Repository
	Scores() score.Repository

	// InTx runs fn against a store whose repositories share one
	// transaction. A non-nil error from fn rolls everything back.
	InTx(ctx context.Context, fn func(Store) error) error
}
