package response

import (
	"context"

	"github.com/careloop/assessflow/internal/domain"
)

type Repository interface {
	// Create inserts a finalized response. Returns ErrDuplicateResponse if
	// the (session_id, question_id) pair already has an accepted row.
	Create(ctx context.Context, r *QuestionResponse) error

	// Exists reports whether a question is already finalized for a session.
	Exists(ctx context.Context, sessionID, questionID string) (bool, error)

	// ListBySession returns all accepted responses in answer order.
	ListBySession(ctx context.Context, sessionID string) ([]*QuestionResponse, error)

	// ListByType returns a session's accepted responses for one scale.
	ListByType(ctx context.Context, sessionID string, t domain.AssessmentType) ([]*QuestionResponse, error)
}
