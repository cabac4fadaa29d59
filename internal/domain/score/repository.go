package score

import "context"

type Repository interface {
	// Create inserts a computed score row. Score rows are insert-only.
	Create(ctx context.Context, s *AssessmentScore) error

	// ListBySession returns all score rows for a session in calculation order.
	ListBySession(ctx context.Context, sessionID string) ([]*AssessmentScore, error)
}
