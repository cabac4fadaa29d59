package session

import "context"

type Repository interface {
	// Create persists a new session row.
	Create(ctx context.Context, s *Session) error

	// GetByID retrieves a session by primary key. Returns ErrSessionNotFound
	// if no such session exists.
	GetByID(ctx context.Context, sessionID string) (*Session, error)

	// Update writes the full session row back. The engine is the only
	// writer; concurrent submits for one session are serialized above this
	// layer.
	Update(ctx context.Context, s *Session) error

	// ListActive returns non-terminal sessions ordered by most recent
	// activity, optionally filtered by patient.
	ListActive(ctx context.Context, patientID string) ([]*Session, error)

	// Delete removes a session and all dependent audit rows.
	Delete(ctx context.Context, sessionID string) error

	// AppendMessage inserts one transcript entry.
	AppendMessage(ctx context.Context, m *ChatMessage) error

	// Transcript returns the session's messages in chronological order.
	Transcript(ctx context.Context, sessionID string) ([]*ChatMessage, error)
}
