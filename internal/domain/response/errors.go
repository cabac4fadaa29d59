package response

import "errors"

var (
	// ErrDuplicateResponse guards the one-accepted-response-per-question
	// invariant: a finalized (session_id, question_id) pair never gets a
	// second row.
	ErrDuplicateResponse = errors.New("question already has an accepted response for this session")
)
