package session

import (
	"time"

	"github.com/careloop/assessflow/internal/domain"
)

// Meta is engine-internal resumption state carried in the session's
// metadata_json column. Keeping it inside the JSON column preserves the
// audit store's column set for interoperability.
type Meta struct {
	// PendingQuestionID is the question currently awaiting an answer or
	// clarification. Empty once the session reaches a terminal state.
	PendingQuestionID string `json:"pending_question_id,omitempty"`

	// ClarificationCount is the bounded per-question clarification counter.
	// Reset to zero whenever a response is accepted.
	ClarificationCount int `json:"clarification_count,omitempty"`

	// Extra holds caller-supplied metadata from session creation.
	Extra map[string]any `json:"extra,omitempty"`
}

// Session is the single source of truth for resuming a conversation.
// Updated in place on every transition; all other audit relations are
// insert-only.
type Session struct {
	SessionID string `gorm:"column:session_id;type:varchar(50);primaryKey"`
	PatientID string `gorm:"column:patient_id;type:varchar(100);not null;index"`

	StartedAt    time.Time  `gorm:"column:started_at;not null"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
	LastActivity time.Time  `gorm:"column:last_activity;not null"`

	CurrentPhase         domain.Phase `gorm:"column:current_phase;type:varchar(20);not null;index:idx_sessions_phase_state"`
	CurrentState         domain.State `gorm:"column:current_state;type:varchar(20);not null;index:idx_sessions_phase_state"`
	CurrentQuestionIndex int          `gorm:"column:current_question_index;default:0"`

	TotalQuestions         int `gorm:"column:total_questions;default:0"`
	QuestionsCompleted     int `gorm:"column:questions_completed;default:0"`
	IADLQuestionsCompleted int `gorm:"column:iadl_questions_completed;default:0"`
	ADLQuestionsCompleted  int `gorm:"column:adl_questions_completed;default:0"`

	ErrorCount int     `gorm:"column:error_count;default:0"`
	LastError  *string `gorm:"column:last_error;type:text"`

	Meta Meta `gorm:"column:metadata_json;serializer:json"`
}

func (Session) TableName() string {
	return "assessment_sessions"
}

// IsActive reports whether the session still accepts conversation turns.
func (s *Session) IsActive() bool {
	return !s.CurrentState.IsTerminal()
}

// CompletedForType returns the per-scale completion counter.
func (s *Session) CompletedForType(t domain.AssessmentType) int {
	if t == domain.AssessmentADL {
		return s.ADLQuestionsCompleted
	}
	return s.IADLQuestionsCompleted
}

// RecordCompletion increments the cumulative and per-scale counters.
func (s *Session) RecordCompletion(t domain.AssessmentType) {
	s.QuestionsCompleted++
	if t == domain.AssessmentADL {
		s.ADLQuestionsCompleted++
	} else {
		s.IADLQuestionsCompleted++
	}
}

// RecordError notes a recoverable failure on the session.
func (s *Session) RecordError(msg string) {
	s.ErrorCount++
	s.LastError = &msg
}

// ChatMessage is one append-only transcript entry. Never mutated or deleted.
type ChatMessage struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID string `gorm:"column:session_id;type:varchar(50);not null;index:idx_chat_session_timestamp"`

	Role      domain.MessageRole `gorm:"column:role;type:varchar(20);not null"`
	Content   string             `gorm:"column:content;type:text;not null"`
	Timestamp time.Time          `gorm:"column:timestamp;not null;index:idx_chat_session_timestamp"`

	MessageType domain.MessageType `gorm:"column:message_type;type:varchar(50)"`
	QuestionID  string             `gorm:"column:question_id;type:varchar(100)"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
