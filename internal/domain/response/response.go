package response

import (
	"time"

	"github.com/careloop/assessflow/internal/domain"
)

// QuestionResponse is one finalized answer with its clinical interpretation.
// Written once by the engine when an interpretation is accepted; immutable
// thereafter. Clarification turns live only in the transcript and never
// produce a row here.
type QuestionResponse struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID string `gorm:"column:session_id;type:varchar(50);not null;index:idx_responses_session_question"`

	QuestionID     string                `gorm:"column:question_id;type:varchar(100);not null;index:idx_responses_session_question"`
	QuestionText   string                `gorm:"column:question_text;type:text;not null"`
	QuestionDomain string                `gorm:"column:question_domain;type:varchar(50);not null"`
	AssessmentType domain.AssessmentType `gorm:"column:assessment_type;type:varchar(10);not null;index"`

	UserResponse      string    `gorm:"column:user_response;type:text;not null"`
	ResponseTimestamp time.Time `gorm:"column:response_timestamp;not null;index"`

	InterpretedScore      float64 `gorm:"column:interpreted_score;not null"`
	Confidence            float64 `gorm:"column:confidence;not null"`
	Reasoning             string  `gorm:"column:reasoning;type:text;not null"`
	NeedsClarification    bool    `gorm:"column:needs_clarification;default:false"`
	ClarificationQuestion *string `gorm:"column:clarification_question;type:text"`

	// RawLLMResponse preserves the interpreter's unparsed model output for audit.
	RawLLMResponse *string `gorm:"column:raw_llm_response;type:json"`
}

func (QuestionResponse) TableName() string {
	return "question_responses"
}
