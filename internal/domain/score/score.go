package score

import "time"

// ScoreType identifies the aggregation scope of a score row.
type ScoreType string

const (
	TypeIADLTotal  ScoreType = "iadl_total"
	TypeADLTotal   ScoreType = "adl_total"
	TypeIADLDomain ScoreType = "iadl_domain"
	TypeADLDomain  ScoreType = "adl_domain"
)

func (t ScoreType) IsValid() bool {
	switch t {
	case TypeIADLTotal, TypeADLTotal, TypeIADLDomain, TypeADLDomain:
		return true
	}
	return false
}

// AssessmentScore is one computed roll-up over a session's accepted
// responses. Rows are never mutated; re-running aggregation produces new
// rows so historical comparisons stay possible.
type AssessmentScore struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID string `gorm:"column:session_id;type:varchar(50);not null;index:idx_scores_session_type"`

	ScoreType ScoreType `gorm:"column:score_type;type:varchar(20);not null;index:idx_scores_session_type"`
	Domain    *string   `gorm:"column:domain;type:varchar(50)"`

	RawScore         float64 `gorm:"column:raw_score;not null"`
	MaxPossibleScore float64 `gorm:"column:max_possible_score;not null"`
	PercentageScore  float64 `gorm:"column:percentage_score;not null"`

	CalculatedAt      time.Time `gorm:"column:calculated_at;not null;index"`
	ConfidenceAverage *float64  `gorm:"column:confidence_average"`
	ResponsesCount    *int      `gorm:"column:responses_count"`

	Interpretation *string `gorm:"column:interpretation;type:varchar(50)"`
	ClinicalNotes  *string `gorm:"column:clinical_notes;type:text"`
}

func (AssessmentScore) TableName() string {
	return "assessment_scores"
}
