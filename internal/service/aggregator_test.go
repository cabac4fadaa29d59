package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careloop/assessflow/internal/domain"
	"github.com/careloop/assessflow/internal/domain/response"
	"github.com/careloop/assessflow/internal/domain/score"
	"github.com/careloop/assessflow/internal/graph"
)

const aggregatorFlow = `
version: 1
order: [ADL]
scales:
  - type: ADL
    entry: Q1
    bands:
      - { min_percent: 90, label: independent }
      - { min_percent: 70, label: mild_impairment }
      - { min_percent: 40, label: moderate_impairment }
      - { min_percent: 0, label: severe_impairment }
    questions:
      - code: Q1
        domain: mobility
        text: First?
        next: Q2
        options:
          - { text: none, score: 0 }
          - { text: some, score: 1 }
          - { text: full, score: 3 }
      - code: Q2
        domain: mobility
        text: Second?
        next: Q3
        options:
          - { text: none, score: 0 }
          - { text: full, score: 3 }
      - code: Q3
        domain: self_care
        text: Third?
        options:
          - { text: none, score: 0 }
          - { text: full, score: 3 }
`

func aggregatorFixture(t *testing.T) (*Aggregator, *graph.Flow) {
	t.Helper()
	flow, err := graph.Load([]byte(aggregatorFlow))
	require.NoError(t, err)
	return NewAggregator(flow, zap.NewNop()), flow
}

func resp(questionID string, score, confidence float64) *response.QuestionResponse {
	return &response.QuestionResponse{
		SessionID:        "sess-1",
		QuestionID:       questionID,
		AssessmentType:   domain.AssessmentADL,
		InterpretedScore: score,
		Confidence:       confidence,
	}
}

func TestScaleScoresTotalsAndDomains(t *testing.T) {
	agg, _ := aggregatorFixture(t)

	rows := agg.ScaleScores("sess-1", domain.AssessmentADL, []*response.QuestionResponse{
		resp("Q1", 1, 0.9),
		resp("Q2", 3, 0.8),
		resp("Q3", 0, 0.7),
	})

	// One scale row followed by one row per domain in chain order.
	require.Len(t, rows, 3)

	total := rows[0]
	assert.Equal(t, score.TypeADLTotal, total.ScoreType)
	assert.Nil(t, total.Domain)
	assert.Equal(t, 4.0, total.RawScore)
	assert.Equal(t, 9.0, total.MaxPossibleScore)
	assert.InDelta(t, 44.44, total.PercentageScore, 0.01)
	require.NotNil(t, total.Interpretation)
	assert.Equal(t, domain.InterpretationModerateImpairment, *total.Interpretation)
	require.NotNil(t, total.ConfidenceAverage)
	assert.InDelta(t, 0.8, *total.ConfidenceAverage, 1e-9)
	require.NotNil(t, total.ResponsesCount)
	assert.Equal(t, 3, *total.ResponsesCount)

	mobility := rows[1]
	assert.Equal(t, score.TypeADLDomain, mobility.ScoreType)
	require.NotNil(t, mobility.Domain)
	assert.Equal(t, "mobility", *mobility.Domain)
	assert.Equal(t, 4.0, mobility.RawScore)
	assert.Equal(t, 6.0, mobility.MaxPossibleScore)

	selfCare := rows[2]
	require.NotNil(t, selfCare.Domain)
	assert.Equal(t, "self_care", *selfCare.Domain)
	assert.Equal(t, 0.0, selfCare.RawScore)
	assert.Equal(t, 3.0, selfCare.MaxPossibleScore)
	assert.Equal(t, 0.0, selfCare.PercentageScore)
}

func TestScaleScoresZeroResponses(t *testing.T) {
	agg, _ := aggregatorFixture(t)

	rows := agg.ScaleScores("sess-1", domain.AssessmentADL, nil)
	require.Len(t, rows, 3)

	for _, row := range rows {
		require.NotNil(t, row.Interpretation)
		assert.Equal(t, domain.InterpretationNotAssessed, *row.Interpretation)
		assert.Nil(t, row.ConfidenceAverage)
		assert.Equal(t, 0.0, row.PercentageScore)
		require.NotNil(t, row.ResponsesCount)
		assert.Equal(t, 0, *row.ResponsesCount)
	}
}

func TestScaleScoresPartialDomain(t *testing.T) {
	agg, _ := aggregatorFixture(t)

	// Only the self_care domain was answered; the mobility domain row falls
	// back to the not-assessed sentinel while the scale row aggregates what
	// exists.
	rows := agg.ScaleScores("sess-1", domain.AssessmentADL, []*response.QuestionResponse{
		resp("Q3", 3, 0.9),
	})
	require.Len(t, rows, 3)

	total := rows[0]
	assert.Equal(t, 3.0, total.RawScore)
	assert.Equal(t, 9.0, total.MaxPossibleScore)
	require.NotNil(t, total.ResponsesCount)
	assert.Equal(t, 1, *total.ResponsesCount)

	mobility := rows[1]
	require.NotNil(t, mobility.Interpretation)
	assert.Equal(t, domain.InterpretationNotAssessed, *mobility.Interpretation)

	selfCare := rows[2]
	assert.Equal(t, 100.0, selfCare.PercentageScore)
	require.NotNil(t, selfCare.Interpretation)
	assert.Equal(t, domain.InterpretationIndependent, *selfCare.Interpretation)
}

func TestScaleScoresUnknownScale(t *testing.T) {
	agg, _ := aggregatorFixture(t)
	assert.Nil(t, agg.ScaleScores("sess-1", domain.AssessmentIADL, nil))
}
