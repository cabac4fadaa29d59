package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/careloop/assessflow/internal/domain"
	"github.com/careloop/assessflow/internal/domain/response"
	"github.com/careloop/assessflow/internal/domain/score"
	"github.com/careloop/assessflow/internal/graph"
)

// Aggregator rolls persisted responses up into per-domain and per-scale
// score rows. It only reads QuestionResponse data for its session; score
// rows are written once and never mutated, so a re-run yields new rows.
type Aggregator struct {
	flow *graph.Flow
	log  *zap.Logger
}

func NewAggregator(flow *graph.Flow, log *zap.Logger) *Aggregator {
	return &Aggregator{flow: flow, log: log}
}

// ScaleScores computes the scale-level row followed by one row per domain
// for a completed (or abandoned) scale. Scopes with zero responses produce
// a sentinel not_assessed row rather than a division error.
func (a *Aggregator) ScaleScores(sessionID string, t domain.AssessmentType, responses []*response.QuestionResponse) []*score.AssessmentScore {
	scale, ok := a.flow.Scale(t)
	if !ok {
		return nil
	}

	byQuestion := make(map[string]*response.QuestionResponse, len(responses))
	for _, r := range responses {
		byQuestion[r.QuestionID] = r
	}

	now := time.Now().UTC()
	rows := []*score.AssessmentScore{
		a.buildRow(sessionID, scaleTotalType(t), nil, scale, scale.Chain(), byQuestion, now),
	}

	for _, dom := range scaleDomains(scale) {
		d := dom
		rows = append(rows, a.buildRow(sessionID, scaleDomainType(t), &d.name, scale, d.questions, byQuestion, now))
	}

	a.log.Info("aggregated scores",
		zap.String("session_id", sessionID),
		zap.String("assessment_type", string(t)),
		zap.Int("score_rows", len(rows)),
		zap.Int("responses", len(responses)),
	)

	return rows
}

func (a *Aggregator) buildRow(
	sessionID string,
	scoreType score.ScoreType,
	domainName *string,
	scale *graph.Scale,
	questions []*graph.Question,
	byQuestion map[string]*response.QuestionResponse,
	at time.Time,
) *score.AssessmentScore {
	var raw, max, confSum float64
	count := 0

	for _, q := range questions {
		max += q.MaxScore()
		if r, ok := byQuestion[q.Code]; ok {
			raw += r.InterpretedScore
			confSum += r.Confidence
			count++
		}
	}

	row := &score.AssessmentScore{
		SessionID:        sessionID,
		ScoreType:        scoreType,
		Domain:           domainName,
		RawScore:         raw,
		MaxPossibleScore: max,
		CalculatedAt:     at,
		ResponsesCount:   intPtr(count),
	}

	if count == 0 {
		notAssessed := domain.InterpretationNotAssessed
		row.Interpretation = &notAssessed
		return row
	}

	if max > 0 {
		row.PercentageScore = raw / max * 100
	}
	avg := confSum / float64(count)
	row.ConfidenceAverage = &avg
	label := scale.Interpret(row.PercentageScore)
	row.Interpretation = &label

	return row
}

type domainGroup struct {
	name      string
	questions []*graph.Question
}

// scaleDomains groups a scale's questions by domain in chain order.
func scaleDomains(s *graph.Scale) []*domainGroup {
	var groups []*domainGroup
	byName := make(map[string]*domainGroup)
	for _, q := range s.Chain() {
		g, ok := byName[q.Domain]
		if !ok {
			g = &domainGroup{name: q.Domain}
			byName[q.Domain] = g
			groups = append(groups, g)
		}
		g.questions = append(g.questions, q)
	}
	return groups
}

func scaleTotalType(t domain.AssessmentType) score.ScoreType {
	if t == domain.AssessmentADL {
		return score.TypeADLTotal
	}
	return score.TypeIADLTotal
}

func scaleDomainType(t domain.AssessmentType) score.ScoreType {
	if t == domain.AssessmentADL {
		return score.TypeADLDomain
	}
	return score.TypeIADLDomain
}

func intPtr(v int) *int { return &v }
