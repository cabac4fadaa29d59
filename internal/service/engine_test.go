package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careloop/assessflow/internal/config"
	"github.com/careloop/assessflow/internal/domain"
	"github.com/careloop/assessflow/internal/domain/response"
	"github.com/careloop/assessflow/internal/domain/score"
	"github.com/careloop/assessflow/internal/domain/session"
	"github.com/careloop/assessflow/internal/graph"
	"github.com/careloop/assessflow/internal/interpreter"
	"github.com/careloop/assessflow/pkg/metrics"
)

// memStore is an in-memory Store for engine tests. InTx is a passthrough;
// a non-nil txErr simulates a storage outage before any write lands.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]session.Session
	messages  []session.ChatMessage
	responses []response.QuestionResponse
	scores    []score.AssessmentScore
	txErr     error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]session.Session)}
}

func (m *memStore) Sessions() session.Repository   { return (*memSessions)(m) }
func (m *memStore) Responses() response.Repository { return (*memResponses)(m) }
func (m *memStore) Scores() score.Repository       { return (*memScores)(m) }

func (m *memStore) InTx(ctx context.Context, fn func(Store) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	return fn(m)
}

type memSessions memStore

func (m *memSessions) Create(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = *s
	return nil
}

func (m *memSessions) GetByID(ctx context.Context, sessionID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	cp := s
	return &cp, nil
}

func (m *memSessions) Update(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; !ok {
		return session.ErrSessionNotFound
	}
	m.sessions[s.SessionID] = *s
	return nil
}

func (m *memSessions) ListActive(ctx context.Context, patientID string) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*session.Session
	for _, s := range m.sessions {
		if s.CurrentState.IsTerminal() {
			continue
		}
		if patientID != "" && s.PatientID != patientID {
			continue
		}
		cp := s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memSessions) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return session.ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *memSessions) AppendMessage(ctx context.Context, msg *session.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = int64(len(m.messages) + 1)
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memSessions) Transcript(ctx context.Context, sessionID string) ([]*session.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*session.ChatMessage
	for i := range m.messages {
		if m.messages[i].SessionID == sessionID {
			cp := m.messages[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memResponses memStore

func (m *memResponses) Create(ctx context.Context, r *response.QuestionResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.responses {
		if m.responses[i].SessionID == r.SessionID && m.responses[i].QuestionID == r.QuestionID {
			return response.ErrDuplicateResponse
		}
	}
	r.ID = int64(len(m.responses) + 1)
	m.responses = append(m.responses, *r)
	return nil
}

func (m *memResponses) Exists(ctx context.Context, sessionID, questionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.responses {
		if m.responses[i].SessionID == sessionID && m.responses[i].QuestionID == questionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memResponses) ListBySession(ctx context.Context, sessionID string) ([]*response.QuestionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*response.QuestionResponse
	for i := range m.responses {
		if m.responses[i].SessionID == sessionID {
			cp := m.responses[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memResponses) ListByType(ctx context.Context, sessionID string, t domain.AssessmentType) ([]*response.QuestionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*response.QuestionResponse
	for i := range m.responses {
		if m.responses[i].SessionID == sessionID && m.responses[i].AssessmentType == t {
			cp := m.responses[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memScores memStore

func (m *memScores) Create(ctx context.Context, s *score.AssessmentScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.scores) + 1)
	m.scores = append(m.scores, *s)
	return nil
}

func (m *memScores) ListBySession(ctx context.Context, sessionID string) ([]*score.AssessmentScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*score.AssessmentScore
	for i := range m.scores {
		if m.scores[i].SessionID == sessionID {
			cp := m.scores[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// scriptedClient pops one canned model exchange per call.
type scriptedClient struct {
	mu    sync.Mutex
	queue []scriptedReply
}

type scriptedReply struct {
	response string
	err      error
}

func (c *scriptedClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return "", errors.New("scripted client exhausted")
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	return next.response, next.err
}

func (c *scriptedClient) push(replies ...scriptedReply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, replies...)
}

func modelScore(score float64, confidence float64) scriptedReply {
	return scriptedReply{response: fmt.Sprintf(
		`{"interpreted_score": %v, "confidence": %v, "reasoning": "test", "needs_clarification": false, "clarification_question": null}`,
		score, confidence)}
}

func modelClarify(confidence float64, question string) scriptedReply {
	return scriptedReply{response: fmt.Sprintf(
		`{"interpreted_score": 0, "confidence": %v, "reasoning": "ambiguous", "needs_clarification": true, "clarification_question": %q}`,
		confidence, question)}
}

func modelFailure() scriptedReply {
	return scriptedReply{err: errors.New("upstream unavailable")}
}

func testConfig() config.AssessmentConfig {
	return config.AssessmentConfig{
		ConfidenceThresholdLow:  0.5,
		ConfidenceThresholdHigh: 0.8,
		MaxClarifications:       2,
		InterpretMaxRetries:     2,
		MaxSessionErrors:        3,
	}
}

func newTestEngine(t *testing.T, store *memStore, client *scriptedClient, cfg config.AssessmentConfig) *Engine {
	t.Helper()
	flow, err := graph.LoadDefault()
	require.NoError(t, err)

	log := zap.NewNop()
	interp := interpreter.New(client, interpreter.Config{
		ThresholdLow:  cfg.ConfidenceThresholdLow,
		ThresholdHigh: cfg.ConfidenceThresholdHigh,
		Timeout:       time.Second,
	}, log)

	return NewEngine(store, flow, interp, NewAggregator(flow, log), cfg, nil, log)
}

func TestStartSession(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(t, store, &scriptedClient{}, testConfig())

	turn, err := eng.Start(context.Background(), "patient-42", map[string]any{"referrer": "clinic"})
	require.NoError(t, err)

	assert.Equal(t, TurnPrompt, turn.Kind)
	assert.Contains(t, turn.Message, "Question 1 of 18")
	assert.Equal(t, domain.PhaseIADL, turn.Progress.Phase)
	assert.Equal(t, domain.StateAwaitingAnswer, turn.Progress.State)
	assert.Equal(t, 18, turn.Progress.TotalQuestions)
	assert.Equal(t, 0, turn.Progress.QuestionsCompleted)

	s, err := store.Sessions().GetByID(context.Background(), turn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "patient-42", s.PatientID)
	assert.Equal(t, "LAWTON_TELEPHONE", s.Meta.PendingQuestionID)
	assert.Equal(t, "clinic", s.Meta.Extra["referrer"])

	transcript, err := store.Sessions().Transcript(context.Background(), turn.SessionID)
	require.NoError(t, err)
	require.Len(t, transcript, 3)
	assert.Equal(t, domain.MessageTypeSystem, transcript[0].MessageType)
	assert.Equal(t, domain.MessageTypeWelcome, transcript[1].MessageType)
	assert.Equal(t, domain.MessageTypeQuestion, transcript[2].MessageType)
}

func TestStartRequiresPatientID(t *testing.T) {
	eng := newTestEngine(t, newMemStore(), &scriptedClient{}, testConfig())

	_, err := eng.Start(context.Background(), "   ", nil)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSubmitAcceptsConfidentAnswer(t *testing.T) {
	store := newMemStore()
	client := &scriptedClient{}
	eng := newTestEngine(t, store, client, testConfig())

	start, err := eng.Start(context.Background(), "patient-1", nil)
	require.NoError(t, err)

	client.push(modelScore(1, 0.95))
	turn, err := eng.SubmitAnswer(context.Background(), start.SessionID, "I use the phone every day")
	require.NoError(t, err)

	assert.Equal(t, TurnPrompt, turn.Kind)
	assert.False(t, turn.NeedsClarification)
	assert.Contains(t, turn.Message, "Question 2 of 18")
	assert.Equal(t, 1, turn.Progress.QuestionsCompleted)
	assert.Equal(t, 1, turn.Progress.IADLCompleted)

	rows, err := store.Responses().ListBySession(context.Background(), start.SessionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "LAWTON_TELEPHONE", rows[0].QuestionID)
	assert.Equal(t, 1.0, rows[0].InterpretedScore)
	assert.Equal(t, 0.95, rows[0].Confidence)
	assert.False(t, rows[0].NeedsClarification)
	require.NotNil(t, rows[0].RawLLMResponse)

	s, err := store.Sessions().GetByID(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "LAWTON_SHOPPING", s.Meta.PendingQuestionID)
	assert.Equal(t, domain.StateAwaitingAnswer, s.CurrentState)
}

func TestSubmitRejectsEmptyAnswer(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(t, store, &scriptedClient{}, testConfig())

	start, err := eng.Start(context.Background(), "patient-1", nil)
	require.NoError(t, err)

	_, err = eng.SubmitAnswer(context.Background(), start.SessionID, "  ")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSubmitUnknownSession(t *testing.T) {
	eng := newTestEngine(t, newMemStore(), &scriptedClient{}, testConfig())

	_, err := eng.SubmitAnswer(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestClarificationRoundTrip(t *testing.T) {
	store := newMemStore()
	client := &scriptedClient{}
	eng := newTestEngine(t, store, client, testConfig())

	start, err := eng.Start(context.Background(), "patient-1", nil)
	require.NoError(t, err)

	client.push(modelClarify(0.3, "Do you dial numbers yourself?"))
	turn, err := eng.SubmitAnswer(context.Background(), start.SessionID, "well, sort of")
	require.NoError(t, err)

	assert.Equal(t, TurnClarification, turn.Kind)
	assert.True(t, turn.NeedsClarification)
	assert.Equal(t, "Do you dial numbers yourself?", turn.Message)
	assert.Equal(t, domain.StateAwaitingClarification, turn.Progress.State)
	assert.Equal(t, 0, turn.Progress.QuestionsCompleted, "clarification must not finalize the question")

	rows, err := store.Responses().ListBySession(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	s, err := store.Sessions().GetByID(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Meta.ClarificationCount)

	// The clarified answer is re-interpreted against the same question.
	client.push(modelScore(1, 0.9))
	turn, err = eng.SubmitAnswer(context.Background(), start.SessionID, "yes, I dial them myself")
	require.NoError(t, err)
	assert.Equal(t, TurnPrompt, turn.Kind)
	assert.Equal(t, 1, turn.Progress.QuestionsCompleted)

	s, err = store.Sessions().GetByID(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Meta.ClarificationCount, "accepting a response resets the counter")

	transcript, err := store.Sessions().Transcript(context.Background(), start.SessionID)
	require.NoError(t, err)
	var clarifications int
	for _, m := range transcript {
		if m.MessageType == domain.MessageTypeClarification {
			clarifications++
		}
	}
	assert.Equal(t, 2, clarifications, "assistant clarification plus the user's clarifying reply")
}

func TestClarificationBoundForcesAcceptance(t *testing.T) {
	store := newMemStore()
	client := &scriptedClient{}
	cfg := testConfig() // MaxClarifications: 2
	eng := newTestEngine(t, store, client, cfg)

	start, err := eng.Start(context.Background(), "patient-1", nil)
	require.NoError(t, err)

	client.push(modelClarify(0.2, "Could you say more?"))
	turn, err := eng.SubmitAnswer(context.Background(), start.SessionID, "hmm")
	require.NoError(t, err)
	assert.Equal(t, TurnClarification, turn.Kind)

	client.push(modelClarify(0.2, "Still unclear, could you rephrase?"))
	turn, err = eng.SubmitAnswer(context.Background(), start.SessionID, "not sure")
	require.NoError(t, err)
	assert.Equal(t, TurnClarification, turn.Kind)

	// Third low-confidence result exceeds the budget: best available
	// interpretation is finalized and flagged for review.
	client.push(modelClarify(0.2, "One more time?"))
	turn, err = eng.SubmitAnswer(context.Background(), start.SessionID, "I really cannot say")
	require.NoError(t, err)
	assert.Equal(t, TurnPrompt, turn.Kind)
	assert.Equal(t, 1, turn.Progress.QuestionsCompleted)

	rows, err := store.Responses().ListBySession(context.Background(), start.SessionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].NeedsClarification, "force-accepted responses stay flagged in the audit trail")
	assert.Contains(t, rows[0].Reasoning, "force-accepted")
}

func TestForceAcceptNeverPersistsOutOfRangeScore(t *testing.T) {
	store := newMemStore()
	client := &scriptedClient{}
	eng := newTestEngine(t, store, client, testConfig()) // MaxClarifications: 2

	start, err := eng.Start(context.Background(), "patient-1", nil)
	require.NoError(t, err)

	// The model insists on a score outside LAWTON_TELEPHONE's 0/1 option
	// set on every exchange, including the one that exhausts the
	// clarification budget.
	for i := 0; i < 3; i++ {
		client.push(modelScore(5, 0.95))
	}

	for i := 0; i < 2; i++ {
		turn, err := eng.SubmitAnswer(context.Background(), start.SessionID, "I use it constantly")
		require.NoError(t, err)
		assert.Equal(t, TurnClarification, turn.Kind)
	}

	turn, err := eng.SubmitAnswer(context.Background(), start.SessionID, "I use it constantly")
	require.NoError(t, err)
	assert.Equal(t, TurnPrompt, turn.Kind)
	assert.Equal(t, 1, turn.Progress.QuestionsCompleted)

	rows, err := store.Responses().ListBySession(context.Background(), start.SessionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	q, ok := eng.flow.Question("LAWTON_TELEPHONE")
	require.True(t, ok)
	assert.True(t, q.ValidScore(rows[0].InterpretedScore), "persisted score must be one of the question's option values")
	assert.Equal(t, q.MinScore(), rows[0].InterpretedScore)
	assert.Equal(t, 0.0, rows[0].Confidence)
	assert.True(t, rows[0].NeedsClarification)
	assert.Contains(t, rows[0].Reasoning, "out-of-range")
	assert.LessOrEqual(t, rows[0].InterpretedScore, q.MaxScore())
}

func TestInterpretationFailureDegradesAndEscalates(t *testing.T) {
	store := newMemStore()
	client := &scriptedClient{}
	cfg := testConfig() // InterpretMaxRetries: 2, MaxSessionErrors: 3
	eng := newTestEngine(t, store, client, cfg)

	start, err := eng.Start(context.Background(), "patient-1", nil)
	require.NoError(t, err)

	// Two failed submits: each burns one retry budget, degrades to the
	// fallback option list, and keeps the session alive.
	for i := 1; i <= 2; i++ {
		client.push(modelFailure(), modelFailure())
		turn, err := eng.SubmitAnswer(context.Background(), start.SessionID, "I use it daily")
		require.NoError(t, err)
		assert.Equal(t, TurnClarification, turn.Kind)
		assert.Contains(t, turn.Message, "Does not use telephone at all")
		assert.Equal(t, i, turn.Progress.ErrorCount)
		assert.Equal(t, domain.StateAwaitingClarification, turn.Progress.State)
	}

	rows, err := store.Responses().ListBySession(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Empty(t, rows, "failed interpretations never finalize responses")

	// Third failure crosses the session error budget.
	client.push(modelFailure(), modelFailure())
	turn, err := eng.SubmitAnswer(context.Background(), start.SessionID, "I use it daily")
	require.NoError(t, err)
	assert.Equal(t, TurnError, turn.Kind)
	assert.Equal(t, domain.StateErrored, turn.Progress.State)

	s, err := store.Sessions().GetByID(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, s.ErrorCount)
	require.NotNil(t, s.LastError)

	_, err = eng.SubmitAnswer(context.Background(), start.SessionID, "hello?")
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
}

func TestErroredCounterTracksCommittedTransitionsOnly(t *testing.T) {
	store := newMemStore()
	client := &scriptedClient{}
	cfg := testConfig()
	cfg.InterpretMaxRetries = 1
	cfg.MaxSessionErrors = 1

	flow, err := graph.LoadDefault()
	require.NoError(t, err)
	log := zap.NewNop()
	interp := interpreter.New(client, interpreter.Config{
		ThresholdLow:  cfg.ConfidenceThresholdLow,
		ThresholdHigh: cfg.ConfidenceThresholdHigh,
		Timeout:       time.Second,
	}, log)
	collector := metrics.NewCollector("assessflow_engine_test")
	eng := NewEngine(store, flow, interp, NewAggregator(flow, log), cfg, collector, log)

	ctx := context.Background()
	start, err := eng.Start(ctx, "patient-1", nil)
	require.NoError(t, err)

	// A storage outage rolls the errored transition back, so the counter
	// must not move.
	store.txErr = errors.New("connection reset")
	client.push(modelFailure())
	_, err = eng.SubmitAnswer(ctx, start.SessionID, "I use it daily")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.SessionsErroredTotal))

	store.txErr = nil
	client.push(modelFailure())
	turn, err := eng.SubmitAnswer(ctx, start.SessionID, "I use it daily")
	require.NoError(t, err)
	assert.Equal(t, TurnError, turn.Kind)
	assert.Equal(t, domain.StateErrored, turn.Progress.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.SessionsErroredTotal))
}

func TestStorageFailureLeavesSessionUntouched(t *testing.T) {
	store := newMemStore()
	client := &scriptedClient{}
	eng := newTestEngine(t, store, client, testConfig())

	start, err := eng.Start(context.Background(), "patient-1", nil)
	require.NoError(t, err)

	store.txErr = errors.New("connection reset")
	client.push(modelScore(1, 0.95))
	_, err = eng.SubmitAnswer(context.Background(), start.SessionID, "daily")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	store.txErr = nil
	s, err := store.Sessions().GetByID(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, s.QuestionsCompleted)
	assert.Equal(t, domain.StateAwaitingAnswer, s.CurrentState)
}

func TestFullAssessmentRun(t *testing.T) {
	store := newMemStore()
	client := &scriptedClient{}
	eng := newTestEngine(t, store, client, testConfig())

	ctx := context.Background()
	start, err := eng.Start(ctx, "patient-e2e", nil)
	require.NoError(t, err)

	var transitionSeen, completionTurn *Turn
	for i := 0; i < 18; i++ {
		client.push(modelScore(0, 0.9))
		turn, err := eng.SubmitAnswer(ctx, start.SessionID, "I need help with that")
		require.NoError(t, err, "submit %d", i+1)

		switch turn.Progress.QuestionsCompleted {
		case 8:
			transitionSeen = turn
		case 18:
			completionTurn = turn
		}
	}

	require.NotNil(t, transitionSeen)
	assert.Equal(t, domain.PhaseADL, transitionSeen.Progress.Phase, "scale exhaustion moves to the next phase")
	assert.Contains(t, transitionSeen.Message, "Question 9 of 18")

	require.NotNil(t, completionTurn)
	assert.Equal(t, TurnCompletion, completionTurn.Kind)
	assert.Equal(t, domain.PhaseComplete, completionTurn.Progress.Phase)
	assert.Equal(t, domain.StateCompleted, completionTurn.Progress.State)
	assert.Contains(t, completionTurn.Message, "severe impairment")

	s, err := store.Sessions().GetByID(ctx, start.SessionID)
	require.NoError(t, err)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, 8, s.IADLQuestionsCompleted)
	assert.Equal(t, 10, s.ADLQuestionsCompleted)

	scores, err := eng.Results(ctx, start.SessionID)
	require.NoError(t, err)
	// IADL: 1 total + 8 domains. ADL: 1 total + 10 domains.
	assert.Len(t, scores, 20)

	var iadlTotal, adlTotal *score.AssessmentScore
	for _, sc := range scores {
		switch sc.ScoreType {
		case score.TypeIADLTotal:
			iadlTotal = sc
		case score.TypeADLTotal:
			adlTotal = sc
		}
	}
	require.NotNil(t, iadlTotal)
	require.NotNil(t, adlTotal)
	assert.Equal(t, 0.0, iadlTotal.RawScore)
	assert.Equal(t, 8.0, iadlTotal.MaxPossibleScore)
	assert.Equal(t, 0.0, adlTotal.RawScore)
	assert.Equal(t, 20.0, adlTotal.MaxPossibleScore)

	_, err = eng.SubmitAnswer(ctx, start.SessionID, "one more")
	assert.ErrorIs(t, err, session.ErrInvalidTransition, "completed sessions reject answers")
}

func TestSummaryConfidenceMetrics(t *testing.T) {
	store := newMemStore()
	client := &scriptedClient{}
	eng := newTestEngine(t, store, client, testConfig())

	ctx := context.Background()
	start, err := eng.Start(ctx, "patient-1", nil)
	require.NoError(t, err)

	client.push(modelScore(1, 0.9))
	_, err = eng.SubmitAnswer(ctx, start.SessionID, "every day")
	require.NoError(t, err)

	client.push(modelScore(0, 0.7)) // mid band: accepted but flagged
	_, err = eng.SubmitAnswer(ctx, start.SessionID, "my son does the shopping")
	require.NoError(t, err)

	sum, err := eng.Summary(ctx, start.SessionID)
	require.NoError(t, err)

	assert.Len(t, sum.Responses, 2)
	assert.InDelta(t, 0.8, sum.Confidence.Average, 1e-9)
	assert.Equal(t, 1, sum.Confidence.LowConfidenceCount)
	assert.Equal(t, 1, sum.Confidence.ClarificationCount, "flagged responses count toward review metrics")
	assert.NotEmpty(t, sum.Transcript)
}

func TestListAndDeleteSessions(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(t, store, &scriptedClient{}, testConfig())

	ctx := context.Background()
	a, err := eng.Start(ctx, "patient-a", nil)
	require.NoError(t, err)
	_, err = eng.Start(ctx, "patient-b", nil)
	require.NoError(t, err)

	all, err := eng.ListActive(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := eng.ListActive(ctx, "patient-a")
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, a.SessionID, onlyA[0].SessionID)

	require.NoError(t, eng.Delete(ctx, a.SessionID))
	_, err = eng.Progress(ctx, a.SessionID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	assert.ErrorIs(t, eng.Delete(ctx, a.SessionID), session.ErrSessionNotFound)
}

func TestConcurrentSubmitsFinalizeOnce(t *testing.T) {
	store := newMemStore()
	client := &scriptedClient{}
	eng := newTestEngine(t, store, client, testConfig())

	ctx := context.Background()
	start, err := eng.Start(ctx, "patient-1", nil)
	require.NoError(t, err)

	const workers = 4
	for i := 0; i < workers; i++ {
		client.push(modelScore(1, 0.95))
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = eng.SubmitAnswer(ctx, start.SessionID, "yes, independently")
		}()
	}
	wg.Wait()

	rows, err := store.Responses().ListBySession(ctx, start.SessionID)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, r := range rows {
		seen[r.QuestionID]++
	}
	for code, n := range seen {
		assert.Equal(t, 1, n, "question %s finalized more than once", code)
	}

	s, err := store.Sessions().GetByID(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, len(rows), s.QuestionsCompleted)
}
