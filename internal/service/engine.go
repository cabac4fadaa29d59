package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
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

// TurnKind classifies what the engine hands back after a conversation turn.
type TurnKind string

const (
	TurnPrompt        TurnKind = "next_prompt"
	TurnClarification TurnKind = "clarification"
	TurnCompletion    TurnKind = "completion"
	TurnError         TurnKind = "error"
)

// Turn is the engine's answer to start or submit: the assistant message to
// display plus the session's durable position.
type Turn struct {
	SessionID          string
	Kind               TurnKind
	Message            string
	NeedsClarification bool
	Progress           Progress
}

// Progress reports a session's position for the consumer API.
type Progress struct {
	Phase              domain.Phase
	State              domain.State
	QuestionsCompleted int
	TotalQuestions     int
	IADLCompleted      int
	ADLCompleted       int
	ErrorCount         int
}

// ConfidenceMetrics summarizes interpretation quality over a session.
type ConfidenceMetrics struct {
	Average            float64
	LowConfidenceCount int
	ClarificationCount int
}

// Summary is the full audit view of one session.
type Summary struct {
	Session    *session.Session
	Scores     []*score.AssessmentScore
	Responses  []*response.QuestionResponse
	Transcript []*session.ChatMessage
	Confidence ConfidenceMetrics
}

// Engine is the session state machine. It exclusively owns Session
// mutation, drives the navigator and interpreter in sequence, and records
// every transition to the audit store atomically. One submit is processed
// at a time per session; distinct sessions run in parallel.
type Engine struct {
	store   Store
	flow    *graph.Flow
	interp  *interpreter.Interpreter
	agg     *Aggregator
	cfg     config.AssessmentConfig
	metrics *metrics.Collector
	log     *zap.Logger
	locks   *sessionLocks
	tracer  trace.Tracer
}

func NewEngine(
	store Store,
	flow *graph.Flow,
	interp *interpreter.Interpreter,
	agg *Aggregator,
	cfg config.AssessmentConfig,
	collector *metrics.Collector,
	log *zap.Logger,
) *Engine {
	return &Engine{
		store:   store,
		flow:    flow,
		interp:  interp,
		agg:     agg,
		cfg:     cfg,
		metrics: collector,
		log:     log,
		locks:   newSessionLocks(),
		tracer:  otel.Tracer("github.com/careloop/assessflow/internal/service"),
	}
}

// Start creates a session, emits the welcome and first question, and moves
// the machine into the first scale's awaiting-answer state.
func (e *Engine) Start(ctx context.Context, patientID string, extra map[string]any) (*Turn, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Start")
	defer span.End()

	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, &ValidationError{Fields: []string{"patient_id is required"}}
	}

	firstType := e.flow.FirstType()
	firstQ, ok := e.flow.Next(firstType, nil)
	if !ok {
		return nil, fmt.Errorf("%w: first scale %s has no questions", graph.ErrInvalidFlow, firstType)
	}

	now := time.Now().UTC()
	s := &session.Session{
		SessionID:      uuid.NewString(),
		PatientID:      patientID,
		StartedAt:      now,
		LastActivity:   now,
		CurrentPhase:   phaseFor(firstType),
		CurrentState:   domain.StateAwaitingAnswer,
		TotalQuestions: e.flow.TotalQuestions(),
		Meta: session.Meta{
			PendingQuestionID: firstQ.Code,
			Extra:             extra,
		},
	}

	welcome := welcomeMessage(patientID, s.TotalQuestions)
	questionMsg := questionMessage(firstQ, 1, s.TotalQuestions)

	err := e.store.InTx(ctx, func(tx Store) error {
		if err := tx.Sessions().Create(ctx, s); err != nil {
			return err
		}
		return appendMessages(ctx, tx, now,
			msg(s.SessionID, domain.RoleSystem, "Assessment session started", domain.MessageTypeSystem, ""),
			msg(s.SessionID, domain.RoleAssistant, welcome, domain.MessageTypeWelcome, ""),
			msg(s.SessionID, domain.RoleAssistant, questionMsg, domain.MessageTypeQuestion, firstQ.Code),
		)
	})
	if err != nil {
		return nil, &PersistenceError{Op: "start session", Err: err}
	}

	if e.metrics != nil {
		e.metrics.SessionsStartedTotal.Inc()
	}
	e.log.Info("session started",
		zap.String("session_id", s.SessionID),
		zap.String("patient_id", patientID),
		zap.String("phase", string(s.CurrentPhase)),
	)

	return &Turn{
		SessionID: s.SessionID,
		Kind:      TurnPrompt,
		Message:   welcome + "\n\n" + questionMsg,
		Progress:  progressOf(s),
	}, nil
}

// SubmitAnswer processes one user answer: interpret, then either finalize
// the response and advance, enter the clarification sub-state, or degrade
// to a fallback prompt on repeated interpretation failure. All writes for
// the transition commit atomically.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, text string) (*Turn, error) {
	ctx, span := e.tracer.Start(ctx, "engine.SubmitAnswer")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ValidationError{Fields: []string{"answer text is required"}}
	}

	lock := e.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, err := e.store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.CurrentState.AcceptsAnswer() {
		return nil, fmt.Errorf("%w: session is %s", session.ErrInvalidTransition, s.CurrentState)
	}

	completedByType, err := e.completedByType(ctx, sessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "load responses", Err: err}
	}

	scaleType := s.CurrentPhase.AssessmentType()
	q, ok := e.flow.Next(scaleType, codeSet(completedByType[scaleType]))
	if !ok {
		// An awaiting state with an exhausted scale means the stored
		// position and the response rows disagree.
		return nil, fmt.Errorf("%w: no pending question for phase %s", session.ErrInvalidTransition, s.CurrentPhase)
	}

	userMsgType := domain.MessageTypeAnswer
	if s.CurrentState == domain.StateAwaitingClarification {
		userMsgType = domain.MessageTypeClarification
	}
	userMsg := msg(sessionID, domain.RoleUser, text, userMsgType, q.Code)

	result, ierr := e.interpretWithRetries(ctx, q, text)
	if ierr != nil {
		return e.handleInterpretFailure(ctx, s, q, userMsg, ierr)
	}

	if result.NeedsClarification && s.Meta.ClarificationCount < e.cfg.MaxClarifications {
		return e.requestClarification(ctx, s, q, userMsg, result)
	}

	if result.NeedsClarification {
		// Clarification budget exhausted: force-accept the best available
		// interpretation so the session always moves forward. A score
		// outside the question's option set is never persisted; it falls
		// back to the lowest defined option value.
		if !q.ValidScore(result.Score) {
			result.Score = q.MinScore()
			result.Confidence = 0
			result.Reasoning = fmt.Sprintf("substituted lowest option value for out-of-range model score; %s", result.Reasoning)
		}
		result.Flagged = true
		result.Reasoning = fmt.Sprintf("force-accepted after %d clarification attempts with low confidence; %s",
			s.Meta.ClarificationCount, result.Reasoning)
		e.countInterpretation("forced")
	} else if result.Flagged {
		e.countInterpretation("flagged")
	} else {
		e.countInterpretation("accepted")
	}

	return e.acceptResponse(ctx, s, q, text, userMsg, result, completedByType)
}

func (e *Engine) interpretWithRetries(ctx context.Context, q *graph.Question, text string) (*interpreter.Interpretation, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.InterpretMaxRetries; attempt++ {
		start := time.Now()
		result, err := e.interp.Interpret(ctx, q, text)
		if e.metrics != nil {
			e.metrics.ModelCallDuration.Observe(time.Since(start).Seconds())
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		e.log.Warn("interpretation attempt failed",
			zap.String("question_id", q.Code),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	e.countInterpretation("failed")
	return nil, lastErr
}

// handleInterpretFailure escalates a retry-exhausted interpretation to the
// session error counters and degrades to the verbatim option list as a
// clarification prompt. Only crossing the session error budget abandons
// the session.
func (e *Engine) handleInterpretFailure(ctx context.Context, s *session.Session, q *graph.Question, userMsg *session.ChatMessage, ierr error) (*Turn, error) {
	now := time.Now().UTC()
	s.RecordError(ierr.Error())
	s.LastActivity = now

	kind := TurnClarification
	content := fallbackClarification(q)
	msgType := domain.MessageTypeClarification
	s.CurrentState = domain.StateAwaitingClarification

	if s.ErrorCount >= e.cfg.MaxSessionErrors {
		kind = TurnError
		content = "I'm sorry, I'm unable to continue the assessment right now. Your care team has been notified and your progress so far is saved."
		msgType = domain.MessageTypeError
		s.CurrentState = domain.StateErrored
		s.Meta.PendingQuestionID = ""
	}

	assistantMsg := msg(s.SessionID, domain.RoleAssistant, content, msgType, q.Code)
	err := e.store.InTx(ctx, func(tx Store) error {
		if err := tx.Sessions().Update(ctx, s); err != nil {
			return err
		}
		return appendMessages(ctx, tx, now, userMsg, assistantMsg)
	})
	if err != nil {
		return nil, &PersistenceError{Op: "record interpretation failure", Err: err}
	}

	if s.CurrentState == domain.StateErrored && e.metrics != nil {
		e.metrics.SessionsErroredTotal.Inc()
	}

	e.log.Error("interpretation failed after retries",
		zap.String("session_id", s.SessionID),
		zap.String("question_id", q.Code),
		zap.Int("error_count", s.ErrorCount),
		zap.Error(ierr),
	)

	return &Turn{
		SessionID:          s.SessionID,
		Kind:               kind,
		Message:            content,
		NeedsClarification: kind == TurnClarification,
		Progress:           progressOf(s),
	}, nil
}

func (e *Engine) requestClarification(ctx context.Context, s *session.Session, q *graph.Question, userMsg *session.ChatMessage, result *interpreter.Interpretation) (*Turn, error) {
	now := time.Now().UTC()
	s.Meta.ClarificationCount++
	s.CurrentState = domain.StateAwaitingClarification
	s.LastActivity = now
	e.countInterpretation("clarification")

	content := result.ClarificationQuestion
	if content == "" {
		content = fallbackClarification(q)
	}

	assistantMsg := msg(s.SessionID, domain.RoleAssistant, content, domain.MessageTypeClarification, q.Code)
	err := e.store.InTx(ctx, func(tx Store) error {
		if err := tx.Sessions().Update(ctx, s); err != nil {
			return err
		}
		return appendMessages(ctx, tx, now, userMsg, assistantMsg)
	})
	if err != nil {
		return nil, &PersistenceError{Op: "request clarification", Err: err}
	}

	e.log.Info("clarification requested",
		zap.String("session_id", s.SessionID),
		zap.String("question_id", q.Code),
		zap.Float64("confidence", result.Confidence),
		zap.Int("clarification_count", s.Meta.ClarificationCount),
	)

	return &Turn{
		SessionID:          s.SessionID,
		Kind:               TurnClarification,
		Message:            content,
		NeedsClarification: true,
		Progress:           progressOf(s),
	}, nil
}

// acceptResponse finalizes the interpretation: insert the response row,
// advance the counters, and navigate — next question, phase transition
// with scale aggregation, or full completion.
func (e *Engine) acceptResponse(
	ctx context.Context,
	s *session.Session,
	q *graph.Question,
	text string,
	userMsg *session.ChatMessage,
	result *interpreter.Interpretation,
	completedByType map[domain.AssessmentType][]*response.QuestionResponse,
) (*Turn, error) {
	now := time.Now().UTC()
	scaleType := q.AssessmentType

	row := &response.QuestionResponse{
		SessionID:          s.SessionID,
		QuestionID:         q.Code,
		QuestionText:       q.Text,
		QuestionDomain:     q.Domain,
		AssessmentType:     scaleType,
		UserResponse:       text,
		ResponseTimestamp:  now,
		InterpretedScore:   result.Score,
		Confidence:         result.Confidence,
		Reasoning:          result.Reasoning,
		NeedsClarification: result.Flagged,
	}
	if result.ClarificationQuestion != "" {
		row.ClarificationQuestion = &result.ClarificationQuestion
	}
	if result.Raw != "" {
		row.RawLLMResponse = &result.Raw
	}

	s.RecordCompletion(scaleType)
	s.CurrentQuestionIndex++
	s.Meta.ClarificationCount = 0
	s.CurrentState = domain.StateAwaitingAnswer
	s.LastActivity = now

	completed := codeSet(completedByType[scaleType])
	completed[q.Code] = true
	scaleResponses := append(completedByType[scaleType], row)

	var turn *Turn
	var assistantMsgs []*session.ChatMessage
	var scoreRows []*score.AssessmentScore

	if next, ok := e.flow.Next(scaleType, completed); ok {
		s.Meta.PendingQuestionID = next.Code
		content := questionMessage(next, s.QuestionsCompleted+1, s.TotalQuestions)
		assistantMsgs = append(assistantMsgs, msg(s.SessionID, domain.RoleAssistant, content, domain.MessageTypeQuestion, next.Code))
		turn = &Turn{SessionID: s.SessionID, Kind: TurnPrompt, Message: content}
	} else {
		// End of scale: aggregate it, then either transition phases or
		// finalize the whole assessment.
		scoreRows = e.agg.ScaleScores(s.SessionID, scaleType, scaleResponses)

		if nextType, more := e.flow.NextType(scaleType); more {
			s.CurrentPhase = phaseFor(nextType)
			nextQ, ok := e.flow.Next(nextType, codeSet(completedByType[nextType]))
			if !ok {
				return nil, fmt.Errorf("%w: scale %s has no remaining questions at transition", graph.ErrInvalidFlow, nextType)
			}
			s.Meta.PendingQuestionID = nextQ.Code

			transition := transitionMessage(s.QuestionsCompleted, nextType)
			question := questionMessage(nextQ, s.QuestionsCompleted+1, s.TotalQuestions)
			assistantMsgs = append(assistantMsgs,
				msg(s.SessionID, domain.RoleAssistant, transition, domain.MessageTypeTransition, ""),
				msg(s.SessionID, domain.RoleAssistant, question, domain.MessageTypeQuestion, nextQ.Code),
			)
			turn = &Turn{SessionID: s.SessionID, Kind: TurnPrompt, Message: transition + "\n\n" + question}
		} else {
			s.CurrentPhase = domain.PhaseComplete
			s.CurrentState = domain.StateCompleted
			s.CompletedAt = &now
			s.Meta.PendingQuestionID = ""

			totals, err := e.scaleTotals(ctx, s.SessionID, scoreRows)
			if err != nil {
				return nil, err
			}
			content := completionMessage(totals)
			assistantMsgs = append(assistantMsgs, msg(s.SessionID, domain.RoleAssistant, content, domain.MessageTypeCompletion, ""))
			turn = &Turn{SessionID: s.SessionID, Kind: TurnCompletion, Message: content}
		}
	}

	err := e.store.InTx(ctx, func(tx Store) error {
		if err := tx.Responses().Create(ctx, row); err != nil {
			if errors.Is(err, response.ErrDuplicateResponse) {
				return fmt.Errorf("%w: question %s already finalized", session.ErrInvalidTransition, q.Code)
			}
			return err
		}
		for _, sc := range scoreRows {
			if err := tx.Scores().Create(ctx, sc); err != nil {
				return err
			}
		}
		if err := tx.Sessions().Update(ctx, s); err != nil {
			return err
		}
		return appendMessages(ctx, tx, now, append([]*session.ChatMessage{userMsg}, assistantMsgs...)...)
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "accept response", Err: err}
	}

	if s.CurrentState == domain.StateCompleted && e.metrics != nil {
		e.metrics.SessionsCompletedTotal.Inc()
	}

	e.log.Info("response accepted",
		zap.String("session_id", s.SessionID),
		zap.String("question_id", q.Code),
		zap.Float64("score", result.Score),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("flagged", result.Flagged),
		zap.String("phase", string(s.CurrentPhase)),
		zap.Int("completed", s.QuestionsCompleted),
	)

	turn.Progress = progressOf(s)
	return turn, nil
}

// scaleTotals gathers the scale-level rows for the completion summary:
// rows already persisted for earlier scales plus the ones computed in this
// transition.
func (e *Engine) scaleTotals(ctx context.Context, sessionID string, pending []*score.AssessmentScore) ([]*score.AssessmentScore, error) {
	existing, err := e.store.Scores().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "load scores", Err: err}
	}

	var totals []*score.AssessmentScore
	for _, sc := range existing {
		if sc.ScoreType == score.TypeIADLTotal || sc.ScoreType == score.TypeADLTotal {
			totals = append(totals, sc)
		}
	}
	for _, sc := range pending {
		if sc.ScoreType == score.TypeIADLTotal || sc.ScoreType == score.TypeADLTotal {
			totals = append(totals, sc)
		}
	}
	return totals, nil
}

// Progress implements get_progress for the consumer API.
func (e *Engine) Progress(ctx context.Context, sessionID string) (*Progress, error) {
	s, err := e.store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p := progressOf(s)
	return &p, nil
}

// Results implements get_results: all score rows recorded for the session.
func (e *Engine) Results(ctx context.Context, sessionID string) ([]*score.AssessmentScore, error) {
	if _, err := e.store.Sessions().GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.store.Scores().ListBySession(ctx, sessionID)
}

// Summary returns the complete audit view of a session.
func (e *Engine) Summary(ctx context.Context, sessionID string) (*Summary, error) {
	s, err := e.store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	scores, err := e.store.Scores().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	responses, err := e.store.Responses().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	transcript, err := e.store.Sessions().Transcript(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var confSum float64
	cm := ConfidenceMetrics{}
	for _, r := range responses {
		confSum += r.Confidence
		if r.Confidence < e.cfg.ConfidenceThresholdHigh {
			cm.LowConfidenceCount++
		}
		if r.NeedsClarification {
			cm.ClarificationCount++
		}
	}
	if len(responses) > 0 {
		cm.Average = confSum / float64(len(responses))
	}

	return &Summary{
		Session:    s,
		Scores:     scores,
		Responses:  responses,
		Transcript: transcript,
		Confidence: cm,
	}, nil
}

// ListActive returns non-terminal sessions, newest activity first.
func (e *Engine) ListActive(ctx context.Context, patientID string) ([]*session.Session, error) {
	return e.store.Sessions().ListActive(ctx, patientID)
}

// Delete removes a session and its audit rows.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	lock := e.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.Sessions().Delete(ctx, sessionID); err != nil {
		return err
	}
	e.locks.forget(sessionID)
	return nil
}

func (e *Engine) completedByType(ctx context.Context, sessionID string) (map[domain.AssessmentType][]*response.QuestionResponse, error) {
	all, err := e.store.Responses().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	byType := make(map[domain.AssessmentType][]*response.QuestionResponse)
	for _, r := range all {
		byType[r.AssessmentType] = append(byType[r.AssessmentType], r)
	}
	return byType, nil
}

func (e *Engine) countInterpretation(outcome string) {
	if e.metrics != nil {
		e.metrics.InterpretationsTotal.WithLabelValues(outcome).Inc()
	}
}

func codeSet(responses []*response.QuestionResponse) map[string]bool {
	set := make(map[string]bool, len(responses))
	for _, r := range responses {
		set[r.QuestionID] = true
	}
	return set
}

func phaseFor(t domain.AssessmentType) domain.Phase {
	if t == domain.AssessmentADL {
		return domain.PhaseADL
	}
	return domain.PhaseIADL
}

func progressOf(s *session.Session) Progress {
	return Progress{
		Phase:              s.CurrentPhase,
		State:              s.CurrentState,
		QuestionsCompleted: s.QuestionsCompleted,
		TotalQuestions:     s.TotalQuestions,
		IADLCompleted:      s.IADLQuestionsCompleted,
		ADLCompleted:       s.ADLQuestionsCompleted,
		ErrorCount:         s.ErrorCount,
	}
}

func msg(sessionID string, role domain.MessageRole, content string, t domain.MessageType, questionID string) *session.ChatMessage {
	return &session.ChatMessage{
		SessionID:   sessionID,
		Role:        role,
		Content:     content,
		MessageType: t,
		QuestionID:  questionID,
	}
}

func appendMessages(ctx context.Context, tx Store, at time.Time, messages ...*session.ChatMessage) error {
	for i, m := range messages {
		// Strictly increasing timestamps keep the transcript ordering
		// stable even within one transition.
		m.Timestamp = at.Add(time.Duration(i) * time.Millisecond)
		if err := tx.Sessions().AppendMessage(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
