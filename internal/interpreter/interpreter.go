package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/assessflow/internal/graph"
)

// ErrInterpretationFailed marks a model exchange that produced no usable
// interpretation: timeout, transport failure, or an unparseable response.
// Distinct from a valid-but-low-confidence result, which is normal control
// flow into the clarification sub-state.
var ErrInterpretationFailed = errors.New("interpretation failed")

// Interpretation is the structured outcome for one answer.
type Interpretation struct {
	Score                 float64
	Confidence            float64
	Reasoning             string
	NeedsClarification    bool
	ClarificationQuestion string

	// Flagged marks an accepted result in the mid-confidence band for audit.
	Flagged bool

	// Raw is the model's JSON output with any code fences removed,
	// preserved for the audit trail.
	Raw string
}

// Accepted reports whether the engine should finalize this interpretation.
func (i Interpretation) Accepted() bool {
	return !i.NeedsClarification
}

// Config is the interpreter's scoring policy.
type Config struct {
	ThresholdLow  float64
	ThresholdHigh float64
	Timeout       time.Duration
}

// Interpreter turns one (question, free-text answer) pair into a validated
// clinical score. It holds its model client and policy explicitly; there is
// no process-wide client state.
type Interpreter struct {
	client RawClient
	cfg    Config
	log    *zap.Logger
}

func New(client RawClient, cfg Config, log *zap.Logger) *Interpreter {
	return &Interpreter{client: client, cfg: cfg, log: log}
}

// rawResult mirrors the JSON contract the model is instructed to emit.
type rawResult struct {
	InterpretedScore      *float64 `json:"interpreted_score"`
	Confidence            *float64 `json:"confidence"`
	Reasoning             string   `json:"reasoning"`
	NeedsClarification    bool     `json:"needs_clarification"`
	ClarificationQuestion *string  `json:"clarification_question"`
}

// Interpret performs a single timeout-bounded model exchange and applies
// the confidence policy. Callers own retries; identical inputs are only
// repeatable up to model non-determinism, so nothing here caches.
func (it *Interpreter) Interpret(ctx context.Context, q *graph.Question, userAnswer string) (*Interpretation, error) {
	ctx, cancel := context.WithTimeout(ctx, it.cfg.Timeout)
	defer cancel()

	raw, err := it.client.Complete(ctx, buildSystemPrompt(q, userAnswer), interpretUserPrompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: model call timed out after %s", ErrInterpretationFailed, it.cfg.Timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrInterpretationFailed, err)
	}

	cleaned := stripFences(raw)
	var parsed rawResult
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		it.log.Warn("unparseable model response",
			zap.String("question_id", q.Code),
			zap.Int("response_len", len(raw)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: unparseable model response: %v", ErrInterpretationFailed, err)
	}
	if parsed.InterpretedScore == nil || parsed.Confidence == nil {
		return nil, fmt.Errorf("%w: model response missing interpreted_score or confidence", ErrInterpretationFailed)
	}

	result := &Interpretation{
		Score:              *parsed.InterpretedScore,
		Confidence:         clamp01(*parsed.Confidence),
		Reasoning:          parsed.Reasoning,
		NeedsClarification: parsed.NeedsClarification,
		Raw:                cleaned,
	}
	if parsed.ClarificationQuestion != nil {
		result.ClarificationQuestion = *parsed.ClarificationQuestion
	}

	// A score outside the question's defined option values is never
	// accepted; it degrades to a clarification request.
	if !q.ValidScore(result.Score) {
		result.NeedsClarification = true
		result.Confidence = 0
		result.Reasoning = fmt.Sprintf("model returned score %v outside the defined options; %s", result.Score, result.Reasoning)
	}

	switch {
	case result.Confidence < it.cfg.ThresholdLow:
		result.NeedsClarification = true
	case result.Confidence < it.cfg.ThresholdHigh:
		result.Flagged = true
	}

	return result, nil
}

const interpretUserPrompt = "Please interpret this response and provide the clinical score."

func buildSystemPrompt(q *graph.Question, userAnswer string) string {
	var options strings.Builder
	for _, o := range q.Options {
		fmt.Fprintf(&options, "Score %v: %s\n", o.Score, o.Text)
	}

	return fmt.Sprintf(`You are a clinical assessment expert. Your task is to interpret a patient's free-form answer to a standardized assessment question and map it to the appropriate clinical score.

Question: %s
Description: %s

Available Answer Options and Scores:
%s
Guidelines:
1. Match the patient's response to the most appropriate clinical score
2. Consider the functional level described, not just specific words
3. If the response is ambiguous, indicate that clarification is needed
4. Provide your confidence level (0.0 to 1.0)
5. Explain your reasoning briefly

Patient's Response: %s

IMPORTANT: You must respond with valid JSON using these EXACT field names:
{
  "interpreted_score": <number>,
  "confidence": <float between 0.0 and 1.0>,
  "reasoning": "<brief explanation>",
  "needs_clarification": <true/false>,
  "clarification_question": "<question if clarification needed, null otherwise>"
}

Do NOT use field names like "score" - use "interpreted_score". Do NOT wrap in json code blocks.`,
		q.Text, q.Description, options.String(), userAnswer)
}

// stripFences tolerates models that wrap JSON in markdown code fences
// despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
