package service

import (
	"fmt"
	"strings"

	"github.com/careloop/assessflow/internal/domain"
	"github.com/careloop/assessflow/internal/domain/score"
	"github.com/careloop/assessflow/internal/graph"
)

// Assistant messages are template-built. Only the interpreter talks to the
// language model; the conversational framing around questions does not.

func welcomeMessage(patientID string, totalQuestions int) string {
	return fmt.Sprintf(
		"Hello! I'm here to help with a short functional assessment for %s. "+
			"I'll ask %d questions about everyday activities, starting with tasks "+
			"around the home and community, then moving to basic self-care. "+
			"Please answer in your own words; there are no right or wrong answers.",
		patientID, totalQuestions)
}

func questionMessage(q *graph.Question, number, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question %d of %d: %s\n%s\n\n", number, total, q.Text, q.Description)
	b.WriteString("For reference, responses typically fall into one of these levels:\n")
	for _, o := range q.Options {
		fmt.Fprintf(&b, "  - %s\n", o.Text)
	}
	b.WriteString("\nHow would you describe your situation?")
	return b.String()
}

func transitionMessage(completed int, next domain.AssessmentType) string {
	if next == domain.AssessmentADL {
		return fmt.Sprintf(
			"Thank you — that completes the first part of the assessment (%d questions answered). "+
				"The next questions are about basic daily self-care activities. "+
				"Some may feel more personal; please answer as openly as you can.",
			completed)
	}
	return fmt.Sprintf(
		"Thank you — that completes this part of the assessment (%d questions answered). "+
			"Let's continue with the next set of questions.",
		completed)
}

func completionMessage(totals []*score.AssessmentScore) string {
	var b strings.Builder
	b.WriteString("That completes the assessment — thank you for your time and openness.\n\n")
	for _, s := range totals {
		label := domain.InterpretationNotAssessed
		if s.Interpretation != nil {
			label = *s.Interpretation
		}
		fmt.Fprintf(&b, "%s: %.0f of %.0f (%.1f%%) — %s\n",
			strings.ToUpper(strings.TrimSuffix(string(s.ScoreType), "_total")),
			s.RawScore, s.MaxPossibleScore, s.PercentageScore, strings.ReplaceAll(label, "_", " "))
	}
	b.WriteString("\nYour care team will review these results with you.")
	return b.String()
}

// fallbackClarification surfaces the question's literal option list when
// the model cannot produce a usable interpretation.
func fallbackClarification(q *graph.Question) string {
	var b strings.Builder
	b.WriteString("I want to make sure I record this correctly. Which of these best describes your situation?\n")
	for _, o := range q.Options {
		fmt.Fprintf(&b, "  - %s\n", o.Text)
	}
	return b.String()
}
