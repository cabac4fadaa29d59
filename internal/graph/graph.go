package graph

import (
	"github.com/careloop/assessflow/internal/domain"
)

// AnswerOption is one canonical scored answer for a question.
type AnswerOption struct {
	Text  string  `yaml:"text"`
	Score float64 `yaml:"score"`
}

// Question is one node in the assessment flow graph. Nodes within a scale
// are connected by single "next" edges forming an ordered chain.
type Question struct {
	Code           string                `yaml:"code"`
	Domain         string                `yaml:"domain"`
	Sequence       int                   `yaml:"sequence"`
	Text           string                `yaml:"text"`
	Description    string                `yaml:"description"`
	Next           string                `yaml:"next"`
	Options        []AnswerOption        `yaml:"options"`
	AssessmentType domain.AssessmentType `yaml:"-"`
}

// MaxScore returns the highest defined option value for the question.
func (q *Question) MaxScore() float64 {
	max := 0.0
	for _, o := range q.Options {
		if o.Score > max {
			max = o.Score
		}
	}
	return max
}

// MinScore returns the lowest defined option value for the question.
func (q *Question) MinScore() float64 {
	if len(q.Options) == 0 {
		return 0
	}
	min := q.Options[0].Score
	for _, o := range q.Options[1:] {
		if o.Score < min {
			min = o.Score
		}
	}
	return min
}

// ValidScore reports whether v matches one of the question's defined
// option values. Interpreted scores outside this set are rejected.
func (q *Question) ValidScore(v float64) bool {
	for _, o := range q.Options {
		if o.Score == v {
			return true
		}
	}
	return false
}

// Band maps a minimum percentage score to a clinical interpretation label.
type Band struct {
	MinPercent float64 `yaml:"min_percent"`
	Label      string  `yaml:"label"`
}

// Scale is one clinical scale (IADL or ADL): an entry node, a chain of
// questions, and the interpretation band table for aggregated scores.
type Scale struct {
	Type      domain.AssessmentType `yaml:"type"`
	Entry     string                `yaml:"entry"`
	Bands     []Band                `yaml:"bands"`
	Questions []*Question           `yaml:"questions"`

	// chain is the questions in traversal order, resolved at load time.
	chain []*Question
	index map[string]*Question
}

// Len returns the number of questions in the scale.
func (s *Scale) Len() int {
	return len(s.chain)
}

// Chain returns the scale's questions in deterministic traversal order.
func (s *Scale) Chain() []*Question {
	return s.chain
}

// Question looks up a node by code within the scale.
func (s *Scale) Question(code string) (*Question, bool) {
	q, ok := s.index[code]
	return q, ok
}

// MaxPossible sums per-question maxima across the scale.
func (s *Scale) MaxPossible() float64 {
	total := 0.0
	for _, q := range s.chain {
		total += q.MaxScore()
	}
	return total
}

// Interpret maps a percentage score onto the scale's band table.
func (s *Scale) Interpret(percent float64) string {
	best := ""
	bestMin := -1.0
	for _, b := range s.Bands {
		if percent >= b.MinPercent && b.MinPercent > bestMin {
			best = b.Label
			bestMin = b.MinPercent
		}
	}
	if best == "" {
		return domain.InterpretationSevereImpairment
	}
	return best
}

// Flow is the loaded assessment graph: scales in administration order.
// Immutable after load; safe for concurrent reads.
type Flow struct {
	Version int                     `yaml:"version"`
	Order   []domain.AssessmentType `yaml:"order"`
	Scales  []*Scale                `yaml:"scales"`

	byType map[domain.AssessmentType]*Scale
}

// Scale returns the scale for an assessment type.
func (f *Flow) Scale(t domain.AssessmentType) (*Scale, bool) {
	s, ok := f.byType[t]
	return s, ok
}

// Question looks a node up across all scales.
func (f *Flow) Question(code string) (*Question, bool) {
	for _, s := range f.Scales {
		if q, ok := s.index[code]; ok {
			return q, true
		}
	}
	return nil, false
}

// TotalQuestions counts nodes across every scale.
func (f *Flow) TotalQuestions() int {
	total := 0
	for _, s := range f.Scales {
		total += s.Len()
	}
	return total
}

// NextType returns the scale that follows t in administration order, or
// false when t is the final scale.
func (f *Flow) NextType(t domain.AssessmentType) (domain.AssessmentType, bool) {
	for i, o := range f.Order {
		if o == t && i+1 < len(f.Order) {
			return f.Order[i+1], true
		}
	}
	return "", false
}

// FirstType returns the scale administered first.
func (f *Flow) FirstType() domain.AssessmentType {
	return f.Order[0]
}

// Next is the navigator contract: given a scale and the set of completed
// question codes, return the next question, or ok=false to signal end of
// scale. Pure function of its inputs, so repeated calls with the same
// completed set always yield the same node and sessions resume from
// persisted state alone.
func (f *Flow) Next(t domain.AssessmentType, completed map[string]bool) (*Question, bool) {
	s, ok := f.byType[t]
	if !ok {
		return nil, false
	}
	for _, q := range s.chain {
		if !completed[q.Code] {
			return q, true
		}
	}
	return nil, false
}
