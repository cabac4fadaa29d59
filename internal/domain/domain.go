package domain

// AssessmentType identifies which clinical scale a question belongs to.
type AssessmentType string

const (
	AssessmentIADL AssessmentType = "IADL"
	AssessmentADL  AssessmentType = "ADL"
)

func (t AssessmentType) IsValid() bool {
	switch t {
	case AssessmentIADL, AssessmentADL:
		return true
	}
	return false
}

// Phase is the scale a session is currently administering.
type Phase string

const (
	PhaseIADL     Phase = "iadl"
	PhaseADL      Phase = "adl"
	PhaseComplete Phase = "complete"
)

func (p Phase) IsValid() bool {
	switch p {
	case PhaseIADL, PhaseADL, PhaseComplete:
		return true
	}
	return false
}

// AssessmentType returns the scale administered in this phase.
func (p Phase) AssessmentType() AssessmentType {
	if p == PhaseADL {
		return AssessmentADL
	}
	return AssessmentIADL
}

// State is a session's position within the conversation state machine.
// Completed and Errored are terminal; sessions in those states reject
// further answers.
type State string

const (
	StateNotStarted            State = "not_started"
	StateAwaitingAnswer        State = "awaiting_answer"
	StateAwaitingClarification State = "awaiting_clarification"
	StateCompleted             State = "completed"
	StateErrored               State = "errored"
)

func (s State) IsValid() bool {
	switch s {
	case StateNotStarted, StateAwaitingAnswer, StateAwaitingClarification,
		StateCompleted, StateErrored:
		return true
	}
	return false
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateErrored
}

// AcceptsAnswer reports whether submit_answer is a valid operation in this state.
func (s State) AcceptsAnswer() bool {
	return s == StateAwaitingAnswer || s == StateAwaitingClarification
}

// MessageRole is the speaker of a transcript entry.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageType tags transcript entries for audit queries.
type MessageType string

const (
	MessageTypeSystem        MessageType = "system"
	MessageTypeWelcome       MessageType = "welcome"
	MessageTypeQuestion      MessageType = "question"
	MessageTypeAnswer        MessageType = "answer"
	MessageTypeClarification MessageType = "clarification"
	MessageTypeTransition    MessageType = "transition"
	MessageTypeCompletion    MessageType = "completion"
	MessageTypeError         MessageType = "error"
)

// Interpretation labels assigned to aggregated scores.
const (
	InterpretationIndependent        = "independent"
	InterpretationMildImpairment     = "mild_impairment"
	InterpretationModerateImpairment = "moderate_impairment"
	InterpretationSevereImpairment   = "severe_impairment"
	InterpretationNotAssessed        = "not_assessed"
)
