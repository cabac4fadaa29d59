package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseAssessmentType(t *testing.T) {
	assert.Equal(t, AssessmentIADL, PhaseIADL.AssessmentType())
	assert.Equal(t, AssessmentADL, PhaseADL.AssessmentType())
}

func TestStateTransitionsPredicates(t *testing.T) {
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateErrored.IsTerminal())
	assert.False(t, StateAwaitingAnswer.IsTerminal())
	assert.False(t, StateAwaitingClarification.IsTerminal())

	assert.True(t, StateAwaitingAnswer.AcceptsAnswer())
	assert.True(t, StateAwaitingClarification.AcceptsAnswer())
	assert.False(t, StateNotStarted.AcceptsAnswer())
	assert.False(t, StateCompleted.AcceptsAnswer())
	assert.False(t, StateErrored.AcceptsAnswer())
}

func TestEnumValidity(t *testing.T) {
	for _, p := range []Phase{PhaseIADL, PhaseADL, PhaseComplete} {
		assert.True(t, p.IsValid())
	}
	assert.False(t, Phase("IADL").IsValid(), "phases are lowercase")

	for _, s := range []State{StateNotStarted, StateAwaitingAnswer, StateAwaitingClarification, StateCompleted, StateErrored} {
		assert.True(t, s.IsValid())
	}
	assert.False(t, State("in_progress").IsValid())

	assert.True(t, AssessmentIADL.IsValid())
	assert.True(t, AssessmentADL.IsValid())
	assert.False(t, AssessmentType("iadl").IsValid(), "assessment types are uppercase")
}
