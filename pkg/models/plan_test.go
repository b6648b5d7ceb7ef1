package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan() *Plan {
	return &Plan{
		ID:        "plan-1",
		SessionID: "session-1",
		Title:     "Ship the feature",
		Subtasks: []*Subtask{
			{ID: "st-1", Title: "design", Status: SubtaskDone},
			{ID: "st-2", Title: "implement", Status: SubtaskSkipped},
			{ID: "st-3", Title: "test", Status: SubtaskPending},
			{ID: "st-4", Title: "document", Status: SubtaskPending},
		},
	}
}

func TestPlanIndexOfAndGet(t *testing.T) {
	p := samplePlan()

	assert.Equal(t, 2, p.IndexOf("st-3"))
	assert.Equal(t, -1, p.IndexOf("missing"))

	st := p.Get("st-2")
	require.NotNil(t, st)
	assert.Equal(t, "implement", st.Title)
	assert.Nil(t, p.Get("missing"))
}

func TestPlanNextPendingSkipsSkippedAndDone(t *testing.T) {
	p := samplePlan()

	next := p.NextPending()
	require.NotNil(t, next)
	assert.Equal(t, "st-3", next.ID)
}

func TestPlanNextPendingNilWhenNoneRemain(t *testing.T) {
	p := samplePlan()
	p.Subtasks[2].Status = SubtaskDone
	p.Subtasks[3].Status = SubtaskSkipped

	assert.Nil(t, p.NextPending())
}

func TestPlanAllTerminal(t *testing.T) {
	p := samplePlan()
	assert.False(t, p.AllTerminal())

	p.Subtasks[2].Status = SubtaskDone
	p.Subtasks[3].Status = SubtaskSkipped
	assert.True(t, p.AllTerminal())
}

func TestPlanCloneIsIndependent(t *testing.T) {
	p := samplePlan()
	clone := p.Clone()

	require.Len(t, clone.Subtasks, len(p.Subtasks))
	clone.Subtasks[0].Title = "renamed"
	clone.Subtasks[0].Status = SubtaskPending

	assert.Equal(t, "design", p.Subtasks[0].Title, "mutating the clone must not affect the original")
	assert.Equal(t, SubtaskDone, p.Subtasks[0].Status)
}

func TestPlanCloneNil(t *testing.T) {
	var p *Plan
	assert.Nil(t, p.Clone())
}
