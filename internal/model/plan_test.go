package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanStatus_CanTransitionTo(t *testing.T) {
	legal := map[PlanStatus][]PlanStatus{
		PlanStatusDraft:    {PlanStatusInReview},
		PlanStatusInReview: {PlanStatusApproved, PlanStatusRejected},
		PlanStatusApproved: {PlanStatusActive},
		PlanStatusRejected: {PlanStatusDraft},
		PlanStatusActive:   {PlanStatusClosed},
		PlanStatusClosed:   {},
	}

	for _, from := range AllPlanStatuses {
		for _, to := range AllPlanStatuses {
			want := false
			for _, s := range legal[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestPlanStatus_ClosedIsTerminal(t *testing.T) {
	assert.Empty(t, PlanStatusClosed.AllowedTransitions())
}

func TestPlanStatus_AllowedTransitionsIsACopy(t *testing.T) {
	allowed := PlanStatusInReview.AllowedTransitions()
	allowed[0] = PlanStatusClosed

	assert.Equal(t, []PlanStatus{PlanStatusApproved, PlanStatusRejected}, PlanStatusInReview.AllowedTransitions())
}

func TestParsePlanStatus(t *testing.T) {
	for _, s := range AllPlanStatuses {
		got, ok := ParsePlanStatus(string(s))
		assert.True(t, ok)
		assert.Equal(t, s, got)
	}

	for _, raw := range []string{"", "cancelado", "ATIVO", "draft"} {
		_, ok := ParsePlanStatus(raw)
		assert.False(t, ok, raw)
	}
}

func TestPlanStatus_EditableAndImportable(t *testing.T) {
	tests := []struct {
		status     PlanStatus
		editable   bool
		importable bool
	}{
		{PlanStatusDraft, true, true},
		{PlanStatusInReview, true, true},
		{PlanStatusApproved, false, false},
		{PlanStatusRejected, true, false},
		{PlanStatusActive, true, false},
		{PlanStatusClosed, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.editable, tt.status.IsFieldEditable())
			assert.Equal(t, tt.importable, tt.status.CanImportBudget())
		})
	}
}
