package quittance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/quittance"
)

func TestSnapshot_RestoresEveryStoredStage(t *testing.T) {
	q := newQuittance(t, 200_000)
	approved := apply(t, q, authz.ActionAccountantApprove, accountant, quittance.Payload{})
	payable := apply(t, approved, authz.ActionExecutiveApprove, executive, quittance.Payload{})
	paid := apply(t, payable, authz.ActionPay, accountant, payment)
	rejectedEarly := apply(t, q, authz.ActionRejectAtAccountant, accountant, quittance.Payload{Reason: "incomplet"})
	rejectedLate := apply(t, approved, authz.ActionRejectAtExecutive, executive, quittance.Payload{Reason: "hors plafond"})

	for _, s := range []quittance.State{q.State, approved.State, payable.State, paid.State, rejectedEarly.State, rejectedLate.State} {
		t.Run(string(s.Stage()), func(t *testing.T) {
			restored, err := quittance.Flatten(s).State()
			require.NoError(t, err)
			assert.Equal(t, s, restored)
		})
	}
}

func TestSnapshot_RefusesStatesThatSkippedAStage(t *testing.T) {
	cases := map[string]quittance.Snapshot{
		"payable without accountant": {Stage: quittance.StageExecutiveApproved, ExecutiveID: "fpdg-1", ExecutiveAt: &now},
		"awaiting executive bare":    {Stage: quittance.StageAwaitingExecutive},
		"paid without payment":       {Stage: quittance.StagePaid, AccountantID: "a", AccountantAt: &now, ExecutiveID: "e", ExecutiveAt: &now},
		"routing stage stored":       {Stage: quittance.StageAccountantApproved, AccountantID: "a", AccountantAt: &now},
		"rejected while paid":        {Stage: quittance.StageRejected, RejectedStage: quittance.StagePaid, RejectionReason: "x", RejectedAt: &now},
		"unknown":                    {Stage: "limbo"},
	}
	for name, snap := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := snap.State()
			assert.ErrorIs(t, err, generic.ErrInvalidInput)
		})
	}
}
