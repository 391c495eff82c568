package quittance

import (
	"fmt"
	"time"

	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/generic"
)

// =============================================================================
// SNAPSHOT - Flat form of a State for stores and transports
// =============================================================================

// Snapshot is the row-shaped view of a state. Only the fields relevant to
// the stage are set.
type Snapshot struct {
	Stage Stage `json:"stage"`

	AccountantID   string     `json:"accountant_id,omitempty"`
	AccountantRole authz.Role `json:"accountant_role,omitempty"`
	AccountantAt   *time.Time `json:"accountant_at,omitempty"`

	ExecutiveID   string     `json:"executive_id,omitempty"`
	ExecutiveRole authz.Role `json:"executive_role,omitempty"`
	ExecutiveAt   *time.Time `json:"executive_at,omitempty"`

	PaymentMode      PaymentMode `json:"payment_mode,omitempty"`
	PaymentReference string      `json:"payment_reference,omitempty"`
	PaidAt           *time.Time  `json:"paid_at,omitempty"`
	PaidBy           string      `json:"paid_by,omitempty"`

	RejectedStage   Stage      `json:"rejected_stage,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
}

// Flatten converts a state to its snapshot.
func Flatten(s State) Snapshot {
	snap := Snapshot{Stage: s.Stage()}
	switch st := s.(type) {
	case AwaitingAccountant:
	case AccountantApproved:
		snap.setAccountant(st.accountant)
	case AwaitingExecutive:
		snap.setAccountant(st.accountant)
	case ExecutiveApproved:
		snap.setAccountant(st.accountant)
		snap.setExecutive(st.executive)
	case Paid:
		snap.setAccountant(st.accountant)
		snap.setExecutive(st.executive)
		paidAt := st.payment.PaidAt
		snap.PaymentMode = st.payment.Mode
		snap.PaymentReference = st.payment.Reference
		snap.PaidAt = &paidAt
		snap.PaidBy = st.payment.PaidBy
	case Rejected:
		if st.accountant != nil {
			snap.setAccountant(*st.accountant)
		}
		at := st.rejection.At
		snap.RejectedStage = st.rejection.Stage
		snap.RejectionReason = st.rejection.Reason
		snap.RejectedBy = st.rejection.By
		snap.RejectedAt = &at
	}
	return snap
}

// State rebuilds the state by replaying the edges that lead to it, so a
// snapshot missing an earlier approval cannot produce a later state.
func (s Snapshot) State() (State, error) {
	start := AwaitingAccountant{}

	switch s.Stage {
	case StageAwaitingAccountant:
		return start, nil

	case StageAccountantApproved:
		return nil, s.corrupt("accountant_approved is a routing stage and is never stored")

	case StageAwaitingExecutive:
		acc, err := s.accountant()
		if err != nil {
			return nil, err
		}
		return start.approve(acc).route(), nil

	case StageExecutiveApproved:
		acc, err := s.accountant()
		if err != nil {
			return nil, err
		}
		exec, err := s.executive()
		if err != nil {
			return nil, err
		}
		return start.approve(acc).route().approve(exec), nil

	case StagePaid:
		acc, err := s.accountant()
		if err != nil {
			return nil, err
		}
		exec, err := s.executive()
		if err != nil {
			return nil, err
		}
		if s.PaidAt == nil || !s.PaymentMode.Valid() || s.PaymentReference == "" {
			return nil, s.corrupt("paid without a payment record")
		}
		return start.approve(acc).route().approve(exec).pay(Payment{
			Mode:      s.PaymentMode,
			Reference: s.PaymentReference,
			PaidAt:    *s.PaidAt,
			PaidBy:    s.PaidBy,
		}), nil

	case StageRejected:
		if s.RejectedAt == nil || s.RejectionReason == "" {
			return nil, s.corrupt("rejected without a reason")
		}
		r := Rejection{Reason: s.RejectionReason, By: s.RejectedBy, At: *s.RejectedAt}
		switch s.RejectedStage {
		case StageAwaitingAccountant:
			return start.reject(r), nil
		case StageAwaitingExecutive:
			acc, err := s.accountant()
			if err != nil {
				return nil, err
			}
			return start.approve(acc).route().reject(r), nil
		}
		return nil, s.corrupt(fmt.Sprintf("cannot be rejected at %q", s.RejectedStage))
	}
	return nil, s.corrupt(fmt.Sprintf("unknown stage %q", s.Stage))
}

func (s *Snapshot) setAccountant(a Approval) {
	at := a.At
	s.AccountantID, s.AccountantRole, s.AccountantAt = a.ActorID, a.Role, &at
}

func (s *Snapshot) setExecutive(a Approval) {
	at := a.At
	s.ExecutiveID, s.ExecutiveRole, s.ExecutiveAt = a.ActorID, a.Role, &at
}

func (s Snapshot) accountant() (Approval, error) {
	if s.AccountantID == "" || s.AccountantAt == nil {
		return Approval{}, s.corrupt("missing accountant approval")
	}
	return Approval{ActorID: s.AccountantID, Role: s.AccountantRole, At: *s.AccountantAt}, nil
}

func (s Snapshot) executive() (Approval, error) {
	if s.ExecutiveID == "" || s.ExecutiveAt == nil {
		return Approval{}, s.corrupt("missing executive approval")
	}
	return Approval{ActorID: s.ExecutiveID, Role: s.ExecutiveRole, At: *s.ExecutiveAt}, nil
}

func (s Snapshot) corrupt(reason string) error {
	return generic.InvalidField("state", "%s: %s", s.Stage, reason)
}
