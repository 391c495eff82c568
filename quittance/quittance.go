package quittance

import (
	"strings"
	"time"

	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/generic"
)

// =============================================================================
// QUITTANCE - One payable indemnity line item
// =============================================================================

// Kind is the indemnity component a quittance pays.
type Kind string

const (
	KindPartnerReimbursement Kind = "partner_reimbursement"
	KindPrevoyance           Kind = "prevoyance"
	KindPerDiem              Kind = "per_diem"
	KindMedicalCosts         Kind = "medical_costs"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPartnerReimbursement, KindPrevoyance, KindPerDiem, KindMedicalCosts:
		return true
	}
	return false
}

// Quittance holds a non-owning back-reference to its claim. State is only
// ever replaced through Transition, Archive and Issue.
type Quittance struct {
	ID          string
	ClaimID     string
	Beneficiary string
	Kind        Kind
	Amount      generic.Amount

	State      State
	IsArchived bool

	// Version is bumped by every successful change and used by stores for
	// compare-and-swap.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (q Quittance) Stage() Stage { return q.State.Stage() }

// IsPayable reports whether both approvals are in.
func (q Quittance) IsPayable() bool { return q.Stage() == StageExecutiveApproved }

func (q Quittance) IsPaid() bool { return q.Stage() == StagePaid }

func (q Quittance) IsRejected() bool { return q.Stage() == StageRejected }

// Issue creates a quittance awaiting the accountant.
func Issue(id, claimID string, kind Kind, beneficiary string, amount generic.Amount, now time.Time) (Quittance, error) {
	if id == "" || claimID == "" {
		return Quittance{}, generic.InvalidField("id", "quittance and claim ids are required")
	}
	if !kind.Valid() {
		return Quittance{}, generic.InvalidField("kind", "unknown quittance kind %q", kind)
	}
	if strings.TrimSpace(beneficiary) == "" {
		return Quittance{}, generic.InvalidField("beneficiary", "required")
	}
	if !amount.IsPositive() {
		return Quittance{}, generic.InvalidField("amount", "must be positive, got %s", amount)
	}
	return Quittance{
		ID:          id,
		ClaimID:     claimID,
		Beneficiary: beneficiary,
		Kind:        kind,
		Amount:      amount,
		State:       AwaitingAccountant{},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Committed sums the quittances that still count against the claim's
// granted amount, i.e. every one not rejected.
func Committed(currency generic.Currency, qs []Quittance) generic.Amount {
	total := generic.Amount{Currency: currency}.Zero()
	for _, q := range qs {
		if !q.IsRejected() {
			total = total.Add(q.Amount)
		}
	}
	return total
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Payload carries the action's inputs.
type Payload struct {
	Reason           string
	PaymentMode      PaymentMode
	PaymentReference string

	// ExpectedVersion, when set, must match the quittance's current version.
	ExpectedVersion *int
}

// Result is the outcome of a successful transition. Path lists every stage
// entered, in order; accountant approval yields two entries because of the
// automatic routing step.
type Result struct {
	Quittance Quittance
	From      Stage
	Path      []Stage
}

// Transition applies action to q on behalf of caller. It never mutates q: on
// error the caller keeps the quittance exactly as it was.
func Transition(q Quittance, action authz.Action, p Payload, caller authz.Caller, now time.Time) (Result, error) {
	if err := authz.Require(caller.Role, authz.EntityQuittance, action); err != nil {
		return Result{}, err
	}
	if p.ExpectedVersion != nil && *p.ExpectedVersion != q.Version {
		return Result{}, &generic.AlreadyTransitionedError{
			Entity:          string(authz.EntityQuittance),
			ID:              q.ID,
			ExpectedVersion: *p.ExpectedVersion,
			ActualVersion:   q.Version,
		}
	}
	if q.IsArchived {
		return Result{}, invalid(q, action, "quittance is archived")
	}
	if q.State == nil {
		return Result{}, invalid(q, action, "quittance has no state")
	}

	approval := Approval{ActorID: caller.ActorID, Role: caller.Role, At: now}
	var path []Stage
	var next State

	switch action {
	case authz.ActionAccountantApprove:
		s, ok := q.State.(AwaitingAccountant)
		if !ok {
			return Result{}, outOfOrder(q, action, "accountant approval happens only while awaiting the accountant")
		}
		if !q.Amount.IsPositive() {
			return Result{}, invalid(q, action, "amount must be positive")
		}
		if strings.TrimSpace(q.Beneficiary) == "" {
			return Result{}, invalid(q, action, "beneficiary is missing")
		}
		approved := s.approve(approval)
		routed := approved.route()
		path = []Stage{approved.Stage(), routed.Stage()}
		next = routed

	case authz.ActionExecutiveApprove:
		s, ok := q.State.(AwaitingExecutive)
		if !ok {
			return Result{}, outOfOrder(q, action, "executive approval requires a prior accountant approval")
		}
		next = s.approve(approval)

	case authz.ActionRejectAtAccountant:
		s, ok := q.State.(AwaitingAccountant)
		if !ok {
			return Result{}, outOfOrder(q, action, "not at the accountant stage")
		}
		r, err := rejection(p, caller, now)
		if err != nil {
			return Result{}, err
		}
		next = s.reject(r)

	case authz.ActionRejectAtExecutive:
		s, ok := q.State.(AwaitingExecutive)
		if !ok {
			return Result{}, outOfOrder(q, action, "not at the executive stage")
		}
		r, err := rejection(p, caller, now)
		if err != nil {
			return Result{}, err
		}
		next = s.reject(r)

	case authz.ActionPay:
		s, ok := q.State.(ExecutiveApproved)
		if !ok {
			return Result{}, outOfOrder(q, action, "only executive-approved quittances are payable")
		}
		payment, err := paymentRecord(p, caller, now)
		if err != nil {
			return Result{}, err
		}
		next = s.pay(payment)

	default:
		return Result{}, invalid(q, action, "unknown action")
	}

	if path == nil {
		path = []Stage{next.Stage()}
	}

	out := q
	out.State = next
	out.Version = q.Version + 1
	out.UpdatedAt = now
	return Result{Quittance: out, From: q.Stage(), Path: path}, nil
}

// Archive flags the quittance as archived. It follows the owning claim and
// is not role-gated on its own.
func Archive(q Quittance, now time.Time) (Quittance, error) {
	if q.IsArchived {
		return Quittance{}, invalid(q, authz.ActionArchive, "already archived")
	}
	out := q
	out.IsArchived = true
	out.Version = q.Version + 1
	out.UpdatedAt = now
	return out, nil
}

// Target is the stage an action leads to, for error reporting and queues.
func Target(action authz.Action) Stage {
	switch action {
	case authz.ActionAccountantApprove:
		return StageAwaitingExecutive
	case authz.ActionExecutiveApprove:
		return StageExecutiveApproved
	case authz.ActionRejectAtAccountant, authz.ActionRejectAtExecutive:
		return StageRejected
	case authz.ActionPay:
		return StagePaid
	}
	return Stage(action)
}

func invalid(q Quittance, action authz.Action, reason string) error {
	from := "unknown"
	if q.State != nil {
		from = string(q.Stage())
	}
	return &generic.InvalidTransitionError{
		Entity:    string(authz.EntityQuittance),
		ID:        q.ID,
		From:      from,
		Attempted: string(Target(action)),
		Reason:    reason,
	}
}

// outOfOrder refuses action on a quittance whose stage does not allow it.
// Stages already past the action say so; otherwise fallback explains what
// the action waits for.
func outOfOrder(q Quittance, action authz.Action, fallback string) error {
	reason := fallback
	switch q.State.(type) {
	case AwaitingExecutive:
		reason = "already approved by the accountant"
	case ExecutiveApproved:
		reason = "already approved by the executive"
	case Paid:
		reason = "already paid"
	case Rejected:
		reason = "already rejected"
	}
	return invalid(q, action, reason)
}

func rejection(p Payload, caller authz.Caller, now time.Time) (Rejection, error) {
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return Rejection{}, generic.InvalidField("reason", "a rejection reason is required")
	}
	return Rejection{Reason: reason, By: caller.ActorID, At: now}, nil
}

func paymentRecord(p Payload, caller authz.Caller, now time.Time) (Payment, error) {
	if !p.PaymentMode.Valid() {
		return Payment{}, generic.InvalidField("payment_mode", "unknown payment mode %q", p.PaymentMode)
	}
	ref := strings.TrimSpace(p.PaymentReference)
	if ref == "" {
		return Payment{}, generic.InvalidField("payment_reference", "required")
	}
	return Payment{Mode: p.PaymentMode, Reference: ref, PaidAt: now, PaidBy: caller.ActorID}, nil
}
