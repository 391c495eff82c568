/*
Package quittance implements the dual-approval workflow for indemnity line
items.

PURPOSE:
  A quittance is one payable indemnity component spawned by a validated
  claim. Before any money leaves, it must be signed off by an accountant
  and then by the executive (FPDG), in that order.

STATE GRAPH:

  ┌────────────────────┐ accountant_approve ┌────────────────────┐
  │ AwaitingAccountant │──────────────────▶│ AccountantApproved │
  └────────────────────┘                    └────────────────────┘
        │ reject_at_accountant                    │ (routing, automatic)
        ▼                                         ▼
  ┌──────────┐  reject_at_executive   ┌───────────────────┐
  │ Rejected │◀──────────────────────│ AwaitingExecutive │
  └──────────┘                        └───────────────────┘
                                             │ executive_approve
                                             ▼
                      ┌──────┐  pay   ┌───────────────────┐
                      │ Paid │◀──────│ ExecutiveApproved │ (= payable)
                      └──────┘        └───────────────────┘

STAGE ORDERING:
  Each state is its own type, and each transition is a method on the one
  state it leaves. ExecutiveApproved can only be built from an
  AwaitingExecutive, which can only be built from an AccountantApproved,
  so a value that skipped a stage cannot be constructed. The fields are
  unexported; stores rebuild states through Snapshot.State, which applies
  the same ordering.

SEE ALSO:
  - quittance.go: Entity and Transition dispatcher
  - authz/authz.go: Who may fire which action
*/
package quittance

import (
	"time"

	"github.com/warp/indemnity-engine/authz"
)

// Stage names a state for display, storage and queues.
type Stage string

const (
	StageAwaitingAccountant Stage = "awaiting_accountant"
	StageAccountantApproved Stage = "accountant_approved"
	StageAwaitingExecutive  Stage = "awaiting_executive"
	StageExecutiveApproved  Stage = "executive_approved"
	StagePaid               Stage = "paid"
	StageRejected           Stage = "rejected"
)

// Approval is one stage's sign-off.
type Approval struct {
	ActorID string
	Role    authz.Role
	At      time.Time
}

// PaymentMode is how the indemnity is disbursed.
type PaymentMode string

const (
	PaymentBankTransfer PaymentMode = "bank_transfer"
	PaymentCheque       PaymentMode = "cheque"
	PaymentCash         PaymentMode = "cash"
	PaymentMobileMoney  PaymentMode = "mobile_money"
)

func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentBankTransfer, PaymentCheque, PaymentCash, PaymentMobileMoney:
		return true
	}
	return false
}

// Payment is the disbursement record.
type Payment struct {
	Mode      PaymentMode
	Reference string
	PaidAt    time.Time
	PaidBy    string
}

// Rejection records who stopped the quittance and at which stage.
type Rejection struct {
	Stage  Stage
	Reason string
	By     string
	At     time.Time
}

// =============================================================================
// STATES
// =============================================================================

// State is the closed set of quittance states.
type State interface {
	Stage() Stage
	isState()
}

type AwaitingAccountant struct{}

// AccountantApproved is transient: it is recorded in the history and
// immediately routed to AwaitingExecutive.
type AccountantApproved struct {
	accountant Approval
}

type AwaitingExecutive struct {
	accountant Approval
}

// ExecutiveApproved is the payable state.
type ExecutiveApproved struct {
	accountant Approval
	executive  Approval
}

type Paid struct {
	accountant Approval
	executive  Approval
	payment    Payment
}

type Rejected struct {
	accountant *Approval
	rejection  Rejection
}

func (AwaitingAccountant) Stage() Stage { return StageAwaitingAccountant }
func (AccountantApproved) Stage() Stage { return StageAccountantApproved }
func (AwaitingExecutive) Stage() Stage  { return StageAwaitingExecutive }
func (ExecutiveApproved) Stage() Stage  { return StageExecutiveApproved }
func (Paid) Stage() Stage               { return StagePaid }
func (Rejected) Stage() Stage           { return StageRejected }

func (AwaitingAccountant) isState() {}
func (AccountantApproved) isState() {}
func (AwaitingExecutive) isState()  {}
func (ExecutiveApproved) isState()  {}
func (Paid) isState()               {}
func (Rejected) isState()           {}

// =============================================================================
// STATE TRANSITIONS - one method per edge
// =============================================================================

func (AwaitingAccountant) approve(a Approval) AccountantApproved {
	return AccountantApproved{accountant: a}
}

func (AwaitingAccountant) reject(r Rejection) Rejected {
	r.Stage = StageAwaitingAccountant
	return Rejected{rejection: r}
}

func (s AccountantApproved) route() AwaitingExecutive {
	return AwaitingExecutive{accountant: s.accountant}
}

func (s AwaitingExecutive) approve(a Approval) ExecutiveApproved {
	return ExecutiveApproved{accountant: s.accountant, executive: a}
}

func (s AwaitingExecutive) reject(r Rejection) Rejected {
	r.Stage = StageAwaitingExecutive
	acc := s.accountant
	return Rejected{accountant: &acc, rejection: r}
}

func (s ExecutiveApproved) pay(p Payment) Paid {
	return Paid{accountant: s.accountant, executive: s.executive, payment: p}
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (s AccountantApproved) AccountantApproval() Approval { return s.accountant }
func (s AwaitingExecutive) AccountantApproval() Approval  { return s.accountant }
func (s ExecutiveApproved) AccountantApproval() Approval  { return s.accountant }
func (s ExecutiveApproved) ExecutiveApproval() Approval   { return s.executive }
func (s Paid) AccountantApproval() Approval               { return s.accountant }
func (s Paid) ExecutiveApproval() Approval                { return s.executive }
func (s Paid) Payment() Payment                           { return s.payment }
func (s Rejected) Rejection() Rejection                   { return s.rejection }

// AccountantApproval is set when the rejection happened at the executive stage.
func (s Rejected) AccountantApproval() *Approval { return s.accountant }
