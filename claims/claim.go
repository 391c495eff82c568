/*
Package claims implements the claim (sinistre) lifecycle state machine.

PURPOSE:
  A claim is an insurable event declared against a policy. It moves from
  declaration through instruction to a decision, then to payment of its
  quittances and administrative closure. Every status change goes through
  Transition; nothing else sets Status.

STATE MACHINE:

  ┌──────────┐ attach / start ┌──────────────────┐ validate ┌───────────┐
  │ Declared │──────────────▶│ UnderInstruction │────────▶│ Validated │──┐
  └──────────┘                └──────────────────┘          └───────────┘  │
                                       │ reject                 │ mark_paid │
                                       ▼                        ▼          │ issue_quittance
                                 ┌──────────┐              ┌──────┐       │ (re-issue)
                                 │ Rejected │              │ Paid │◀──────┘
                                 └──────────┘              └──────┘
                                       │                        │ close
                                       │                        ▼
                                       │                   ┌────────┐
                                       │                   │ Closed │
                                       │                   └────────┘
                                       └──── archive (any terminal state, one-way)

GUARDS:
  - validate: every required document attached, granted amount supplied
    and <= min(outstanding principal, policy coverage ceiling)
  - reject: non-empty reason
  - mark_paid: every non-rejected quittance payable or already paid, with
    a payment record for each payable one
  - archive: terminal state only; archived claims refuse every transition

ATOMICITY:
  Transition takes a Claim by value and returns a new one. On error the
  input is untouched and nothing is emitted.

DELAY TRACKING:
  DelayDays counts days from declaration to today while undecided, and is
  frozen at the decision date once the claim is validated or rejected. It
  is advisory: it never gates a transition.

SEE ALSO:
  - documents.go: Required documents per claim type and partner
  - transitions.go: Transition dispatcher
  - quittance/: Workflow of the line items a validated claim spawns
*/
package claims

import (
	"strings"
	"time"

	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/quittance"
)

// =============================================================================
// CLAIM TYPES
// =============================================================================

type ClaimType string

const (
	TypeDeath           ClaimType = "death"
	TypeTotalDisability ClaimType = "total_disability"
	TypeJobLoss         ClaimType = "job_loss"
	TypeBusinessLoss    ClaimType = "business_loss"
)

func (t ClaimType) Valid() bool {
	switch t {
	case TypeDeath, TypeTotalDisability, TypeJobLoss, TypeBusinessLoss:
		return true
	}
	return false
}

// IndemnityComponents lists the quittance kinds a validated claim of type t
// spawns. The first is the primary component, which receives whatever part
// of the granted amount the others do not.
func IndemnityComponents(t ClaimType) []quittance.Kind {
	switch t {
	case TypeDeath:
		return []quittance.Kind{quittance.KindPartnerReimbursement, quittance.KindPrevoyance}
	case TypeTotalDisability:
		return []quittance.Kind{quittance.KindPartnerReimbursement, quittance.KindMedicalCosts}
	case TypeJobLoss:
		return []quittance.Kind{quittance.KindPartnerReimbursement, quittance.KindPerDiem}
	case TypeBusinessLoss:
		return []quittance.Kind{quittance.KindPartnerReimbursement}
	}
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusDeclared         Status = "declared"
	StatusUnderInstruction Status = "under_instruction"
	StatusValidated        Status = "validated"
	StatusRejected         Status = "rejected"
	StatusPaid             Status = "paid"
	StatusClosed           Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDeclared, StatusUnderInstruction, StatusValidated, StatusRejected, StatusPaid, StatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether archival is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusPaid || s == StatusClosed
}

// IsDecided reports whether the delay counter is frozen.
func (s Status) IsDecided() bool {
	return s != StatusDeclared && s != StatusUnderInstruction
}

// =============================================================================
// CLAIM
// =============================================================================

// PolicyRef identifies the policy in the external policy record.
type PolicyRef struct {
	PartnerID string
	PolicyID  string
}

type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "active"
	PolicyExpired   PolicyStatus = "expired"
	PolicyCancelled PolicyStatus = "cancelled"
)

// PolicySnapshot is the slice of the external policy record the claim
// depends on, captured at declaration.
type PolicySnapshot struct {
	InsuredPrincipal generic.Amount
	DurationMonths   int
	Status           PolicyStatus

	// CoverageCeiling is the tarification limit the policy was bound under.
	// Declaration derives it from the partner schedule when absent.
	CoverageCeiling *generic.Amount
}

type Declarant struct {
	Name                  string
	RelationshipToInsured string
	Contact               string
}

type Claim struct {
	ID     string
	Policy PolicyRef
	Type   ClaimType

	PolicySnapshot PolicySnapshot

	DeclaredAt   generic.TimePoint
	IncidentDate generic.TimePoint
	Declarant    Declarant

	ClaimedAmount        generic.Amount
	OutstandingPrincipal generic.Amount

	RequiredDocuments []DocumentKind
	AttachedDocuments []DocumentKind

	Status          Status
	GrantedAmount   *generic.Amount
	RejectionReason string
	IsArchived      bool

	// DecidedAt freezes the delay counter.
	DecidedAt *generic.TimePoint
	PaidAt    *time.Time
	ClosedAt  *time.Time

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ceiling is the most that may be granted: the outstanding principal, capped
// by the insured principal and by the policy's coverage ceiling when one
// applies.
func (c Claim) Ceiling() generic.Amount {
	ceiling := c.OutstandingPrincipal
	if insured := c.PolicySnapshot.InsuredPrincipal; insured.IsPositive() {
		ceiling = ceiling.Min(insured)
	}
	if cc := c.PolicySnapshot.CoverageCeiling; cc != nil {
		ceiling = ceiling.Min(*cc)
	}
	return ceiling
}

// MissingDocuments lists required documents not yet attached.
func (c Claim) MissingDocuments() []DocumentKind {
	return Missing(c.RequiredDocuments, c.AttachedDocuments)
}

// DelayDays is delai_traitement_jours.
func (c Claim) DelayDays(today generic.TimePoint) int {
	end := today
	if c.DecidedAt != nil {
		end = *c.DecidedAt
	}
	d := generic.DaysBetween(c.DeclaredAt, end)
	if d < 0 {
		return 0
	}
	return d
}

// BreachesSLA flags undecided or decided claims whose delay is over the
// threshold.
func (c Claim) BreachesSLA(today generic.TimePoint, slaDays int) bool {
	return c.DelayDays(today) > slaDays
}

// =============================================================================
// DECLARATION
// =============================================================================

// Declaration is the input of Declare.
type Declaration struct {
	Policy               PolicyRef
	PolicySnapshot       PolicySnapshot
	Type                 ClaimType
	IncidentDate         generic.TimePoint
	Declarant            Declarant
	ClaimedAmount        generic.Amount
	OutstandingPrincipal generic.Amount
}

// Declare creates a claim in the Declared state. required is the document
// set resolved from the taxonomy for the policy's partner.
func Declare(id string, d Declaration, required []DocumentKind, now time.Time) (Claim, error) {
	if id == "" {
		return Claim{}, generic.InvalidField("id", "required")
	}
	if strings.TrimSpace(d.Policy.PartnerID) == "" || strings.TrimSpace(d.Policy.PolicyID) == "" {
		return Claim{}, generic.InvalidField("policy", "partner and policy id are required")
	}
	if !d.Type.Valid() {
		return Claim{}, generic.InvalidField("claim_type", "unknown claim type %q", d.Type)
	}
	if d.PolicySnapshot.Status != PolicyActive {
		return Claim{}, generic.InvalidField("policy.status", "policy %s is %q, claims need an active policy",
			d.Policy.PolicyID, d.PolicySnapshot.Status)
	}
	if strings.TrimSpace(d.Declarant.Name) == "" {
		return Claim{}, generic.InvalidField("declarant.name", "required")
	}

	today := generic.DayOf(now)
	if d.IncidentDate.IsZero() {
		return Claim{}, generic.InvalidField("incident_date", "required")
	}
	if d.IncidentDate.After(today) {
		return Claim{}, generic.InvalidField("incident_date", "%s is in the future", d.IncidentDate)
	}

	if !d.ClaimedAmount.IsPositive() {
		return Claim{}, generic.InvalidField("claimed_amount", "must be positive")
	}
	if !d.OutstandingPrincipal.IsPositive() {
		return Claim{}, generic.InvalidField("outstanding_principal", "must be positive")
	}
	if d.ClaimedAmount.Currency != d.OutstandingPrincipal.Currency {
		return Claim{}, generic.InvalidField("claimed_amount", "currency %s differs from outstanding principal %s",
			d.ClaimedAmount.Currency, d.OutstandingPrincipal.Currency)
	}
	insured := d.PolicySnapshot.InsuredPrincipal
	if !insured.IsPositive() {
		return Claim{}, generic.InvalidField("policy.insured_principal", "must be positive")
	}
	if insured.Currency != d.OutstandingPrincipal.Currency {
		return Claim{}, generic.InvalidField("policy.insured_principal", "currency %s differs from outstanding principal %s",
			insured.Currency, d.OutstandingPrincipal.Currency)
	}
	if d.OutstandingPrincipal.GreaterThan(insured) {
		return Claim{}, generic.InvalidField("outstanding_principal", "%s exceeds the insured principal %s",
			d.OutstandingPrincipal, insured)
	}
	if cc := d.PolicySnapshot.CoverageCeiling; cc != nil && cc.Currency != d.OutstandingPrincipal.Currency {
		return Claim{}, generic.InvalidField("policy.coverage_ceiling", "currency %s differs from outstanding principal %s",
			cc.Currency, d.OutstandingPrincipal.Currency)
	}

	return Claim{
		ID:                   id,
		Policy:               d.Policy,
		Type:                 d.Type,
		PolicySnapshot:       d.PolicySnapshot,
		DeclaredAt:           today,
		IncidentDate:         d.IncidentDate,
		Declarant:            d.Declarant,
		ClaimedAmount:        d.ClaimedAmount,
		OutstandingPrincipal: d.OutstandingPrincipal,
		RequiredDocuments:    append([]DocumentKind(nil), required...),
		AttachedDocuments:    []DocumentKind{},
		Status:               StatusDeclared,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}
