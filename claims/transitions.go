package claims

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/quittance"
)

// =============================================================================
// TRANSITION INPUTS AND OUTPUTS
// =============================================================================

// Payload carries the inputs of every claim action; each action reads only
// its own fields.
type Payload struct {
	// attach_document
	Documents []DocumentKind

	// validate
	GrantedAmount *generic.Amount
	// Components gives the amount of every non-primary indemnity component.
	Components map[quittance.Kind]generic.Amount

	// reject
	RejectionReason string

	// issue_quittance
	Issue *IssueRequest

	// mark_paid: payment record per executive-approved quittance id
	Payments map[string]quittance.Payload

	// ExpectedVersion, when set, must match the claim's current version.
	ExpectedVersion *int
}

// IssueRequest asks for a fresh quittance on a validated claim, typically
// after one was rejected.
type IssueRequest struct {
	Kind        quittance.Kind
	Beneficiary string
	Amount      generic.Amount
}

// Env is the request-scoped context of a transition.
type Env struct {
	Caller authz.Caller
	Now    time.Time

	// Quittances are the claim's current children.
	Quittances []quittance.Quittance

	// NewID generates quittance identifiers.
	NewID func() string
}

// Outcome is everything a successful transition produced. The caller
// persists it as one unit.
type Outcome struct {
	Claim Claim
	From  Status

	Issued   []quittance.Quittance
	Paid     []quittance.Result
	Archived []quittance.Quittance
}

// =============================================================================
// TRANSITION
// =============================================================================

// Transition applies action to c. It never mutates c or env.Quittances.
func Transition(c Claim, action authz.Action, p Payload, env Env) (Outcome, error) {
	if err := authz.Require(env.Caller.Role, authz.EntityClaim, action); err != nil {
		return Outcome{}, err
	}
	if p.ExpectedVersion != nil && *p.ExpectedVersion != c.Version {
		return Outcome{}, &generic.AlreadyTransitionedError{
			Entity:          string(authz.EntityClaim),
			ID:              c.ID,
			ExpectedVersion: *p.ExpectedVersion,
			ActualVersion:   c.Version,
		}
	}
	if c.IsArchived {
		return Outcome{}, invalid(c, action, "claim is archived")
	}

	next := c
	next.AttachedDocuments = append([]DocumentKind(nil), c.AttachedDocuments...)
	out := Outcome{From: c.Status}

	var err error
	switch action {
	case authz.ActionAttachDocument:
		err = attachDocuments(&next, p.Documents)
	case authz.ActionStartInstruction:
		err = startInstruction(&next)
	case authz.ActionValidate:
		out.Issued, err = validate(&next, p, env)
	case authz.ActionRejectClaim:
		err = reject(&next, p.RejectionReason, env.Now)
	case authz.ActionIssueQuittance:
		var q quittance.Quittance
		q, err = issueQuittance(next, p.Issue, env)
		out.Issued = []quittance.Quittance{q}
	case authz.ActionMarkPaid:
		out.Paid, err = markPaid(&next, p.Payments, env)
	case authz.ActionClose:
		err = closeClaim(&next, env.Now)
	case authz.ActionArchive:
		out.Archived, err = archive(&next, env)
	default:
		err = invalid(c, action, "unknown action")
	}
	if err != nil {
		return Outcome{}, err
	}

	next.Version = c.Version + 1
	next.UpdatedAt = env.Now
	out.Claim = next
	return out, nil
}

// Target is the status an action leads to, for error reporting.
func Target(action authz.Action) string {
	switch action {
	case authz.ActionAttachDocument, authz.ActionStartInstruction:
		return string(StatusUnderInstruction)
	case authz.ActionValidate, authz.ActionIssueQuittance:
		return string(StatusValidated)
	case authz.ActionRejectClaim:
		return string(StatusRejected)
	case authz.ActionMarkPaid:
		return string(StatusPaid)
	case authz.ActionClose:
		return string(StatusClosed)
	case authz.ActionArchive:
		return "archived"
	}
	return string(action)
}

// =============================================================================
// ACTIONS
// =============================================================================

func attachDocuments(c *Claim, docs []DocumentKind) error {
	if c.Status != StatusDeclared && c.Status != StatusUnderInstruction {
		return invalid(*c, authz.ActionAttachDocument, "documents are attached before the decision")
	}
	if len(docs) == 0 {
		return generic.InvalidField("documents", "at least one document required")
	}
	have := make(map[DocumentKind]bool, len(c.AttachedDocuments))
	for _, d := range c.AttachedDocuments {
		have[d] = true
	}
	for _, d := range docs {
		if !d.Valid() {
			return generic.InvalidField("documents", "unknown document kind %q", d)
		}
		if !have[d] {
			have[d] = true
			c.AttachedDocuments = append(c.AttachedDocuments, d)
		}
	}
	sort.Slice(c.AttachedDocuments, func(i, j int) bool { return c.AttachedDocuments[i] < c.AttachedDocuments[j] })

	// The first evidentiary document opens the instruction.
	if c.Status == StatusDeclared {
		c.Status = StatusUnderInstruction
	}
	return nil
}

func startInstruction(c *Claim) error {
	if c.Status != StatusDeclared {
		return invalid(*c, authz.ActionStartInstruction, "only declared claims enter instruction")
	}
	if c.Policy.PartnerID == "" || c.Policy.PolicyID == "" {
		return invalid(*c, authz.ActionStartInstruction, "policy reference is incomplete")
	}
	c.Status = StatusUnderInstruction
	return nil
}

func validate(c *Claim, p Payload, env Env) ([]quittance.Quittance, error) {
	if c.Status != StatusUnderInstruction {
		return nil, invalid(*c, authz.ActionValidate, "only claims under instruction can be validated")
	}
	if missing := c.MissingDocuments(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, d := range missing {
			names[i] = string(d)
		}
		return nil, &generic.IncompleteEvidenceError{ClaimID: c.ID, Missing: names}
	}

	if p.GrantedAmount == nil {
		return nil, generic.InvalidField("granted_amount", "required to validate")
	}
	granted := *p.GrantedAmount
	currency := c.OutstandingPrincipal.Currency
	if granted.Currency == "" {
		granted.Currency = currency
	}
	if granted.Currency != currency {
		return nil, generic.InvalidField("granted_amount", "currency %s differs from claim currency %s", granted.Currency, currency)
	}
	if !granted.IsPositive() {
		return nil, generic.InvalidField("granted_amount", "must be positive")
	}
	if ceiling := c.Ceiling(); granted.GreaterThan(ceiling) {
		return nil, invalid(*c, authz.ActionValidate,
			fmt.Sprintf("granted amount %s exceeds ceiling %s", granted, ceiling))
	}

	drafts, err := breakdown(*c, granted, p.Components)
	if err != nil {
		return nil, err
	}

	issued := make([]quittance.Quittance, 0, len(drafts))
	for _, d := range drafts {
		q, err := quittance.Issue(newID(env), c.ID, d.kind, d.beneficiary, d.amount, env.Now)
		if err != nil {
			return nil, err
		}
		issued = append(issued, q)
	}

	decided := generic.DayOf(env.Now)
	c.Status = StatusValidated
	c.GrantedAmount = &granted
	c.DecidedAt = &decided
	return issued, nil
}

type draft struct {
	kind        quittance.Kind
	beneficiary string
	amount      generic.Amount
}

// breakdown splits the granted amount over the claim type's components. The
// primary component takes the remainder, which must stay positive.
func breakdown(c Claim, granted generic.Amount, amounts map[quittance.Kind]generic.Amount) ([]draft, error) {
	kinds := IndemnityComponents(c.Type)
	primary, secondary := kinds[0], kinds[1:]

	allowed := make(map[quittance.Kind]bool, len(secondary))
	for _, k := range secondary {
		allowed[k] = true
	}
	for k := range amounts {
		if !allowed[k] {
			return nil, generic.InvalidField("components", "%s is not a secondary component of a %s claim", k, c.Type)
		}
	}

	remainder := granted
	drafts := make([]draft, 0, len(kinds))
	for _, k := range secondary {
		amt, ok := amounts[k]
		if !ok {
			return nil, generic.InvalidField("components."+string(k), "amount required for a %s claim", c.Type)
		}
		if amt.Currency == "" {
			amt.Currency = granted.Currency
		}
		if amt.Currency != granted.Currency || !amt.IsPositive() {
			return nil, generic.InvalidField("components."+string(k), "must be a positive %s amount", granted.Currency)
		}
		remainder = remainder.Sub(amt)
		drafts = append(drafts, draft{kind: k, beneficiary: DefaultBeneficiary(c, k), amount: amt})
	}
	if !remainder.IsPositive() {
		return nil, generic.InvalidField("components", "secondary components leave nothing for %s", primary)
	}

	return append([]draft{{kind: primary, beneficiary: DefaultBeneficiary(c, primary), amount: remainder}}, drafts...), nil
}

// DefaultBeneficiary pays the partner back the outstanding loan and every
// other component to the declarant.
func DefaultBeneficiary(c Claim, kind quittance.Kind) string {
	if kind == quittance.KindPartnerReimbursement {
		return c.Policy.PartnerID
	}
	return c.Declarant.Name
}

func reject(c *Claim, reason string, now time.Time) error {
	if c.Status != StatusUnderInstruction {
		return invalid(*c, authz.ActionRejectClaim, "only claims under instruction can be rejected")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return generic.InvalidField("rejection_reason", "required")
	}
	decided := generic.DayOf(now)
	c.Status = StatusRejected
	c.RejectionReason = reason
	c.DecidedAt = &decided
	return nil
}

func issueQuittance(c Claim, req *IssueRequest, env Env) (quittance.Quittance, error) {
	if c.Status != StatusValidated {
		return quittance.Quittance{}, invalid(c, authz.ActionIssueQuittance, "quittances are issued on validated claims")
	}
	if req == nil {
		return quittance.Quittance{}, generic.InvalidField("issue", "required")
	}

	offered := false
	for _, k := range IndemnityComponents(c.Type) {
		offered = offered || k == req.Kind
	}
	if !offered {
		return quittance.Quittance{}, generic.InvalidField("issue.kind", "%s is not a component of a %s claim", req.Kind, c.Type)
	}

	amount := req.Amount
	if amount.Currency == "" {
		amount.Currency = c.GrantedAmount.Currency
	}
	if amount.Currency != c.GrantedAmount.Currency {
		return quittance.Quittance{}, generic.InvalidField("issue.amount", "currency %s differs from claim currency %s",
			amount.Currency, c.GrantedAmount.Currency)
	}

	committed := quittance.Committed(c.GrantedAmount.Currency, env.Quittances)
	if committed.Add(amount).GreaterThan(*c.GrantedAmount) {
		return quittance.Quittance{}, invalid(c, authz.ActionIssueQuittance,
			fmt.Sprintf("%s already committed, %s more exceeds granted %s", committed, amount, *c.GrantedAmount))
	}

	beneficiary := req.Beneficiary
	if strings.TrimSpace(beneficiary) == "" {
		beneficiary = DefaultBeneficiary(c, req.Kind)
	}
	return quittance.Issue(newID(env), c.ID, req.Kind, beneficiary, amount, env.Now)
}

func markPaid(c *Claim, payments map[string]quittance.Payload, env Env) ([]quittance.Result, error) {
	if c.Status != StatusValidated {
		return nil, invalid(*c, authz.ActionMarkPaid, "only validated claims are paid")
	}

	children := make(map[string]bool, len(env.Quittances))
	for _, q := range env.Quittances {
		children[q.ID] = true
	}
	for id := range payments {
		if !children[id] {
			return nil, generic.InvalidField("payments", "quittance %s does not belong to claim %s", id, c.ID)
		}
	}

	var paid []quittance.Result
	settled := 0
	for _, q := range env.Quittances {
		switch {
		case q.IsRejected():
			continue
		case q.IsPaid():
			settled++
		case q.IsPayable():
			payment, ok := payments[q.ID]
			if !ok {
				return nil, generic.InvalidField("payments", "payment record required for quittance %s", q.ID)
			}
			res, err := quittance.Transition(q, authz.ActionPay, payment, env.Caller, env.Now)
			if err != nil {
				return nil, err
			}
			paid = append(paid, res)
			settled++
		default:
			return nil, invalid(*c, authz.ActionMarkPaid,
				fmt.Sprintf("quittance %s is still %s", q.ID, q.Stage()))
		}
	}
	if settled == 0 {
		return nil, invalid(*c, authz.ActionMarkPaid, "no quittance left to pay")
	}

	at := env.Now
	c.Status = StatusPaid
	c.PaidAt = &at
	return paid, nil
}

func closeClaim(c *Claim, now time.Time) error {
	if c.Status != StatusPaid {
		return invalid(*c, authz.ActionClose, "only paid claims can be closed")
	}
	c.Status = StatusClosed
	c.ClosedAt = &now
	return nil
}

// archive flags the claim and cascades to its quittances.
func archive(c *Claim, env Env) ([]quittance.Quittance, error) {
	if !c.Status.IsTerminal() {
		return nil, invalid(*c, authz.ActionArchive, "only rejected, paid or closed claims can be archived")
	}
	var archived []quittance.Quittance
	for _, q := range env.Quittances {
		if q.IsArchived {
			continue
		}
		a, err := quittance.Archive(q, env.Now)
		if err != nil {
			return nil, err
		}
		archived = append(archived, a)
	}
	c.IsArchived = true
	return archived, nil
}

func invalid(c Claim, action authz.Action, reason string) error {
	return &generic.InvalidTransitionError{
		Entity:    string(authz.EntityClaim),
		ID:        c.ID,
		From:      string(c.Status),
		Attempted: Target(action),
		Reason:    reason,
	}
}

func newID(env Env) string {
	if env.NewID == nil {
		panic("claims: Env.NewID is required to issue quittances")
	}
	return env.NewID()
}
