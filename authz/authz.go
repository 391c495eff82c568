/*
Package authz is the single authorization gate for claim and quittance
transitions.

PURPOSE:
  Every privilege rule lives here. The claim state machine and the quittance
  workflow both ask CanPerform before applying a transition, so the answer
  to "may an accountant reject at the executive stage?" is found in one table.

ROLES:
  agent       Front-office operator: declares and instructs claims
  accountant  First approval stage, disburses payments
  executive   FPDG, second approval stage, decides on claims
  admin       Superset of every other role

The caller's role is an input supplied by the external identity provider for
each request; nothing here is global or cached.
*/
package authz

import (
	"fmt"
	"strings"

	"github.com/warp/indemnity-engine/generic"
)

type Role string

const (
	RoleAgent      Role = "agent"
	RoleAccountant Role = "accountant"
	RoleExecutive  Role = "executive"
	RoleAdmin      Role = "admin"
)

// ParseRole accepts the identity provider's role names. FPDG is an alias for
// the executive role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "agent":
		return RoleAgent, nil
	case "accountant":
		return RoleAccountant, nil
	case "executive", "fpdg", "FPDG":
		return RoleExecutive, nil
	case "admin":
		return RoleAdmin, nil
	}
	return "", generic.InvalidField("role", "unknown role %q", s)
}

type Entity string

const (
	EntityClaim     Entity = "claim"
	EntityQuittance Entity = "quittance"
)

type Action string

// Claim actions
const (
	ActionDeclare          Action = "declare"
	ActionAttachDocument   Action = "attach_document"
	ActionStartInstruction Action = "start_instruction"
	ActionValidate         Action = "validate"
	ActionRejectClaim      Action = "reject"
	ActionIssueQuittance   Action = "issue_quittance"
	ActionMarkPaid         Action = "mark_paid"
	ActionClose            Action = "close"
	ActionArchive          Action = "archive"
)

// Quittance actions. Rejection is split per stage so each approving role
// may only reject at its own stage.
const (
	ActionAccountantApprove  Action = "accountant_approve"
	ActionExecutiveApprove   Action = "executive_approve"
	ActionRejectAtAccountant Action = "reject_at_accountant"
	ActionRejectAtExecutive  Action = "reject_at_executive"
	ActionPay                Action = "pay"
)

type rule struct {
	entity Entity
	action Action
}

// permissions lists the non-admin roles allowed per (entity, action).
var permissions = map[rule][]Role{
	{EntityClaim, ActionDeclare}:          {RoleAgent},
	{EntityClaim, ActionAttachDocument}:   {RoleAgent},
	{EntityClaim, ActionStartInstruction}: {RoleAgent},
	{EntityClaim, ActionValidate}:         {RoleExecutive},
	{EntityClaim, ActionRejectClaim}:      {RoleExecutive},
	{EntityClaim, ActionIssueQuittance}:   {RoleExecutive},
	{EntityClaim, ActionMarkPaid}:         {RoleAccountant},
	{EntityClaim, ActionClose}:            {RoleExecutive},
	{EntityClaim, ActionArchive}:          {},

	{EntityQuittance, ActionAccountantApprove}:  {RoleAccountant},
	{EntityQuittance, ActionExecutiveApprove}:   {RoleExecutive},
	{EntityQuittance, ActionRejectAtAccountant}: {RoleAccountant},
	{EntityQuittance, ActionRejectAtExecutive}:  {RoleExecutive},
	{EntityQuittance, ActionPay}:                {RoleAccountant},
}

// CanPerform reports whether role may perform action on entity.
// Unknown (entity, action) pairs are refused for everyone, admin included.
func CanPerform(role Role, entity Entity, action Action) bool {
	allowed, ok := permissions[rule{entity, action}]
	if !ok {
		return false
	}
	if role == RoleAdmin {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// Require returns a ForbiddenError when CanPerform is false.
func Require(role Role, entity Entity, action Action) error {
	if CanPerform(role, entity, action) {
		return nil
	}
	return &generic.ForbiddenError{Role: string(role), Entity: string(entity), Action: string(action)}
}

// Caller is the request-scoped identity handed to every transition.
type Caller struct {
	ActorID string
	Role    Role
	// PartnerID restricts the caller to one partner's claims when set.
	PartnerID string
}

func (c Caller) String() string {
	if c.PartnerID != "" {
		return fmt.Sprintf("%s(%s@%s)", c.ActorID, c.Role, c.PartnerID)
	}
	return fmt.Sprintf("%s(%s)", c.ActorID, c.Role)
}

// CanSeePartner reports whether the caller's partner scope covers partnerID.
func (c Caller) CanSeePartner(partnerID string) bool {
	return c.PartnerID == "" || c.Role == RoleAdmin ||
		strings.EqualFold(strings.TrimSpace(c.PartnerID), strings.TrimSpace(partnerID))
}
