/*
store.go - Persistence contract for claims, quittances and their history

PURPOSE:
  Defines the interface between the indemnity service and the database.
  The service decides; the store persists what was decided, as one unit.

COMPARE-AND-SWAP CONTRACT:
  Every update names the version it was computed from. The store writes the
  row only if it is still at that version:

    UPDATE claims SET ..., version = :new WHERE id = :id AND version = :prev

  If any row in a Changeset fails its check, nothing in the Changeset is
  written and Commit returns an AlreadyTransitionedError. This is what makes
  "two approvals race on the same quittance" yield exactly one winner.

ATOMIC CHANGESETS:
  Validating a claim writes the claim and spawns its quittances; paying a
  claim writes the claim and pays its quittances; archiving cascades. Each
  of these is one Changeset: either all rows land, with their history
  records, or none do.

IMPLEMENTATIONS:
  - store/memory/memory.go: In-memory for tests and development
  - store/sqlstore/sqlstore.go: SQLite or PostgreSQL through sqlx

SEE ALSO:
  - service.go: The only writer
*/
package indemnity

import (
	"context"
	"time"

	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/quittance"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// CreateClaim inserts a newly declared claim with its history record.
	CreateClaim(ctx context.Context, c claims.Claim, record TransitionRecord) error

	// Commit applies a changeset atomically with per-row version checks.
	Commit(ctx context.Context, cs Changeset) error

	GetClaim(ctx context.Context, id string) (claims.Claim, error)
	ListClaims(ctx context.Context, filter ClaimFilter) ([]claims.Claim, error)

	GetQuittance(ctx context.Context, id string) (quittance.Quittance, error)
	ListQuittances(ctx context.Context, filter QuittanceFilter) ([]quittance.Quittance, error)

	// History returns the records of one entity, oldest first.
	History(ctx context.Context, entity, id string) ([]TransitionRecord, error)
}

// Changeset is one atomic write.
type Changeset struct {
	// Claim is written if PrevVersion still matches.
	Claim *ClaimUpdate

	// NewQuittances are inserted.
	NewQuittances []quittance.Quittance

	// Quittances are written if their PrevVersion still matches.
	Quittances []QuittanceUpdate

	Records []TransitionRecord
}

type ClaimUpdate struct {
	Claim       claims.Claim
	PrevVersion int
}

type QuittanceUpdate struct {
	Quittance   quittance.Quittance
	PrevVersion int
}

// ClaimFilter selects claims. Archived claims are excluded unless
// IncludeArchived is set.
type ClaimFilter struct {
	PartnerID       string
	Status          claims.Status
	IncludeArchived bool
}

func (f ClaimFilter) Matches(c claims.Claim) bool {
	if c.IsArchived && !f.IncludeArchived {
		return false
	}
	if f.PartnerID != "" && c.Policy.PartnerID != f.PartnerID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}

type QuittanceFilter struct {
	ClaimID         string
	Stage           quittance.Stage
	IncludeArchived bool
}

func (f QuittanceFilter) Matches(q quittance.Quittance) bool {
	if q.IsArchived && !f.IncludeArchived {
		return false
	}
	if f.ClaimID != "" && q.ClaimID != f.ClaimID {
		return false
	}
	if f.Stage != "" && q.Stage() != f.Stage {
		return false
	}
	return true
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// TransitionRecord is one line of an entity's history. Accountant approval
// produces two records: the approval itself and the routing step.
type TransitionRecord struct {
	ID       string    `json:"id"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	ClaimID  string    `json:"claim_id"`
	Action   string    `json:"action"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	ActorID  string    `json:"actor_id"`
	Role     string    `json:"role"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}
