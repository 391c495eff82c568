package indemnity

import (
	"context"
	"sort"

	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/quittance"
	"github.com/warp/indemnity-engine/tarification"
)

// =============================================================================
// READ SIDE - listings, work queues, history
// =============================================================================

func (s *Service) GetClaim(ctx context.Context, caller authz.Caller, id string) (claims.Claim, error) {
	c, err := s.store.GetClaim(ctx, id)
	if err != nil {
		return claims.Claim{}, err
	}
	if err := s.checkScope(caller, c.Policy.PartnerID, "read"); err != nil {
		return claims.Claim{}, err
	}
	return c, nil
}

// ListClaims returns the claims visible to caller. A partner-scoped caller
// only ever sees its own partner.
func (s *Service) ListClaims(ctx context.Context, caller authz.Caller, filter ClaimFilter) ([]claims.Claim, error) {
	if filter.PartnerID != "" {
		filter.PartnerID = s.partnerKey(filter.PartnerID)
	}
	if caller.PartnerID != "" && caller.Role != authz.RoleAdmin {
		own := s.partnerKey(caller.PartnerID)
		if filter.PartnerID != "" && filter.PartnerID != own {
			return nil, s.checkScope(caller, filter.PartnerID, "read")
		}
		filter.PartnerID = own
	}
	return s.store.ListClaims(ctx, filter)
}

// partnerKey maps a partner id as typed by a client to the id claims are
// stored under.
func (s *Service) partnerKey(id string) string {
	if schedule, err := s.engine.Registry().Lookup(id); err == nil {
		return schedule.PartnerID
	}
	return tarification.NormalizePartnerID(id)
}

// ClaimQuittances returns every quittance of a claim, archived included.
func (s *Service) ClaimQuittances(ctx context.Context, caller authz.Caller, claimID string) ([]quittance.Quittance, error) {
	if _, err := s.GetClaim(ctx, caller, claimID); err != nil {
		return nil, err
	}
	return s.store.ListQuittances(ctx, QuittanceFilter{ClaimID: claimID, IncludeArchived: true})
}

func (s *Service) GetQuittance(ctx context.Context, caller authz.Caller, id string) (quittance.Quittance, error) {
	q, err := s.store.GetQuittance(ctx, id)
	if err != nil {
		return quittance.Quittance{}, err
	}
	if _, err := s.GetClaim(ctx, caller, q.ClaimID); err != nil {
		return quittance.Quittance{}, err
	}
	return q, nil
}

// QueueStages returns the stages a role works on: the accountant approves
// and then disburses, the executive signs off.
func QueueStages(role authz.Role) []quittance.Stage {
	switch role {
	case authz.RoleAccountant:
		return []quittance.Stage{quittance.StageAwaitingAccountant, quittance.StageExecutiveApproved}
	case authz.RoleExecutive:
		return []quittance.Stage{quittance.StageAwaitingExecutive}
	case authz.RoleAdmin:
		return []quittance.Stage{quittance.StageAwaitingAccountant, quittance.StageAwaitingExecutive, quittance.StageExecutiveApproved}
	}
	return nil
}

// Queue returns the quittances waiting on the caller's role, oldest first.
func (s *Service) Queue(ctx context.Context, caller authz.Caller) ([]quittance.Quittance, error) {
	stages := QueueStages(caller.Role)
	if len(stages) == 0 {
		return nil, &generic.ForbiddenError{Role: string(caller.Role), Entity: string(authz.EntityQuittance), Action: "queue"}
	}

	visible := map[string]bool{}
	var out []quittance.Quittance
	for _, stage := range stages {
		qs, err := s.store.ListQuittances(ctx, QuittanceFilter{Stage: stage})
		if err != nil {
			return nil, err
		}
		for _, q := range qs {
			ok, seen := visible[q.ClaimID]
			if !seen {
				c, err := s.store.GetClaim(ctx, q.ClaimID)
				if err != nil {
					return nil, err
				}
				ok = caller.CanSeePartner(c.Policy.PartnerID)
				visible[q.ClaimID] = ok
			}
			if ok {
				out = append(out, q)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// History returns the audit trail of a claim or a quittance.
func (s *Service) History(ctx context.Context, caller authz.Caller, entity authz.Entity, id string) ([]TransitionRecord, error) {
	switch entity {
	case authz.EntityClaim:
		if _, err := s.GetClaim(ctx, caller, id); err != nil {
			return nil, err
		}
	case authz.EntityQuittance:
		if _, err := s.GetQuittance(ctx, caller, id); err != nil {
			return nil, err
		}
	default:
		return nil, generic.InvalidField("entity", "unknown entity %q", entity)
	}
	return s.store.History(ctx, string(entity), id)
}
