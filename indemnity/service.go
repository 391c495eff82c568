/*
Package indemnity orchestrates the claim state machine and the quittance
workflow around persistence.

PURPOSE:
  The core packages (claims, quittance, tarification) are pure decision
  functions. This package is the calling layer: it loads an entity, asks the
  core for a decision, persists the decision with a version check, then
  records and publishes what happened.

TRANSITION CYCLE:

  lock(entity) ─▶ load ─▶ decide (pure) ─▶ commit (CAS) ─▶ publish ─▶ unlock
                               │                 │
                               ▼                 ▼
                       typed error,       AlreadyTransitioned,
                       nothing written    nothing written

  A request without an expected version is pinned to the version read
  before the lock. The loser of a race on the same quittance therefore
  finds a newer version once it holds the lock and gets
  AlreadyTransitioned, never a state-guard refusal and never a silent
  overwrite. The store's compare-and-swap backs this up across instances.
  A repeat sent after the first one completed reads the new version and
  gets InvalidTransition.

CALLER SCOPE:
  Every call takes an authz.Caller. A caller scoped to one partner only
  sees and acts on that partner's claims. There is no ambient session.

SEE ALSO:
  - store.go: Persistence contract
  - report.go: Delay and SLA export
  - claims/, quittance/: The decisions themselves
*/
package indemnity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/events"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/lock"
	"github.com/warp/indemnity-engine/quittance"
	"github.com/warp/indemnity-engine/tarification"
)

// DefaultSLADays is the processing delay above which a claim is flagged.
const DefaultSLADays = 15

// ActionRoute labels the automatic routing step in the history.
const ActionRoute = "route"

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	engine    *tarification.Engine
	store     Store
	locker    lock.Locker
	publisher events.Publisher
	taxonomy  *claims.DocumentTaxonomy
	clock     generic.Clock
	newID     func() string
	logger    *slog.Logger
	slaDays   int
}

type Option func(*Service)

func WithLocker(l lock.Locker) Option { return func(s *Service) { s.locker = l } }

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithTaxonomy(t *claims.DocumentTaxonomy) Option { return func(s *Service) { s.taxonomy = t } }

func WithClock(c generic.Clock) Option { return func(s *Service) { s.clock = c } }

func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithSLADays(days int) Option { return func(s *Service) { s.slaDays = days } }

func NewService(engine *tarification.Engine, store Store, opts ...Option) *Service {
	s := &Service{
		engine:    engine,
		store:     store,
		locker:    lock.NewKeyed(),
		publisher: events.Nop{},
		taxonomy:  claims.DefaultTaxonomy(),
		clock:     generic.SystemClock{},
		newID:     uuid.NewString,
		logger:    slog.Default(),
		slaDays:   DefaultSLADays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Engine() *tarification.Engine { return s.engine }

func (s *Service) SLADays() int { return s.slaDays }

// Quote prices a policy request. It touches no state.
func (s *Service) Quote(_ context.Context, req tarification.QuoteRequest) (tarification.PremiumQuote, error) {
	return s.engine.Quote(req)
}

// =============================================================================
// DECLARATION
// =============================================================================

// Declare records a new claim against a policy of a known partner.
func (s *Service) Declare(ctx context.Context, caller authz.Caller, d claims.Declaration) (claims.Claim, error) {
	if err := requireActor(caller); err != nil {
		return claims.Claim{}, err
	}
	if err := authz.Require(caller.Role, authz.EntityClaim, authz.ActionDeclare); err != nil {
		return claims.Claim{}, err
	}

	schedule, err := s.engine.Registry().Lookup(d.Policy.PartnerID)
	if err != nil {
		return claims.Claim{}, err
	}
	d.Policy.PartnerID = schedule.PartnerID
	if err := s.checkScope(caller, d.Policy.PartnerID, authz.ActionDeclare); err != nil {
		return claims.Claim{}, err
	}

	if d.PolicySnapshot.CoverageCeiling == nil {
		ceiling, err := s.scheduleCeiling(d)
		if err != nil {
			return claims.Claim{}, err
		}
		d.PolicySnapshot.CoverageCeiling = ceiling
	}

	now := s.clock.Now()
	required := s.taxonomy.Required(d.Policy.PartnerID, d.Type)
	c, err := claims.Declare(s.newID(), d, required, now)
	if err != nil {
		return claims.Claim{}, err
	}

	record := TransitionRecord{
		ID:       s.newID(),
		Entity:   string(authz.EntityClaim),
		EntityID: c.ID,
		ClaimID:  c.ID,
		Action:   string(authz.ActionDeclare),
		To:       string(c.Status),
		ActorID:  caller.ActorID,
		Role:     string(caller.Role),
		At:       now,
	}
	if err := s.store.CreateClaim(ctx, c, record); err != nil {
		return claims.Claim{}, err
	}

	s.logger.Info("claim declared",
		"claim_id", c.ID,
		"partner_id", c.Policy.PartnerID,
		"policy_id", c.Policy.PolicyID,
		"claim_type", c.Type,
		"actor", caller.ActorID,
	)
	s.publish(ctx, []TransitionRecord{record})
	return c, nil
}

// scheduleCeiling is the amount limit of the tier the policy was priced in:
// the partner's standard table for the insured principal and duration.
// Policies without a duration are capped by their principals alone.
func (s *Service) scheduleCeiling(d claims.Declaration) (*generic.Amount, error) {
	snap := d.PolicySnapshot
	if snap.DurationMonths <= 0 || !snap.InsuredPrincipal.IsPositive() {
		return nil, nil
	}
	quote, err := s.engine.Quote(tarification.QuoteRequest{
		PartnerID:       d.Policy.PartnerID,
		PrincipalAmount: snap.InsuredPrincipal,
		DurationMonths:  snap.DurationMonths,
	})
	if err != nil {
		return nil, err
	}
	return quote.AmountCeiling, nil
}

// =============================================================================
// CLAIM TRANSITIONS
// =============================================================================

// ClaimResult is the claim after a transition together with all of its
// quittances.
type ClaimResult struct {
	Claim      claims.Claim
	Quittances []quittance.Quittance
}

// TransitionClaim applies action to a claim.
func (s *Service) TransitionClaim(ctx context.Context, caller authz.Caller, claimID string, action authz.Action, p claims.Payload) (ClaimResult, error) {
	out, merged, err := s.transitionClaim(ctx, caller, claimID, action, p)
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Claim: out.Claim, Quittances: merged}, nil
}

// IssueQuittance creates a fresh quittance on a validated claim.
func (s *Service) IssueQuittance(ctx context.Context, caller authz.Caller, claimID string, req claims.IssueRequest, expectedVersion *int) (quittance.Quittance, error) {
	out, _, err := s.transitionClaim(ctx, caller, claimID, authz.ActionIssueQuittance,
		claims.Payload{Issue: &req, ExpectedVersion: expectedVersion})
	if err != nil {
		return quittance.Quittance{}, err
	}
	return out.Issued[0], nil
}

func (s *Service) transitionClaim(ctx context.Context, caller authz.Caller, claimID string, action authz.Action, p claims.Payload) (claims.Outcome, []quittance.Quittance, error) {
	if err := requireActor(caller); err != nil {
		return claims.Outcome{}, nil, err
	}
	if p.ExpectedVersion == nil {
		seen, err := s.store.GetClaim(ctx, claimID)
		if err != nil {
			return claims.Outcome{}, nil, err
		}
		p.ExpectedVersion = &seen.Version
	}

	unlock, err := s.locker.Lock(ctx, "claim:"+claimID)
	if err != nil {
		return claims.Outcome{}, nil, err
	}
	defer unlock()

	c, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		return claims.Outcome{}, nil, err
	}
	if err := s.checkScope(caller, c.Policy.PartnerID, action); err != nil {
		return claims.Outcome{}, nil, err
	}
	children, err := s.store.ListQuittances(ctx, QuittanceFilter{ClaimID: claimID, IncludeArchived: true})
	if err != nil {
		return claims.Outcome{}, nil, err
	}

	now := s.clock.Now()
	out, err := claims.Transition(c, action, p, claims.Env{
		Caller:     caller,
		Now:        now,
		Quittances: children,
		NewID:      s.newID,
	})
	if err != nil {
		s.logFailure("claim transition refused", err,
			"claim_id", claimID, "status", c.Status, "action", action, "role", caller.Role)
		return claims.Outcome{}, nil, err
	}

	cs, merged := s.claimChangeset(c, out, action, p, caller, now, children)
	if err := s.store.Commit(ctx, cs); err != nil {
		s.logFailure("claim transition not committed", err, "claim_id", claimID, "action", action)
		return claims.Outcome{}, nil, err
	}

	s.logger.Info("claim transitioned",
		"claim_id", claimID,
		"action", action,
		"from", out.From,
		"to", out.Claim.Status,
		"role", caller.Role,
		"actor", caller.ActorID,
		"quittances_issued", len(out.Issued),
		"quittances_paid", len(out.Paid),
		"quittances_archived", len(out.Archived),
	)
	s.publish(ctx, cs.Records)
	return out, merged, nil
}

func (s *Service) claimChangeset(
	c claims.Claim,
	out claims.Outcome,
	action authz.Action,
	p claims.Payload,
	caller authz.Caller,
	now time.Time,
	children []quittance.Quittance,
) (Changeset, []quittance.Quittance) {
	cs := Changeset{
		Claim:         &ClaimUpdate{Claim: out.Claim, PrevVersion: c.Version},
		NewQuittances: out.Issued,
	}

	claimRecord := s.record(authz.EntityClaim, c.ID, c.ID, string(action), string(out.From), string(out.Claim.Status), caller, now)
	switch action {
	case authz.ActionRejectClaim:
		claimRecord.Reason = strings.TrimSpace(p.RejectionReason)
	case authz.ActionArchive:
		claimRecord.To = "archived"
	}
	cs.Records = append(cs.Records, claimRecord)

	for _, q := range out.Issued {
		cs.Records = append(cs.Records,
			s.record(authz.EntityQuittance, q.ID, c.ID, string(authz.ActionIssueQuittance), "", string(q.Stage()), caller, now))
	}

	updated := map[string]quittance.Quittance{}
	for _, r := range out.Paid {
		cs.Quittances = append(cs.Quittances, QuittanceUpdate{Quittance: r.Quittance, PrevVersion: r.Quittance.Version - 1})
		cs.Records = append(cs.Records,
			s.record(authz.EntityQuittance, r.Quittance.ID, c.ID, string(authz.ActionPay), string(r.From), string(r.Quittance.Stage()), caller, now))
		updated[r.Quittance.ID] = r.Quittance
	}
	for _, q := range out.Archived {
		cs.Quittances = append(cs.Quittances, QuittanceUpdate{Quittance: q, PrevVersion: q.Version - 1})
		cs.Records = append(cs.Records,
			s.record(authz.EntityQuittance, q.ID, c.ID, string(authz.ActionArchive), string(q.Stage()), "archived", caller, now))
		updated[q.ID] = q
	}

	merged := make([]quittance.Quittance, 0, len(children)+len(out.Issued))
	for _, q := range children {
		if u, ok := updated[q.ID]; ok {
			q = u
		}
		merged = append(merged, q)
	}
	merged = append(merged, out.Issued...)
	return cs, merged
}

// =============================================================================
// QUITTANCE TRANSITIONS
// =============================================================================

// TransitionQuittance applies a workflow action to one quittance.
// Quittances of the same claim are locked independently.
func (s *Service) TransitionQuittance(ctx context.Context, caller authz.Caller, quittanceID string, action authz.Action, p quittance.Payload) (quittance.Quittance, error) {
	if err := requireActor(caller); err != nil {
		return quittance.Quittance{}, err
	}
	if p.ExpectedVersion == nil {
		seen, err := s.store.GetQuittance(ctx, quittanceID)
		if err != nil {
			return quittance.Quittance{}, err
		}
		p.ExpectedVersion = &seen.Version
	}

	unlock, err := s.locker.Lock(ctx, "quittance:"+quittanceID)
	if err != nil {
		return quittance.Quittance{}, err
	}
	defer unlock()

	q, err := s.store.GetQuittance(ctx, quittanceID)
	if err != nil {
		return quittance.Quittance{}, err
	}
	c, err := s.store.GetClaim(ctx, q.ClaimID)
	if err != nil {
		return quittance.Quittance{}, err
	}
	if err := s.checkScope(caller, c.Policy.PartnerID, action); err != nil {
		return quittance.Quittance{}, err
	}

	now := s.clock.Now()
	res, err := quittance.Transition(q, action, p, caller, now)
	if err != nil {
		s.logFailure("quittance transition refused", err,
			"quittance_id", quittanceID, "claim_id", q.ClaimID, "stage", q.Stage(), "action", action, "role", caller.Role)
		return quittance.Quittance{}, err
	}

	cs := Changeset{Quittances: []QuittanceUpdate{{Quittance: res.Quittance, PrevVersion: q.Version}}}
	from := res.From
	for i, stage := range res.Path {
		label := string(action)
		if i > 0 {
			label = ActionRoute
		}
		r := s.record(authz.EntityQuittance, q.ID, q.ClaimID, label, string(from), string(stage), caller, now)
		if stage == quittance.StageRejected {
			r.Reason = strings.TrimSpace(p.Reason)
		}
		cs.Records = append(cs.Records, r)
		from = stage
	}

	if err := s.store.Commit(ctx, cs); err != nil {
		s.logFailure("quittance transition not committed", err, "quittance_id", quittanceID, "action", action)
		return quittance.Quittance{}, err
	}

	s.logger.Info("quittance transitioned",
		"quittance_id", quittanceID,
		"claim_id", q.ClaimID,
		"action", action,
		"from", res.From,
		"to", res.Quittance.Stage(),
		"role", caller.Role,
		"actor", caller.ActorID,
	)
	s.publish(ctx, cs.Records)
	return res.Quittance, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) record(entity authz.Entity, id, claimID, action, from, to string, caller authz.Caller, at time.Time) TransitionRecord {
	return TransitionRecord{
		ID:       s.newID(),
		Entity:   string(entity),
		EntityID: id,
		ClaimID:  claimID,
		Action:   action,
		From:     from,
		To:       to,
		ActorID:  caller.ActorID,
		Role:     string(caller.Role),
		At:       at,
	}
}

// publish sends committed records downstream. Failures are logged only: the
// transition is already durable.
func (s *Service) publish(ctx context.Context, records []TransitionRecord) {
	for _, r := range records {
		err := s.publisher.Publish(ctx, events.TransitionEvent{
			ID:       r.ID,
			Entity:   r.Entity,
			EntityID: r.EntityID,
			ClaimID:  r.ClaimID,
			Action:   r.Action,
			From:     r.From,
			To:       r.To,
			ActorID:  r.ActorID,
			Role:     r.Role,
			At:       r.At,
		})
		if err != nil {
			s.logger.Error("failed to publish transition event",
				"event_id", r.ID, "entity", r.Entity, "entity_id", r.EntityID, "error", err)
		}
	}
}

func (s *Service) logFailure(msg string, err error, args ...any) {
	args = append(args, "error", err)
	if generic.IsClientError(err) || generic.IsConflict(err) ||
		errors.Is(err, generic.ErrForbidden) || errors.Is(err, generic.ErrIncompleteEvidence) {
		s.logger.Warn(msg, args...)
		return
	}
	s.logger.Error(msg, args...)
}

func (s *Service) checkScope(caller authz.Caller, partnerID string, action authz.Action) error {
	if caller.CanSeePartner(partnerID) {
		return nil
	}
	return &generic.ForbiddenError{
		Role:   string(caller.Role),
		Entity: "partner " + partnerID,
		Action: string(action),
	}
}

func requireActor(caller authz.Caller) error {
	if strings.TrimSpace(caller.ActorID) == "" {
		return generic.InvalidField("actor_id", "every transition needs an identified caller")
	}
	return nil
}
