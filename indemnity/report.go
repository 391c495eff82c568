package indemnity

import (
	"context"
	"fmt"
	"sort"

	"github.com/divan/num2words"
	"github.com/shopspring/decimal"

	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/quittance"
)

// =============================================================================
// REPORTING EXPORT - read-only, for dashboards and printable statements
// =============================================================================

type ClaimReport struct {
	ClaimID    string           `json:"claim_id"`
	PartnerID  string           `json:"partner_id"`
	PolicyID   string           `json:"policy_id"`
	ClaimType  claims.ClaimType `json:"claim_type"`
	Status     claims.Status    `json:"status"`
	IsArchived bool             `json:"is_archived"`
	DeclaredAt string           `json:"declared_at"`

	// DelayDays is delai_traitement_jours.
	DelayDays   int  `json:"delai_traitement_jours"`
	SLADays     int  `json:"sla_days"`
	BreachesSLA bool `json:"breaches_sla"`

	GrantedAmount   *string           `json:"granted_amount,omitempty"`
	CommittedAmount string            `json:"committed_amount"`
	Currency        string            `json:"currency"`
	Quittances      []QuittanceReport `json:"quittances"`
}

type QuittanceReport struct {
	QuittanceID string          `json:"quittance_id"`
	ClaimID     string          `json:"claim_id"`
	Kind        quittance.Kind  `json:"kind"`
	Beneficiary string          `json:"beneficiary"`
	Amount      string          `json:"amount"`
	Currency    string          `json:"currency"`
	Stage       quittance.Stage `json:"stage"`
	IsArchived  bool            `json:"is_archived"`

	// AmountInWords is printed on the signed statement next to the figures.
	AmountInWords string `json:"amount_in_words"`
}

func (s *Service) ClaimReport(ctx context.Context, caller authz.Caller, claimID string) (ClaimReport, error) {
	c, err := s.GetClaim(ctx, caller, claimID)
	if err != nil {
		return ClaimReport{}, err
	}
	qs, err := s.store.ListQuittances(ctx, QuittanceFilter{ClaimID: claimID, IncludeArchived: true})
	if err != nil {
		return ClaimReport{}, err
	}
	return s.buildClaimReport(c, qs), nil
}

func (s *Service) QuittanceReport(ctx context.Context, caller authz.Caller, quittanceID string) (QuittanceReport, error) {
	q, err := s.GetQuittance(ctx, caller, quittanceID)
	if err != nil {
		return QuittanceReport{}, err
	}
	return buildQuittanceReport(q), nil
}

// SLAReport lists active claims over the SLA threshold, longest delay first.
func (s *Service) SLAReport(ctx context.Context, caller authz.Caller, partnerID string) ([]ClaimReport, error) {
	cs, err := s.ListClaims(ctx, caller, ClaimFilter{PartnerID: partnerID})
	if err != nil {
		return nil, err
	}

	today := generic.DayOf(s.clock.Now())
	var out []ClaimReport
	for _, c := range cs {
		if !c.BreachesSLA(today, s.slaDays) {
			continue
		}
		qs, err := s.store.ListQuittances(ctx, QuittanceFilter{ClaimID: c.ID, IncludeArchived: true})
		if err != nil {
			return nil, err
		}
		out = append(out, s.buildClaimReport(c, qs))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DelayDays > out[j].DelayDays })
	return out, nil
}

func (s *Service) buildClaimReport(c claims.Claim, qs []quittance.Quittance) ClaimReport {
	today := generic.DayOf(s.clock.Now())
	currency := c.OutstandingPrincipal.Currency

	r := ClaimReport{
		ClaimID:         c.ID,
		PartnerID:       c.Policy.PartnerID,
		PolicyID:        c.Policy.PolicyID,
		ClaimType:       c.Type,
		Status:          c.Status,
		IsArchived:      c.IsArchived,
		DeclaredAt:      c.DeclaredAt.String(),
		DelayDays:       c.DelayDays(today),
		SLADays:         s.slaDays,
		BreachesSLA:     c.BreachesSLA(today, s.slaDays),
		CommittedAmount: quittance.Committed(currency, qs).Value.String(),
		Currency:        string(currency),
		Quittances:      make([]QuittanceReport, 0, len(qs)),
	}
	if c.GrantedAmount != nil {
		g := c.GrantedAmount.Value.String()
		r.GrantedAmount = &g
	}
	for _, q := range qs {
		r.Quittances = append(r.Quittances, buildQuittanceReport(q))
	}
	return r
}

func buildQuittanceReport(q quittance.Quittance) QuittanceReport {
	return QuittanceReport{
		QuittanceID:   q.ID,
		ClaimID:       q.ClaimID,
		Kind:          q.Kind,
		Beneficiary:   q.Beneficiary,
		Amount:        q.Amount.Value.String(),
		Currency:      string(q.Amount.Currency),
		Stage:         q.Stage(),
		IsArchived:    q.IsArchived,
		AmountInWords: amountInWords(q.Amount),
	}
}

// amountInWords spells the whole units and shows minor units as a fraction,
// the way cheques and quittances are written. The words are English
// whatever the partner's language; the figure stays authoritative on the
// printed statement.
func amountInWords(a generic.Amount) string {
	rounded := a.Round()
	whole := rounded.Value.Truncate(0)
	words := num2words.Convert(int(whole.IntPart())) + " " + string(a.Currency)

	units := a.Currency.MinorUnits()
	if units == 0 {
		return words
	}
	minor := rounded.Value.Sub(whole).Shift(units).IntPart()
	if minor == 0 {
		return words
	}
	return fmt.Sprintf("%s and %0*d/%s", words, int(units), minor, decimal.New(1, units).String())
}
