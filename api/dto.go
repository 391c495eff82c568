/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract. Amounts travel as decimal
  strings so no float ever touches money.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Shape checks live in `validate` struct tags (go-playground/validator).
  Business rules (ceilings, document completeness, state guards) stay in the
  domain and come back as typed errors.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/schedule.go: ScheduleJSON, served as-is by GET /partners
*/
package api

import (
	"strings"
	"time"

	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/quittance"
	"github.com/warp/indemnity-engine/tarification"
)

// =============================================================================
// TARIFICATION
// =============================================================================

type QuoteRequest struct {
	PartnerID       string   `json:"partner_id" validate:"required"`
	PrincipalAmount string   `json:"principal_amount" validate:"required,numeric"`
	Currency        string   `json:"currency,omitempty" validate:"omitempty,len=3"`
	DurationMonths  int      `json:"duration_months" validate:"required,gt=0"`
	Category        string   `json:"category,omitempty" validate:"omitempty,oneof=standard employee"`
	Riders          []string `json:"riders,omitempty" validate:"omitempty,dive,required"`
	IsVIP           bool     `json:"is_vip,omitempty"`
}

type ComponentDTO struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type QuoteDTO struct {
	PartnerID       string         `json:"partner_id"`
	PrincipalAmount string         `json:"principal_amount"`
	Currency        string         `json:"currency"`
	DurationMonths  int            `json:"duration_months"`
	Category        string         `json:"category"`
	IsVIP           bool           `json:"is_vip"`
	AppliedRate     string         `json:"applied_rate"`
	AmountCeiling   *string        `json:"amount_ceiling,omitempty"`
	Components      []ComponentDTO `json:"components"`
	TotalTTC        string         `json:"total_ttc"`
	WithinLimits    bool           `json:"within_limits"`
	Violations      []string       `json:"violations"`
}

// =============================================================================
// CLAIMS
// =============================================================================

type PolicySnapshotDTO struct {
	InsuredPrincipal string  `json:"insured_principal" validate:"required,numeric"`
	DurationMonths   int     `json:"duration_months" validate:"gte=0"`
	Status           string  `json:"status" validate:"required,oneof=active expired cancelled"`
	CoverageCeiling  *string `json:"coverage_ceiling,omitempty" validate:"omitempty,numeric"`
}

type DeclarantDTO struct {
	Name                  string `json:"name" validate:"required"`
	RelationshipToInsured string `json:"relationship_to_insured,omitempty"`
	Contact               string `json:"contact,omitempty"`
}

// DeclareClaimRequest is the body of POST /claims.
type DeclareClaimRequest struct {
	PartnerID            string            `json:"partner_id" validate:"required"`
	PolicyID             string            `json:"policy_id" validate:"required"`
	ClaimType            string            `json:"claim_type" validate:"required,oneof=death total_disability job_loss business_loss"`
	Policy               PolicySnapshotDTO `json:"policy"`
	IncidentDate         string            `json:"incident_date" validate:"required,datetime=2006-01-02"`
	Declarant            DeclarantDTO      `json:"declarant"`
	ClaimedAmount        string            `json:"claimed_amount" validate:"required,numeric"`
	OutstandingPrincipal string            `json:"outstanding_principal" validate:"required,numeric"`
	Currency             string            `json:"currency,omitempty" validate:"omitempty,len=3"`
}

type IssueQuittanceDTO struct {
	Kind        string `json:"kind" validate:"required,oneof=partner_reimbursement prevoyance per_diem medical_costs"`
	Beneficiary string `json:"beneficiary,omitempty"`
	Amount      string `json:"amount" validate:"required,numeric"`
}

type PaymentDTO struct {
	PaymentMode      string `json:"payment_mode" validate:"required,oneof=bank_transfer cheque cash mobile_money"`
	PaymentReference string `json:"payment_reference" validate:"required"`
}

// ClaimTransitionRequest is the body of POST /claims/{id}/transitions.
type ClaimTransitionRequest struct {
	Action          string                `json:"action" validate:"required,oneof=attach_document start_instruction validate reject issue_quittance mark_paid close archive"`
	Documents       []string              `json:"documents,omitempty" validate:"omitempty,dive,required"`
	GrantedAmount   *string               `json:"granted_amount,omitempty" validate:"omitempty,numeric"`
	Components      map[string]string     `json:"components,omitempty" validate:"omitempty,dive,keys,oneof=partner_reimbursement prevoyance per_diem medical_costs,endkeys,numeric"`
	RejectionReason string                `json:"rejection_reason,omitempty"`
	Issue           *IssueQuittanceDTO    `json:"issue,omitempty"`
	Payments        map[string]PaymentDTO `json:"payments,omitempty" validate:"omitempty,dive"`
	ExpectedVersion *int                  `json:"expected_version,omitempty" validate:"omitempty,gt=0"`
}

type ClaimDTO struct {
	ID                   string            `json:"id"`
	PartnerID            string            `json:"partner_id"`
	PolicyID             string            `json:"policy_id"`
	ClaimType            string            `json:"claim_type"`
	Policy               PolicySnapshotDTO `json:"policy"`
	DeclaredAt           string            `json:"declared_at"`
	IncidentDate         string            `json:"incident_date"`
	Declarant            DeclarantDTO      `json:"declarant"`
	ClaimedAmount        string            `json:"claimed_amount"`
	OutstandingPrincipal string            `json:"outstanding_principal"`
	Ceiling              string            `json:"ceiling"`
	Currency             string            `json:"currency"`
	RequiredDocuments    []string          `json:"required_documents"`
	AttachedDocuments    []string          `json:"attached_documents"`
	MissingDocuments     []string          `json:"missing_documents"`
	Status               string            `json:"status"`
	GrantedAmount        *string           `json:"granted_amount,omitempty"`
	RejectionReason      string            `json:"rejection_reason,omitempty"`
	IsArchived           bool              `json:"is_archived"`
	DecidedAt            *string           `json:"decided_at,omitempty"`
	PaidAt               *string           `json:"paid_at,omitempty"`
	ClosedAt             *string           `json:"closed_at,omitempty"`
	Version              int               `json:"version"`
	CreatedAt            string            `json:"created_at"`
	UpdatedAt            string            `json:"updated_at"`
}

// ClaimTransitionResponse is the claim after a transition with all of its
// quittances, including any just issued.
type ClaimTransitionResponse struct {
	Claim      ClaimDTO       `json:"claim"`
	Quittances []QuittanceDTO `json:"quittances"`
}

// =============================================================================
// QUITTANCES
// =============================================================================

// QuittanceTransitionRequest is the body of POST /quittances/{id}/transitions.
type QuittanceTransitionRequest struct {
	Action           string `json:"action" validate:"required,oneof=accountant_approve executive_approve reject_at_accountant reject_at_executive pay"`
	Reason           string `json:"reason,omitempty"`
	PaymentMode      string `json:"payment_mode,omitempty" validate:"omitempty,oneof=bank_transfer cheque cash mobile_money"`
	PaymentReference string `json:"payment_reference,omitempty"`
	ExpectedVersion  *int   `json:"expected_version,omitempty" validate:"omitempty,gt=0"`
}

type ApprovalDTO struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	At      string `json:"at"`
}

type PaymentRecordDTO struct {
	Mode      string `json:"mode"`
	Reference string `json:"reference"`
	PaidBy    string `json:"paid_by"`
	PaidAt    string `json:"paid_at"`
}

type RejectionDTO struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
	By     string `json:"by"`
	At     string `json:"at"`
}

type QuittanceDTO struct {
	ID          string            `json:"id"`
	ClaimID     string            `json:"claim_id"`
	Kind        string            `json:"kind"`
	Beneficiary string            `json:"beneficiary"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Stage       string            `json:"stage"`
	Accountant  *ApprovalDTO      `json:"accountant_approval,omitempty"`
	Executive   *ApprovalDTO      `json:"executive_approval,omitempty"`
	Payment     *PaymentRecordDTO `json:"payment,omitempty"`
	Rejection   *RejectionDTO     `json:"rejection,omitempty"`
	IsArchived  bool              `json:"is_archived"`
	Version     int               `json:"version"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func currencyOr(code string) generic.Currency {
	if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
		return generic.Currency(code)
	}
	return generic.XOF
}

func parseAmount(field, value string, currency generic.Currency) (generic.Amount, error) {
	a, err := generic.ParseAmount(strings.TrimSpace(value), currency)
	if err != nil {
		return generic.Amount{}, generic.InvalidField(field, "not a decimal amount: %q", value)
	}
	return a, nil
}

func (req QuoteRequest) toDomain() (tarification.QuoteRequest, error) {
	principal, err := parseAmount("principal_amount", req.PrincipalAmount, currencyOr(req.Currency))
	if err != nil {
		return tarification.QuoteRequest{}, err
	}
	category := tarification.CategoryStandard
	if req.Category != "" {
		category = tarification.Category(req.Category)
	}
	return tarification.QuoteRequest{
		PartnerID:       req.PartnerID,
		PrincipalAmount: principal,
		DurationMonths:  req.DurationMonths,
		Category:        category,
		Riders:          req.Riders,
		IsVIP:           req.IsVIP,
	}, nil
}

func toQuoteDTO(q tarification.PremiumQuote) QuoteDTO {
	dto := QuoteDTO{
		PartnerID:       q.PartnerID,
		PrincipalAmount: q.PrincipalAmount.Value.String(),
		Currency:        string(q.PrincipalAmount.Currency),
		DurationMonths:  q.DurationMonths,
		Category:        string(q.Category),
		IsVIP:           q.IsVIP,
		AppliedRate:     q.AppliedRate.String(),
		Components:      make([]ComponentDTO, 0, len(q.Components)),
		TotalTTC:        q.TotalTTC.Value.String(),
		WithinLimits:    q.WithinLimits,
		Violations:      make([]string, 0, len(q.Violations)),
	}
	if q.AmountCeiling != nil {
		dto.AmountCeiling = strPtr(q.AmountCeiling.Value.String())
	}
	for _, name := range q.ComponentNames() {
		dto.Components = append(dto.Components, ComponentDTO{Name: name, Amount: q.Components[name].Value.String()})
	}
	for _, v := range q.Violations {
		dto.Violations = append(dto.Violations, string(v))
	}
	return dto
}

func (req DeclareClaimRequest) toDomain() (claims.Declaration, error) {
	currency := currencyOr(req.Currency)

	claimed, err := parseAmount("claimed_amount", req.ClaimedAmount, currency)
	if err != nil {
		return claims.Declaration{}, err
	}
	outstanding, err := parseAmount("outstanding_principal", req.OutstandingPrincipal, currency)
	if err != nil {
		return claims.Declaration{}, err
	}
	insured, err := parseAmount("policy.insured_principal", req.Policy.InsuredPrincipal, currency)
	if err != nil {
		return claims.Declaration{}, err
	}
	incident, err := generic.ParseDay(req.IncidentDate)
	if err != nil {
		return claims.Declaration{}, generic.InvalidField("incident_date", "expected YYYY-MM-DD, got %q", req.IncidentDate)
	}

	d := claims.Declaration{
		Policy: claims.PolicyRef{PartnerID: req.PartnerID, PolicyID: req.PolicyID},
		PolicySnapshot: claims.PolicySnapshot{
			InsuredPrincipal: insured,
			DurationMonths:   req.Policy.DurationMonths,
			Status:           claims.PolicyStatus(req.Policy.Status),
		},
		Type:         claims.ClaimType(req.ClaimType),
		IncidentDate: incident,
		Declarant: claims.Declarant{
			Name:                  req.Declarant.Name,
			RelationshipToInsured: req.Declarant.RelationshipToInsured,
			Contact:               req.Declarant.Contact,
		},
		ClaimedAmount:        claimed,
		OutstandingPrincipal: outstanding,
	}
	if req.Policy.CoverageCeiling != nil {
		ceiling, err := parseAmount("policy.coverage_ceiling", *req.Policy.CoverageCeiling, currency)
		if err != nil {
			return claims.Declaration{}, err
		}
		d.PolicySnapshot.CoverageCeiling = &ceiling
	}
	return d, nil
}

// toDomain builds the transition payload. Amounts take the claim's currency.
func (req ClaimTransitionRequest) toDomain(currency generic.Currency) (claims.Payload, error) {
	p := claims.Payload{
		RejectionReason: req.RejectionReason,
		ExpectedVersion: req.ExpectedVersion,
	}
	for _, d := range req.Documents {
		p.Documents = append(p.Documents, claims.DocumentKind(d))
	}
	if req.GrantedAmount != nil {
		granted, err := parseAmount("granted_amount", *req.GrantedAmount, currency)
		if err != nil {
			return claims.Payload{}, err
		}
		p.GrantedAmount = &granted
	}
	if len(req.Components) > 0 {
		p.Components = make(map[quittance.Kind]generic.Amount, len(req.Components))
		for kind, value := range req.Components {
			amount, err := parseAmount("components."+kind, value, currency)
			if err != nil {
				return claims.Payload{}, err
			}
			p.Components[quittance.Kind(kind)] = amount
		}
	}
	if req.Issue != nil {
		amount, err := parseAmount("issue.amount", req.Issue.Amount, currency)
		if err != nil {
			return claims.Payload{}, err
		}
		p.Issue = &claims.IssueRequest{
			Kind:        quittance.Kind(req.Issue.Kind),
			Beneficiary: req.Issue.Beneficiary,
			Amount:      amount,
		}
	}
	if len(req.Payments) > 0 {
		p.Payments = make(map[string]quittance.Payload, len(req.Payments))
		for id, pay := range req.Payments {
			p.Payments[id] = quittance.Payload{
				PaymentMode:      quittance.PaymentMode(pay.PaymentMode),
				PaymentReference: pay.PaymentReference,
			}
		}
	}
	return p, nil
}

func (req QuittanceTransitionRequest) toDomain() quittance.Payload {
	return quittance.Payload{
		Reason:           req.Reason,
		PaymentMode:      quittance.PaymentMode(req.PaymentMode),
		PaymentReference: req.PaymentReference,
		ExpectedVersion:  req.ExpectedVersion,
	}
}

func toClaimDTO(c claims.Claim) ClaimDTO {
	dto := ClaimDTO{
		ID:        c.ID,
		PartnerID: c.Policy.PartnerID,
		PolicyID:  c.Policy.PolicyID,
		ClaimType: string(c.Type),
		Policy: PolicySnapshotDTO{
			InsuredPrincipal: c.PolicySnapshot.InsuredPrincipal.Value.String(),
			DurationMonths:   c.PolicySnapshot.DurationMonths,
			Status:           string(c.PolicySnapshot.Status),
		},
		DeclaredAt:   c.DeclaredAt.String(),
		IncidentDate: c.IncidentDate.String(),
		Declarant: DeclarantDTO{
			Name:                  c.Declarant.Name,
			RelationshipToInsured: c.Declarant.RelationshipToInsured,
			Contact:               c.Declarant.Contact,
		},
		ClaimedAmount:        c.ClaimedAmount.Value.String(),
		OutstandingPrincipal: c.OutstandingPrincipal.Value.String(),
		Ceiling:              c.Ceiling().Value.String(),
		Currency:             string(c.OutstandingPrincipal.Currency),
		RequiredDocuments:    documentNames(c.RequiredDocuments),
		AttachedDocuments:    documentNames(c.AttachedDocuments),
		MissingDocuments:     documentNames(c.MissingDocuments()),
		Status:               string(c.Status),
		RejectionReason:      c.RejectionReason,
		IsArchived:           c.IsArchived,
		Version:              c.Version,
		CreatedAt:            c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            c.UpdatedAt.Format(time.RFC3339),
	}
	if cc := c.PolicySnapshot.CoverageCeiling; cc != nil {
		dto.Policy.CoverageCeiling = strPtr(cc.Value.String())
	}
	if c.GrantedAmount != nil {
		dto.GrantedAmount = strPtr(c.GrantedAmount.Value.String())
	}
	if c.DecidedAt != nil {
		dto.DecidedAt = strPtr(c.DecidedAt.String())
	}
	dto.PaidAt = timePtr(c.PaidAt)
	dto.ClosedAt = timePtr(c.ClosedAt)
	return dto
}

func toClaimDTOs(cs []claims.Claim) []ClaimDTO {
	out := make([]ClaimDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, toClaimDTO(c))
	}
	return out
}

func toQuittanceDTO(q quittance.Quittance) QuittanceDTO {
	snap := quittance.Flatten(q.State)
	dto := QuittanceDTO{
		ID:          q.ID,
		ClaimID:     q.ClaimID,
		Kind:        string(q.Kind),
		Beneficiary: q.Beneficiary,
		Amount:      q.Amount.Value.String(),
		Currency:    string(q.Amount.Currency),
		Stage:       string(snap.Stage),
		IsArchived:  q.IsArchived,
		Version:     q.Version,
		CreatedAt:   q.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   q.UpdatedAt.Format(time.RFC3339),
	}
	if snap.AccountantID != "" {
		dto.Accountant = &ApprovalDTO{ActorID: snap.AccountantID, Role: string(snap.AccountantRole), At: formatPtr(snap.AccountantAt)}
	}
	if snap.ExecutiveID != "" {
		dto.Executive = &ApprovalDTO{ActorID: snap.ExecutiveID, Role: string(snap.ExecutiveRole), At: formatPtr(snap.ExecutiveAt)}
	}
	if snap.PaymentMode != "" {
		dto.Payment = &PaymentRecordDTO{
			Mode:      string(snap.PaymentMode),
			Reference: snap.PaymentReference,
			PaidBy:    snap.PaidBy,
			PaidAt:    formatPtr(snap.PaidAt),
		}
	}
	if snap.RejectedStage != "" {
		dto.Rejection = &RejectionDTO{
			Stage:  string(snap.RejectedStage),
			Reason: snap.RejectionReason,
			By:     snap.RejectedBy,
			At:     formatPtr(snap.RejectedAt),
		}
	}
	return dto
}

func toQuittanceDTOs(qs []quittance.Quittance) []QuittanceDTO {
	out := make([]QuittanceDTO, 0, len(qs))
	for _, q := range qs {
		out = append(out, toQuittanceDTO(q))
	}
	return out
}

func documentNames(docs []claims.DocumentKind) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, string(d))
	}
	return out
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return strPtr(t.Format(time.RFC3339))
}

func formatPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
