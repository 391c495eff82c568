package sqlstore

import (
	"database/sql"

	"github.com/goccy/go-json"
	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/indemnity"
	"github.com/warp/indemnity-engine/quittance"
)

// =============================================================================
// ROW TYPES - column mapping for sqlx
// =============================================================================

type claimRow struct {
	ID                    string         `db:"id"`
	PartnerID             string         `db:"partner_id"`
	PolicyID              string         `db:"policy_id"`
	ClaimType             string         `db:"claim_type"`
	PolicySnapshotJSON    string         `db:"policy_snapshot_json"`
	DeclaredAt            string         `db:"declared_at"`
	IncidentDate          string         `db:"incident_date"`
	DeclarantJSON         string         `db:"declarant_json"`
	ClaimedAmount         string         `db:"claimed_amount"`
	OutstandingPrincipal  string         `db:"outstanding_principal"`
	Currency              string         `db:"currency"`
	RequiredDocumentsJSON string         `db:"required_documents_json"`
	AttachedDocumentsJSON string         `db:"attached_documents_json"`
	Status                string         `db:"status"`
	GrantedAmount         sql.NullString `db:"granted_amount"`
	RejectionReason       string         `db:"rejection_reason"`
	IsArchived            int            `db:"is_archived"`
	DecidedAt             sql.NullString `db:"decided_at"`
	PaidAt                sql.NullString `db:"paid_at"`
	ClosedAt              sql.NullString `db:"closed_at"`
	Version               int            `db:"version"`
	CreatedAt             string         `db:"created_at"`
	UpdatedAt             string         `db:"updated_at"`
}

type versionedClaim struct {
	claimRow
	PrevVersion int `db:"prev_version"`
}

type quittanceRow struct {
	ID          string `db:"id"`
	ClaimID     string `db:"claim_id"`
	Kind        string `db:"kind"`
	Beneficiary string `db:"beneficiary"`
	Amount      string `db:"amount"`
	Currency    string `db:"currency"`
	Stage       string `db:"stage"`
	StateJSON   string `db:"state_json"`
	IsArchived  int    `db:"is_archived"`
	Version     int    `db:"version"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

type versionedQuittance struct {
	quittanceRow
	PrevVersion int `db:"prev_version"`
}

type transitionRow struct {
	ID       string `db:"id"`
	Seq      int    `db:"seq"`
	Entity   string `db:"entity"`
	EntityID string `db:"entity_id"`
	ClaimID  string `db:"claim_id"`
	Action   string `db:"action"`
	From     string `db:"from_state"`
	To       string `db:"to_state"`
	ActorID  string `db:"actor_id"`
	Role     string `db:"role"`
	Reason   string `db:"reason"`
	At       string `db:"at"`
}

// =============================================================================
// CLAIMS
// =============================================================================

func toClaimRow(c claims.Claim) (claimRow, error) {
	snapshot, err := json.Marshal(c.PolicySnapshot)
	if err != nil {
		return claimRow{}, err
	}
	declarant, err := json.Marshal(c.Declarant)
	if err != nil {
		return claimRow{}, err
	}
	required, err := json.Marshal(documentsOrEmpty(c.RequiredDocuments))
	if err != nil {
		return claimRow{}, err
	}
	attached, err := json.Marshal(documentsOrEmpty(c.AttachedDocuments))
	if err != nil {
		return claimRow{}, err
	}

	row := claimRow{
		ID:                    c.ID,
		PartnerID:             c.Policy.PartnerID,
		PolicyID:              c.Policy.PolicyID,
		ClaimType:             string(c.Type),
		PolicySnapshotJSON:    string(snapshot),
		DeclaredAt:            c.DeclaredAt.String(),
		IncidentDate:          c.IncidentDate.String(),
		DeclarantJSON:         string(declarant),
		ClaimedAmount:         c.ClaimedAmount.Value.String(),
		OutstandingPrincipal:  c.OutstandingPrincipal.Value.String(),
		Currency:              string(c.OutstandingPrincipal.Currency),
		RequiredDocumentsJSON: string(required),
		AttachedDocumentsJSON: string(attached),
		Status:                string(c.Status),
		RejectionReason:       c.RejectionReason,
		IsArchived:            boolInt(c.IsArchived),
		PaidAt:                nullTime(c.PaidAt),
		ClosedAt:              nullTime(c.ClosedAt),
		Version:               c.Version,
		CreatedAt:             formatTime(c.CreatedAt),
		UpdatedAt:             formatTime(c.UpdatedAt),
	}
	if c.GrantedAmount != nil {
		row.GrantedAmount = sql.NullString{String: c.GrantedAmount.Value.String(), Valid: true}
	}
	if c.DecidedAt != nil {
		row.DecidedAt = sql.NullString{String: c.DecidedAt.String(), Valid: true}
	}
	return row, nil
}

func (r claimRow) toClaim() (claims.Claim, error) {
	currency := generic.Currency(r.Currency)
	c := claims.Claim{
		ID:              r.ID,
		Policy:          claims.PolicyRef{PartnerID: r.PartnerID, PolicyID: r.PolicyID},
		Type:            claims.ClaimType(r.ClaimType),
		Status:          claims.Status(r.Status),
		RejectionReason: r.RejectionReason,
		IsArchived:      r.IsArchived != 0,
		Version:         r.Version,
	}

	var err error
	if err = json.Unmarshal([]byte(r.PolicySnapshotJSON), &c.PolicySnapshot); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "policy_snapshot_json", err)
	}
	if err = json.Unmarshal([]byte(r.DeclarantJSON), &c.Declarant); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "declarant_json", err)
	}
	if err = json.Unmarshal([]byte(r.RequiredDocumentsJSON), &c.RequiredDocuments); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "required_documents_json", err)
	}
	if err = json.Unmarshal([]byte(r.AttachedDocumentsJSON), &c.AttachedDocuments); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "attached_documents_json", err)
	}

	if c.DeclaredAt, err = generic.ParseDay(r.DeclaredAt); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "declared_at", err)
	}
	if c.IncidentDate, err = generic.ParseDay(r.IncidentDate); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "incident_date", err)
	}
	if c.ClaimedAmount, err = generic.ParseAmount(r.ClaimedAmount, currency); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "claimed_amount", err)
	}
	if c.OutstandingPrincipal, err = generic.ParseAmount(r.OutstandingPrincipal, currency); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "outstanding_principal", err)
	}
	if r.GrantedAmount.Valid {
		granted, err := generic.ParseAmount(r.GrantedAmount.String, currency)
		if err != nil {
			return claims.Claim{}, corrupt("claim", r.ID, "granted_amount", err)
		}
		c.GrantedAmount = &granted
	}
	if r.DecidedAt.Valid {
		decided, err := generic.ParseDay(r.DecidedAt.String)
		if err != nil {
			return claims.Claim{}, corrupt("claim", r.ID, "decided_at", err)
		}
		c.DecidedAt = &decided
	}
	if c.PaidAt, err = parseNullTime(r.PaidAt); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "paid_at", err)
	}
	if c.ClosedAt, err = parseNullTime(r.ClosedAt); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "closed_at", err)
	}
	if c.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "created_at", err)
	}
	if c.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return claims.Claim{}, corrupt("claim", r.ID, "updated_at", err)
	}
	return c, nil
}

func documentsOrEmpty(docs []claims.DocumentKind) []claims.DocumentKind {
	if docs == nil {
		return []claims.DocumentKind{}
	}
	return docs
}

// =============================================================================
// QUITTANCES
// =============================================================================

func toQuittanceRow(q quittance.Quittance) (quittanceRow, error) {
	state, err := json.Marshal(quittance.Flatten(q.State))
	if err != nil {
		return quittanceRow{}, err
	}
	return quittanceRow{
		ID:          q.ID,
		ClaimID:     q.ClaimID,
		Kind:        string(q.Kind),
		Beneficiary: q.Beneficiary,
		Amount:      q.Amount.Value.String(),
		Currency:    string(q.Amount.Currency),
		Stage:       string(q.Stage()),
		StateJSON:   string(state),
		IsArchived:  boolInt(q.IsArchived),
		Version:     q.Version,
		CreatedAt:   formatTime(q.CreatedAt),
		UpdatedAt:   formatTime(q.UpdatedAt),
	}, nil
}

func (r quittanceRow) toQuittance() (quittance.Quittance, error) {
	var snap quittance.Snapshot
	if err := json.Unmarshal([]byte(r.StateJSON), &snap); err != nil {
		return quittance.Quittance{}, corrupt("quittance", r.ID, "state_json", err)
	}
	state, err := snap.State()
	if err != nil {
		return quittance.Quittance{}, corrupt("quittance", r.ID, "state_json", err)
	}
	amount, err := generic.ParseAmount(r.Amount, generic.Currency(r.Currency))
	if err != nil {
		return quittance.Quittance{}, corrupt("quittance", r.ID, "amount", err)
	}

	q := quittance.Quittance{
		ID:          r.ID,
		ClaimID:     r.ClaimID,
		Kind:        quittance.Kind(r.Kind),
		Beneficiary: r.Beneficiary,
		Amount:      amount,
		State:       state,
		IsArchived:  r.IsArchived != 0,
		Version:     r.Version,
	}
	if q.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return quittance.Quittance{}, corrupt("quittance", r.ID, "created_at", err)
	}
	if q.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return quittance.Quittance{}, corrupt("quittance", r.ID, "updated_at", err)
	}
	return q, nil
}

// =============================================================================
// HISTORY
// =============================================================================

func toTransitionRow(r indemnity.TransitionRecord, seq int) transitionRow {
	return transitionRow{
		ID:       r.ID,
		Seq:      seq,
		Entity:   r.Entity,
		EntityID: r.EntityID,
		ClaimID:  r.ClaimID,
		Action:   r.Action,
		From:     r.From,
		To:       r.To,
		ActorID:  r.ActorID,
		Role:     r.Role,
		Reason:   r.Reason,
		At:       formatTime(r.At),
	}
}

func (r transitionRow) toRecord() (indemnity.TransitionRecord, error) {
	at, err := parseTime(r.At)
	if err != nil {
		return indemnity.TransitionRecord{}, corrupt("transition", r.ID, "at", err)
	}
	return indemnity.TransitionRecord{
		ID:       r.ID,
		Entity:   r.Entity,
		EntityID: r.EntityID,
		ClaimID:  r.ClaimID,
		Action:   r.Action,
		From:     r.From,
		To:       r.To,
		ActorID:  r.ActorID,
		Role:     r.Role,
		Reason:   r.Reason,
		At:       at,
	}, nil
}
