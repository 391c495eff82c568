/*
handlers_test.go - HTTP tests for the indemnity API

Drives the full router (auth middleware included) against the in-memory
store. Covers:
- Token handling (401)
- Error mapping (400, 403, 404, 409, 422)
- Claim declaration and the quittance approval chain end to end
- Tarification and partner listing
*/
package api

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/indemnity"
	"github.com/warp/indemnity-engine/store/memory"
	"github.com/warp/indemnity-engine/tarification"
	"github.com/xuri/excelize/v2"
)

const testSecret = "test-secret"

type testServer struct {
	t      *testing.T
	server *httptest.Server
	auth   *Authenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	var seq int64
	engine := tarification.NewEngine(tarification.NewDefaultRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := indemnity.NewService(engine, memory.New(),
		indemnity.WithLogger(logger),
		indemnity.WithIDGenerator(func() string { return fmt.Sprintf("ID-%04d", atomic.AddInt64(&seq, 1)) }),
	)
	auth := NewAuthenticator(testSecret)
	srv := httptest.NewServer(NewRouter(NewHandler(svc, logger), auth, []string{"*"}))
	t.Cleanup(srv.Close)
	return &testServer{t: t, server: srv, auth: auth}
}

func (ts *testServer) token(caller authz.Caller) string {
	ts.t.Helper()
	tok, err := ts.auth.Issue(caller, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

// do sends body as JSON and decodes the response into out when non-nil.
func (ts *testServer) do(caller *authz.Caller, method, path string, body any, out any) int {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(*caller))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

var (
	agent      = &authz.Caller{ActorID: "agent-1", Role: authz.RoleAgent}
	accountant = &authz.Caller{ActorID: "acc-1", Role: authz.RoleAccountant}
	executive  = &authz.Caller{ActorID: "fpdg-1", Role: authz.RoleExecutive}
	admin      = &authz.Caller{ActorID: "root", Role: authz.RoleAdmin}
)

func deathClaimRequest() DeclareClaimRequest {
	return DeclareClaimRequest{
		PartnerID: "cofidec",
		PolicyID:  "POL-2026-118",
		ClaimType: "death",
		Policy: PolicySnapshotDTO{
			InsuredPrincipal: "6000000",
			DurationMonths:   24,
			Status:           "active",
		},
		IncidentDate:         "2026-09-20",
		Declarant:            DeclarantDTO{Name: "Awa Koné", RelationshipToInsured: "spouse"},
		ClaimedAmount:        "5000000",
		OutstandingPrincipal: "5000000",
	}
}

func (ts *testServer) declare() ClaimDTO {
	ts.t.Helper()
	var c ClaimDTO
	require.Equal(ts.t, http.StatusCreated, ts.do(agent, "POST", "/api/claims", deathClaimRequest(), &c))
	return c
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	ts := newTestServer(t)

	var resp ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, ts.do(nil, "GET", "/api/claims", nil, &resp))
	assert.Equal(t, "unauthorized", resp.Code)

	// Signed with another secret
	other := NewAuthenticator("other-secret")
	tok, err := other.Issue(*admin, time.Hour)
	require.NoError(t, err)
	req, _ := http.NewRequest("GET", ts.server.URL+"/api/claims", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// Health stays public
	assert.Equal(t, http.StatusOK, ts.do(nil, "GET", "/health", nil, nil))
}

func TestAuthenticator_VerifyRoundTrip(t *testing.T) {
	a := NewAuthenticator(testSecret)
	tok, err := a.Issue(authz.Caller{ActorID: "u-1", Role: authz.RoleExecutive, PartnerID: "advans"}, time.Minute)
	require.NoError(t, err)

	caller, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", caller.ActorID)
	assert.Equal(t, authz.RoleExecutive, caller.Role)
	assert.Equal(t, "ADVANS", caller.PartnerID)

	expired, err := a.Issue(authz.Caller{ActorID: "u-1", Role: authz.RoleAgent}, -time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(expired)
	assert.Error(t, err)
}

// =============================================================================
// TARIFICATION
// =============================================================================

func TestQuote(t *testing.T) {
	ts := newTestServer(t)

	var q QuoteDTO
	status := ts.do(agent, "POST", "/api/quotes", QuoteRequest{
		PartnerID:       "COFIDEC",
		PrincipalAmount: "2000000",
		DurationMonths:  12,
	}, &q)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "45000", q.TotalTTC)
	assert.True(t, q.WithinLimits)
	assert.Equal(t, "XOF", q.Currency)

	var resp ErrorResponse
	status = ts.do(agent, "POST", "/api/quotes", QuoteRequest{
		PartnerID:       "NOPE",
		PrincipalAmount: "2000000",
		DurationMonths:  12,
	}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown_partner", resp.Code)
}

func TestListPartners_ScopedCaller(t *testing.T) {
	ts := newTestServer(t)

	var all []map[string]any
	require.Equal(t, http.StatusOK, ts.do(admin, "GET", "/api/partners", nil, &all))
	assert.Len(t, all, 4)

	scoped := &authz.Caller{ActorID: "agent-adv", Role: authz.RoleAgent, PartnerID: "ADVANS"}
	var mine []map[string]any
	require.Equal(t, http.StatusOK, ts.do(scoped, "GET", "/api/partners", nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, "ADVANS", mine[0]["partner_id"])
}

// =============================================================================
// CLAIMS
// =============================================================================

func TestDeclareClaim(t *testing.T) {
	ts := newTestServer(t)

	c := ts.declare()
	assert.Equal(t, "COFIDEC", c.PartnerID)
	assert.Equal(t, "declared", c.Status)
	assert.Equal(t, "5000000", c.Ceiling)
	assert.ElementsMatch(t, []string{"death_certificate", "identity_document"}, c.MissingDocuments)
	assert.Equal(t, 1, c.Version)

	var fetched ClaimDTO
	require.Equal(t, http.StatusOK, ts.do(agent, "GET", "/api/claims/"+c.ID, nil, &fetched))
	assert.Equal(t, c.ID, fetched.ID)

	assert.Equal(t, http.StatusNotFound, ts.do(agent, "GET", "/api/claims/missing", nil, nil))
}

func TestDeclareClaim_Refusals(t *testing.T) {
	tests := []struct {
		name   string
		caller *authz.Caller
		mutate func(*DeclareClaimRequest)
		status int
		code   string
	}{
		{"unknown claim type", agent, func(r *DeclareClaimRequest) { r.ClaimType = "flood" }, http.StatusBadRequest, "invalid_input"},
		{"bad incident date", agent, func(r *DeclareClaimRequest) { r.IncidentDate = "20/09/2026" }, http.StatusBadRequest, "invalid_input"},
		{"unknown partner", agent, func(r *DeclareClaimRequest) { r.PartnerID = "NOPE" }, http.StatusBadRequest, "unknown_partner"},
		{"outstanding above insured", agent, func(r *DeclareClaimRequest) { r.Policy.InsuredPrincipal = "1000000" }, http.StatusBadRequest, "invalid_input"},
		{"wrong role", accountant, func(*DeclareClaimRequest) {}, http.StatusForbidden, "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			req := deathClaimRequest()
			tt.mutate(&req)

			var resp ErrorResponse
			assert.Equal(t, tt.status, ts.do(tt.caller, "POST", "/api/claims", req, &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestDeclareClaim_UnknownFieldRefused(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{"partner_id": "COFIDEC", "surprise": true}
	assert.Equal(t, http.StatusBadRequest, ts.do(agent, "POST", "/api/claims", body, nil))
}

func TestTransitionClaim_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	c := ts.declare()
	path := "/api/claims/" + c.ID + "/transitions"

	var resp ErrorResponse
	assert.Equal(t, http.StatusConflict, ts.do(executive, "POST", path,
		ClaimTransitionRequest{Action: "validate", GrantedAmount: strPtr("4000000")}, &resp), "not under instruction yet")
	require.Equal(t, http.StatusOK, ts.do(agent, "POST", path, ClaimTransitionRequest{Action: "start_instruction"}, nil))

	// Validate before documents are attached
	status := ts.do(executive, "POST", path, ClaimTransitionRequest{Action: "validate", GrantedAmount: strPtr("4000000")}, &resp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "incomplete_evidence", resp.Code)

	// Close a claim that was never decided
	status = ts.do(executive, "POST", path, ClaimTransitionRequest{Action: "close"}, &resp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", resp.Code)

	// Stale expected version
	stale := 7
	status = ts.do(agent, "POST", path, ClaimTransitionRequest{
		Action:          "attach_document",
		Documents:       []string{"death_certificate"},
		ExpectedVersion: &stale,
	}, &resp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_transitioned", resp.Code)

	// Unknown action never reaches the service
	status = ts.do(agent, "POST", path, ClaimTransitionRequest{Action: "teleport"}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", resp.Code)
}

// =============================================================================
// QUITTANCE WORKFLOW
// =============================================================================

func TestQuittanceWorkflow_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	c := ts.declare()
	claimPath := "/api/claims/" + c.ID + "/transitions"

	// GIVEN: a documented, validated claim
	var tr ClaimTransitionResponse
	require.Equal(t, http.StatusOK, ts.do(agent, "POST", claimPath, ClaimTransitionRequest{
		Action:    "attach_document",
		Documents: []string{"death_certificate", "identity_document"},
	}, &tr))
	assert.Empty(t, tr.Claim.MissingDocuments)

	require.Equal(t, http.StatusOK, ts.do(executive, "POST", claimPath, ClaimTransitionRequest{
		Action:        "validate",
		GrantedAmount: strPtr("4000000"),
		Components:    map[string]string{"prevoyance": "300000"},
	}, &tr))
	assert.Equal(t, "validated", tr.Claim.Status)
	require.Len(t, tr.Quittances, 2)
	byKind := make(map[string]QuittanceDTO)
	for _, dto := range tr.Quittances {
		byKind[dto.Kind] = dto
	}
	q := byKind["partner_reimbursement"]
	assert.Equal(t, "awaiting_accountant", q.Stage)
	assert.Equal(t, "3700000", q.Amount)
	assert.Equal(t, "COFIDEC", q.Beneficiary)

	// A rejected quittance frees its share of the granted amount
	var resp ErrorResponse
	prevoyancePath := "/api/quittances/" + byKind["prevoyance"].ID + "/transitions"
	assert.Equal(t, http.StatusBadRequest, ts.do(accountant, "POST", prevoyancePath,
		QuittanceTransitionRequest{Action: "reject_at_accountant"}, &resp))
	require.Equal(t, http.StatusOK, ts.do(accountant, "POST", prevoyancePath,
		QuittanceTransitionRequest{Action: "reject_at_accountant", Reason: "beneficiary RIB missing"}, nil))

	var reissued QuittanceDTO
	require.Equal(t, http.StatusCreated, ts.do(executive, "POST", claimPath, ClaimTransitionRequest{
		Action: "issue_quittance",
		Issue:  &IssueQuittanceDTO{Kind: "prevoyance", Beneficiary: "Awa Koné", Amount: "300000"},
	}, &reissued))
	assert.Equal(t, "awaiting_accountant", reissued.Stage)

	// Nothing left to commit
	assert.Equal(t, http.StatusConflict, ts.do(executive, "POST", claimPath, ClaimTransitionRequest{
		Action: "issue_quittance",
		Issue:  &IssueQuittanceDTO{Kind: "prevoyance", Amount: "1"},
	}, &resp))
	assert.Equal(t, "invalid_transition", resp.Code)

	// WHEN: the accountant and the executive approve, in order
	qPath := "/api/quittances/" + q.ID + "/transitions"
	assert.Equal(t, http.StatusForbidden, ts.do(executive, "POST", qPath, QuittanceTransitionRequest{Action: "accountant_approve"}, nil))

	var got QuittanceDTO
	require.Equal(t, http.StatusOK, ts.do(accountant, "POST", qPath, QuittanceTransitionRequest{Action: "accountant_approve"}, &got))
	assert.Equal(t, "awaiting_executive", got.Stage)
	require.NotNil(t, got.Accountant)
	assert.Equal(t, "acc-1", got.Accountant.ActorID)

	var queue []QuittanceDTO
	require.Equal(t, http.StatusOK, ts.do(executive, "GET", "/api/quittances/queue", nil, &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, q.ID, queue[0].ID)

	require.Equal(t, http.StatusOK, ts.do(executive, "POST", qPath, QuittanceTransitionRequest{Action: "executive_approve"}, &got))
	assert.Equal(t, "executive_approved", got.Stage)

	// Approving twice is a conflict
	var conflict ErrorResponse
	assert.Equal(t, http.StatusConflict, ts.do(executive, "POST", qPath, QuittanceTransitionRequest{Action: "executive_approve"}, &conflict))

	// THEN: payment needs a mode and a reference
	assert.Equal(t, http.StatusBadRequest, ts.do(accountant, "POST", qPath, QuittanceTransitionRequest{Action: "pay"}, &conflict))
	require.Equal(t, http.StatusOK, ts.do(accountant, "POST", qPath, QuittanceTransitionRequest{
		Action:           "pay",
		PaymentMode:      "bank_transfer",
		PaymentReference: "VIR-2026-0042",
	}, &got))
	assert.Equal(t, "paid", got.Stage)
	require.NotNil(t, got.Payment)
	assert.Equal(t, "VIR-2026-0042", got.Payment.Reference)

	var history []indemnity.TransitionRecord
	require.Equal(t, http.StatusOK, ts.do(admin, "GET", "/api/quittances/"+q.ID+"/history", nil, &history))
	require.NotEmpty(t, history)
	assert.Equal(t, "issue_quittance", history[0].Action)
	assert.Equal(t, "pay", history[len(history)-1].Action)
	assert.Equal(t, "paid", history[len(history)-1].To)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestReports(t *testing.T) {
	ts := newTestServer(t)
	c := ts.declare()

	var report indemnity.ClaimReport
	require.Equal(t, http.StatusOK, ts.do(admin, "GET", "/api/claims/"+c.ID+"/report", nil, &report))
	assert.Equal(t, c.ID, report.ClaimID)
	assert.Equal(t, 0, report.DelayDays)
	assert.False(t, report.BreachesSLA)

	var sla []indemnity.ClaimReport
	require.Equal(t, http.StatusOK, ts.do(admin, "GET", "/api/reports/sla", nil, &sla))
	assert.Empty(t, sla)

	var claimsList []ClaimDTO
	require.Equal(t, http.StatusOK, ts.do(admin, "GET", "/api/claims?status=declared", nil, &claimsList))
	assert.Len(t, claimsList, 1)
	assert.Equal(t, http.StatusBadRequest, ts.do(admin, "GET", "/api/claims?include_archived=maybe", nil, nil))
}

func TestSLAWorkbook(t *testing.T) {
	granted := "4000000"
	reports := []indemnity.ClaimReport{{
		ClaimID:         "CLM-1",
		PartnerID:       "COFIDEC",
		PolicyID:        "POL-1",
		ClaimType:       "death",
		Status:          "under_instruction",
		DeclaredAt:      "2026-09-01",
		DelayDays:       21,
		SLADays:         15,
		GrantedAmount:   &granted,
		CommittedAmount: "0",
		Currency:        "XOF",
	}}

	var buf bytes.Buffer
	require.NoError(t, writeSLAWorkbook(&buf, reports))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(slaSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, slaHeaders, rows[0])
	assert.Equal(t, "CLM-1", rows[1][0])
	assert.Equal(t, "21", rows[1][6])
	assert.Equal(t, "4000000", rows[1][8])
}

func TestSLAExport_Endpoint(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest("GET", ts.server.URL+"/api/reports/sla.xlsx", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.token(*admin))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(slaSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "headers only")

	scoped := &authz.Caller{ActorID: "agent-cof", Role: authz.RoleAgent, PartnerID: "COFIDEC"}
	assert.Equal(t, http.StatusForbidden, ts.do(scoped, "GET", "/api/reports/sla.xlsx?partner_id=ADVANS", nil, nil))
}
