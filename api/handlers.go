/*
handlers.go - HTTP API handlers for the indemnity back office

PURPOSE:
  Exposes tarification, the claim lifecycle and the quittance approval
  workflow via REST. Handles HTTP request/response, JSON serialization and
  validation, then delegates to indemnity.Service with the authenticated
  caller.

ENDPOINTS:
  Tarification:
    POST   /api/quotes                      Price a policy request
    GET    /api/partners                    Partner rate schedules

  Claims:
    POST   /api/claims                      Declare a claim
    GET    /api/claims                      List (partner_id, status, include_archived)
    GET    /api/claims/{id}                 Claim details
    POST   /api/claims/{id}/transitions     Apply a claim action
    GET    /api/claims/{id}/quittances      Quittances of a claim
    GET    /api/claims/{id}/history         Audit trail
    GET    /api/claims/{id}/report          Delay and SLA export

  Quittances:
    GET    /api/quittances/queue            Work queue of the caller's role
    GET    /api/quittances/{id}             Quittance details
    POST   /api/quittances/{id}/transitions Apply a workflow action
    GET    /api/quittances/{id}/history     Audit trail
    GET    /api/quittances/{id}/report      Printable statement data

  Reports:
    GET    /api/reports/sla                 Claims over the SLA threshold
    GET    /api/reports/sla.xlsx            Same, as a workbook (export.go)

REQUEST FLOW:
  1. Decode JSON (unknown fields refused)
  2. Validate shape (struct tags)
  3. Call the service with the caller from the token
  4. Serialize response or map the typed error

ERROR HANDLING:
  - 400: InvalidInput, UnknownPartner, UnknownSchedule, bad JSON
  - 401: Missing or invalid token (auth.go)
  - 403: Forbidden (role or partner scope)
  - 404: NotFound
  - 409: InvalidTransition, AlreadyTransitioned
  - 422: IncompleteEvidence
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Caller extraction
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/factory"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/indemnity"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *indemnity.Service
	Schedules *factory.ScheduleFactory

	validate *validator.Validate
	logger   *slog.Logger
	health   func(context.Context) error
}

func NewHandler(svc *indemnity.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service:   svc,
		Schedules: factory.NewScheduleFactory(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// WithHealthCheck makes GET /health report the given dependency check.
func (h *Handler) WithHealthCheck(check func(context.Context) error) *Handler {
	h.health = check
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// TARIFICATION HANDLERS
// =============================================================================

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	qr, err := req.toDomain()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	quote, err := h.Service.Quote(r.Context(), qr)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(quote))
}

// ListPartners returns the rate schedules visible to the caller.
func (h *Handler) ListPartners(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	registry := h.Service.Engine().Registry()

	out := make([]factory.ScheduleJSON, 0)
	for _, id := range registry.Partners() {
		if !caller.CanSeePartner(id) {
			continue
		}
		schedule, err := registry.Lookup(id)
		if err != nil {
			continue // replaced concurrently
		}
		out = append(out, h.Schedules.ToJSON(schedule))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// CLAIM HANDLERS
// =============================================================================

func (h *Handler) DeclareClaim(w http.ResponseWriter, r *http.Request) {
	var req DeclareClaimRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := req.toDomain()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c, err := h.Service.Declare(r.Context(), CallerFrom(r.Context()), d)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(c))
}

func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := indemnity.ClaimFilter{
		PartnerID: q.Get("partner_id"),
		Status:    claims.Status(q.Get("status")),
	}
	if v := q.Get("include_archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_archived must be a boolean", err)
			return
		}
		filter.IncludeArchived = b
	}

	cs, err := h.Service.ListClaims(r.Context(), CallerFrom(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTOs(cs))
}

func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetClaim(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

// TransitionClaim applies a claim action. issue_quittance answers 201 with
// the new quittance; every other action answers with the claim and its
// quittances.
func (h *Handler) TransitionClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := CallerFrom(ctx)
	id := chi.URLParam(r, "id")

	var req ClaimTransitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	// Amounts are expressed in the claim's currency.
	current, err := h.Service.GetClaim(ctx, caller, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	p, err := req.toDomain(current.OutstandingPrincipal.Currency)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	action := authz.Action(req.Action)
	if action == authz.ActionIssueQuittance {
		if p.Issue == nil {
			writeError(w, http.StatusBadRequest, "issue is required for issue_quittance", nil)
			return
		}
		q, err := h.Service.IssueQuittance(ctx, caller, id, *p.Issue, p.ExpectedVersion)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toQuittanceDTO(q))
		return
	}

	res, err := h.Service.TransitionClaim(ctx, caller, id, action, p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimTransitionResponse{
		Claim:      toClaimDTO(res.Claim),
		Quittances: toQuittanceDTOs(res.Quittances),
	})
}

func (h *Handler) ClaimQuittances(w http.ResponseWriter, r *http.Request) {
	qs, err := h.Service.ClaimQuittances(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuittanceDTOs(qs))
}

func (h *Handler) ClaimHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, authz.EntityClaim)
}

func (h *Handler) ClaimReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.ClaimReport(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// QUITTANCE HANDLERS
// =============================================================================

func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	qs, err := h.Service.Queue(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuittanceDTOs(qs))
}

func (h *Handler) GetQuittance(w http.ResponseWriter, r *http.Request) {
	q, err := h.Service.GetQuittance(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuittanceDTO(q))
}

func (h *Handler) TransitionQuittance(w http.ResponseWriter, r *http.Request) {
	var req QuittanceTransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, err := h.Service.TransitionQuittance(r.Context(), CallerFrom(r.Context()),
		chi.URLParam(r, "id"), authz.Action(req.Action), req.toDomain())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuittanceDTO(q))
}

func (h *Handler) QuittanceHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, authz.EntityQuittance)
}

func (h *Handler) QuittanceReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.QuittanceReport(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) SLAReport(w http.ResponseWriter, r *http.Request) {
	reports, err := h.Service.SLAReport(r.Context(), CallerFrom(r.Context()), r.URL.Query().Get("partner_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if reports == nil {
		reports = []indemnity.ClaimReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, entity authz.Entity) {
	records, err := h.Service.History(r.Context(), CallerFrom(r.Context()), entity, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []indemnity.TransitionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. On failure it has already written
// the 400 response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "invalid_input", Details: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// statusFor maps the domain error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, generic.ErrUnknownPartner):
		return http.StatusBadRequest, "unknown_partner"
	case errors.Is(err, generic.ErrUnknownSchedule):
		return http.StatusBadRequest, "unknown_schedule"
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrAlreadyTransitioned):
		return http.StatusConflict, "already_transitioned"
	case errors.Is(err, generic.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, generic.ErrIncompleteEvidence):
		return http.StatusUnprocessableEntity, "incomplete_evidence"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var iee *generic.IncompleteEvidenceError
	var ite *generic.InvalidTransitionError
	switch {
	case errors.As(err, &iee):
		resp.Details = map[string]any{"missing": iee.Missing}
	case errors.As(err, &ite):
		resp.Details = map[string]any{"from": ite.From, "attempted": ite.Attempted}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error = "Internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
