/*
handlers.go - HTTP API handlers for the debt planner

PURPOSE:
  Exposes the liability ledger and the paycheck planner via REST API.
  Handles HTTP request/response and JSON serialization, and delegates to
  ledger.Ledger and planner.Recorder.

REQUEST FLOW:
  1. Parse path params and JSON body
  2. Call the ledger or planner with the caller's user id
  3. Serialize the response
  4. Map errors (see respondErr)

ERROR HANDLING:
  Errors are returned as JSON with the status derived from the ledger
  error class:
  - 400: ledger.ErrInvalidArgument, malformed JSON or dates
  - 401: missing X-User-ID
  - 404: ledger.ErrNotFound (absent or owned by another user)
  - 409: ledger.ErrInvalidState
  - 503: ledger.ErrTransactionFailed, with "retryable": true
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/debt-planner/id"
	"github.com/warp/debt-planner/ledger"
	"github.com/warp/debt-planner/planner"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger  *ledger.Ledger
	Planner *planner.Recorder
	logger  *slog.Logger
}

// NewHandler creates a handler over a ledger and the plan recorder sharing
// its store.
func NewHandler(l *ledger.Ledger, p *planner.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Ledger: l, Planner: p, logger: logger}
}

// Health pings the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// LIABILITY HANDLERS
// =============================================================================

// ListLiabilities returns the caller's liabilities, optionally filtered by
// ?status=open|closed.
func (h *Handler) ListLiabilities(w http.ResponseWriter, r *http.Request) {
	status := ledger.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		h.respondErr(w, r, &ledger.ValidationError{Field: "status", Message: "must be open or closed"})
		return
	}

	liabilities, err := h.Ledger.ListLiabilities(r.Context(), userFrom(r), status)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLiabilityDTOs(liabilities))
}

// GetLiability returns a single liability.
func (h *Handler) GetLiability(w http.ResponseWriter, r *http.Request) {
	liabID, ok := h.pathID(w, r, ledger.ResourceLiability)
	if !ok {
		return
	}
	liab, err := h.Ledger.GetLiability(r.Context(), userFrom(r), liabID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLiabilityDTO(liab))
}

// CreateLiability opens a credit card or loan.
func (h *Handler) CreateLiability(w http.ResponseWriter, r *http.Request) {
	var req CreateLiabilityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	details, err := req.LiabilityDetailsRequest.toDetails()
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	liab, err := h.Ledger.OpenLiability(r.Context(), userFrom(r), ledger.LiabilityInput{
		Kind:             req.Kind,
		BalanceCents:     req.BalanceCents,
		LiabilityDetails: details,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLiabilityDTO(liab))
}

// UpdateLiability replaces the descriptive fields. The balance is not
// touched.
func (h *Handler) UpdateLiability(w http.ResponseWriter, r *http.Request) {
	liabID, ok := h.pathID(w, r, ledger.ResourceLiability)
	if !ok {
		return
	}
	var req LiabilityDetailsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	details, err := req.toDetails()
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	liab, err := h.Ledger.UpdateLiabilityDetails(r.Context(), userFrom(r), liabID, details)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLiabilityDTO(liab))
}

// CloseLiability moves a liability to closed.
func (h *Handler) CloseLiability(w http.ResponseWriter, r *http.Request) {
	liabID, ok := h.pathID(w, r, ledger.ResourceLiability)
	if !ok {
		return
	}
	liab, err := h.Ledger.CloseLiability(r.Context(), userFrom(r), liabID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLiabilityDTO(liab))
}

// DeleteLiability deletes a liability with its charge and payment history.
func (h *Handler) DeleteLiability(w http.ResponseWriter, r *http.Request) {
	liabID, ok := h.pathID(w, r, ledger.ResourceLiability)
	if !ok {
		return
	}
	if err := h.Ledger.DeleteLiability(r.Context(), userFrom(r), liabID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CorrectBalance overrides the balance (corrective update).
func (h *Handler) CorrectBalance(w http.ResponseWriter, r *http.Request) {
	liabID, ok := h.pathID(w, r, ledger.ResourceLiability)
	if !ok {
		return
	}
	var req CorrectBalanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BalanceCents == nil {
		h.respondErr(w, r, &ledger.ValidationError{Field: "balanceCents", Message: "is required"})
		return
	}

	liab, err := h.Ledger.CorrectBalance(r.Context(), userFrom(r), liabID, *req.BalanceCents)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLiabilityDTO(liab))
}

// ListEntries returns a liability's charges and payments in creation order.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	liabID, ok := h.pathID(w, r, ledger.ResourceLiability)
	if !ok {
		return
	}
	entries, err := h.Ledger.ListEntries(r.Context(), userFrom(r), liabID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Reconcile replays a liability's history. ?repair=true overwrites a
// drifting balance with the replayed value.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	liabID, ok := h.pathID(w, r, ledger.ResourceLiability)
	if !ok {
		return
	}
	repair := false
	if raw := r.URL.Query().Get("repair"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondErr(w, r, &ledger.ValidationError{Field: "repair", Message: "must be true or false"})
			return
		}
		repair = v
	}

	rec, err := h.Ledger.Reconcile(r.Context(), userFrom(r), liabID, repair)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// =============================================================================
// CHARGE & PAYMENT HANDLERS
// =============================================================================

// RecordCharge adds a charge to a liability.
func (h *Handler) RecordCharge(w http.ResponseWriter, r *http.Request) {
	h.recordEntry(w, r, h.Ledger.RecordCharge)
}

// RecordPayment adds a payment to a liability.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	h.recordEntry(w, r, h.Ledger.RecordPayment)
}

type recordFunc = func(ctx context.Context, userID ledger.UserID, liabilityID id.ID, in ledger.EntryInput) (*ledger.Entry, error)

func (h *Handler) recordEntry(w http.ResponseWriter, r *http.Request, record recordFunc) {
	liabID, ok := h.pathID(w, r, ledger.ResourceLiability)
	if !ok {
		return
	}
	var req EntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	entry, err := record(r.Context(), userFrom(r), liabID, ledger.EntryInput{
		AmountCents: req.AmountCents,
		Date:        date,
		Notes:       req.Notes,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// UpdateCharge edits a charge and moves the balance by the difference.
func (h *Handler) UpdateCharge(w http.ResponseWriter, r *http.Request) {
	h.updateEntry(w, r, ledger.ResourceCharge, h.Ledger.UpdateCharge)
}

// UpdatePayment edits a payment and moves the balance by the difference.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	h.updateEntry(w, r, ledger.ResourcePayment, h.Ledger.UpdatePayment)
}

type updateFunc = func(ctx context.Context, userID ledger.UserID, entryID id.ID, u ledger.EntryUpdate) (*ledger.Entry, error)

func (h *Handler) updateEntry(w http.ResponseWriter, r *http.Request, resource string, update updateFunc) {
	entryID, ok := h.pathID(w, r, resource)
	if !ok {
		return
	}
	var req EntryPatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u := ledger.EntryUpdate{AmountCents: req.AmountCents, Notes: req.Notes}
	if req.Date != nil {
		date, err := parseDate("date", *req.Date)
		if err != nil {
			h.respondErr(w, r, err)
			return
		}
		u.Date = &date
	}

	entry, err := update(r.Context(), userFrom(r), entryID, u)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// DeleteCharge removes a charge. Deleting an absent charge succeeds.
func (h *Handler) DeleteCharge(w http.ResponseWriter, r *http.Request) {
	h.deleteEntry(w, r, ledger.ResourceCharge, h.Ledger.DeleteCharge)
}

// DeletePayment removes a payment. Deleting an absent payment succeeds.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	h.deleteEntry(w, r, ledger.ResourcePayment, h.Ledger.DeletePayment)
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request, resource string, del func(context.Context, ledger.UserID, id.ID) error) {
	entryID, ok := h.pathID(w, r, resource)
	if !ok {
		return
	}
	if err := del(r.Context(), userFrom(r), entryID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BatchPay records several payments in one unit of work.
func (h *Handler) BatchPay(w http.ResponseWriter, r *http.Request) {
	var req BatchPayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	batch := ledger.BatchPayment{Date: date, Notes: req.Notes, Items: make([]ledger.BatchItem, len(req.Items))}
	for i, item := range req.Items {
		batch.Items[i] = ledger.BatchItem{LiabilityID: item.LiabilityID, AmountCents: item.AmountCents}
	}

	payments, err := h.Ledger.BatchPay(r.Context(), userFrom(r), batch)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	ids := make([]id.ID, len(payments))
	for i, p := range payments {
		ids[i] = p.ID
	}
	writeJSON(w, http.StatusCreated, BatchPayResponse{OK: true, CreatedIDs: ids})
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// GeneratePlan allocates a paycheck and stores the draft plan.
func (h *Handler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req GeneratePlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payDate, err := parseDate("payDate", req.PayDate)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	gen, err := h.Planner.Generate(r.Context(), userFrom(r), planner.Input{
		PaycheckAmountCents:      req.PaycheckAmountCents,
		PayDate:                  payDate,
		ReserveCents:             req.ReserveCents,
		Strategy:                 req.Strategy,
		TargetUtilizationPercent: req.TargetUtilizationPercent,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGeneratePlanResponse(gen))
}

// ListPlans returns the caller's plans, newest first.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Planner.ListPlans(r.Context(), userFrom(r))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPlan returns one plan.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.pathID(w, r, ledger.ResourcePlan)
	if !ok {
		return
	}
	plan, err := h.Planner.GetPlan(r.Context(), userFrom(r), planID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// ApplyPlan turns a draft plan into payments.
func (h *Handler) ApplyPlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.pathID(w, r, ledger.ResourcePlan)
	if !ok {
		return
	}
	applied, err := h.Planner.Apply(r.Context(), userFrom(r), planID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ApplyPlanResponse{OK: true, CreatedPaymentIDs: applied.PaymentIDs})
}

// =============================================================================
// HELPERS
// =============================================================================

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

// respondErr maps a ledger error class to its HTTP status.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		nf *ledger.NotFoundError
		ve *ledger.ValidationError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid input", Details: err.Error(), Field: ve.Field})
	case errors.Is(err, ledger.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, capitalize(nf.Resource)+" not found", err)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrInvalidState):
		writeError(w, http.StatusConflict, "Operation not allowed in current state", err)
	case ledger.IsRetryable(err):
		h.logger.Warn("transaction failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     "Storage temporarily unavailable, nothing was written",
			Details:   err.Error(),
			Retryable: true,
		})
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

// pathID parses {id}. An unparseable id cannot name an existing record, so
// it is reported as not found.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, resource string) (id.ID, bool) {
	raw := chi.URLParam(r, "id")
	parsed, err := id.Parse(raw)
	if err != nil {
		h.respondErr(w, r, ledger.NewNotFound(resource, raw))
		return id.Nil, false
	}
	return parsed, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseDate(field, s string) (t time.Time, err error) {
	if s == "" {
		return t, &ledger.ValidationError{Field: field, Message: "is required"}
	}
	t, err = ledger.ParseDate(s)
	if err != nil {
		return t, &ledger.ValidationError{Field: field, Message: "must be YYYY-MM-DD"}
	}
	return t, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (req LiabilityDetailsRequest) toDetails() (ledger.LiabilityDetails, error) {
	d := ledger.LiabilityDetails{
		Name:                     req.Name,
		Institution:              req.Institution,
		CreditLimitCents:         req.CreditLimitCents,
		StatementDay:             req.StatementDay,
		DueDay:                   req.DueDay,
		InterestRateAPR:          req.InterestRateAPR,
		MinPaymentCents:          req.MinPaymentCents,
		TargetUtilizationPercent: req.TargetUtilizationPercent,
	}
	if req.NextDueDate != nil {
		due, err := parseDate("nextDueDate", *req.NextDueDate)
		if err != nil {
			return d, err
		}
		d.NextDueDate = &due
	}
	return d, nil
}
