package httpd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"merchant_backend/internal/domain"
	"merchant_backend/internal/metrics"
	"merchant_backend/internal/repository"
	"merchant_backend/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

const tenantHeader = "X-Tenant-ID"

type Handler struct {
	uc       *usecase.TransactionUsecase
	validate *validator.Validate
}

func NewHandler(uc *usecase.TransactionUsecase) *Handler {
	return &Handler{
		uc:       uc,
		validate: validator.New(),
	}
}

func (h *Handler) Routes(sig SigConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-Timestamp", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(SignatureMiddleware(sig))

	r.Post("/api/v1/transactions", h.CreateTransaction)
	r.Post("/api/v1/transactions/{id}/confirm", h.ConfirmTransaction)
	r.Post("/api/v1/transactions/{id}/cancel", h.CancelTransaction)
	r.Post("/api/v1/transactions/{id}/settlement", h.Settlement)
	r.Get("/api/v1/transactions", h.ListTransactions)
	r.Get("/api/v1/transactions/{id}", h.GetTransaction)
	r.Get("/api/v1/healthz", h.Healthz)
	r.Handle("/metrics", metrics.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps the failure taxonomy onto status codes. Anything outside the
// taxonomy is an infrastructure error: logged with context, collapsed to 500.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrExpired):
		writeJSON(w, http.StatusGone, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrSignatureMismatch):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrDependencyFailure):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("internal error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// POST /api/v1/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + tenantHeader + " header"})
		return
	}

	var req CreateTransactionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	out, err := h.uc.Create(r.Context(), usecase.CreateInput{
		TenantID:    tenantID,
		IntentID:    req.IntentID,
		Ref:         req.Ref,
		AmountMinor: req.Amount,
		TTLMinutes:  req.TTLMinutes,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	tx := out.Transaction
	writeJSON(w, http.StatusCreated, CreateTransactionResp{
		ID:           tx.ID,
		IntentID:     tx.IntentID,
		Ref:          tx.Ref,
		No:           tx.No,
		TenantName:   out.TenantName,
		Amount:       tx.AmountMinor,
		Status:       string(tx.Status),
		ExpiresAt:    tx.ExpiresAt,
		EMVCoPayload: tx.EMVCoPayload,
		Signature:    tx.Signature,
	})
}

// POST /api/v1/transactions/{id}/confirm
func (h *Handler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ConfirmTransactionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	tx, err := h.uc.Confirm(r.Context(), id, req.CardID, req.Signature)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTxItem(*tx))
}

// POST /api/v1/transactions/{id}/cancel
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.uc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTxItem(*tx))
}

// POST /api/v1/transactions/{id}/settlement
func (h *Handler) Settlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	tx, err := h.uc.Settle(r.Context(), chi.URLParam(r, "id"), req.Outcome == "success")
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTxItem(*tx))
}

// GET /api/v1/transactions?intentId=&status=&limit=&offset=
//
// Listing is always tenant-scoped; without the tenant header the query would
// span every tenant's transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + tenantHeader + " header"})
		return
	}

	q := r.URL.Query()
	filter := repository.TxFilter{
		TenantID: tenantID,
		IntentID: q.Get("intentId"),
	}
	if st := q.Get("status"); st != "" {
		filter.Status = domain.TxStatus(st)
	}

	limit := 50
	offset := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	items, err := h.uc.List(r.Context(), filter, limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]TxItem, 0, len(items))
	for _, t := range items {
		out = append(out, toTxItem(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.uc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTxItem(*tx))
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
