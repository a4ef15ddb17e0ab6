package authority

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/posync/internal/pos"
)

// IdempotencyKeyHeader carries the local id of a submission.
const IdempotencyKeyHeader = "Idempotency-Key"

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewServer exposes auth over HTTP:
//
//	GET  /health
//	GET  /catalog[?since=RFC3339]
//	POST /sales
//	POST /stock-adjustments
//
// A duplicate submission answers 409 with the original Ack; a submission
// that cannot be applied answers 422.
func NewServer(auth Authority) http.Handler {
	h := &handler{auth: auth}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", h.health)
	r.Get("/catalog", h.catalog)
	r.Post("/sales", h.submitSale)
	r.Post("/stock-adjustments", h.submitAdjustment)
	return r
}

type handler struct {
	auth Authority
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Health(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) catalog(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since", "since must be RFC3339")
			return
		}
		since = &t
	}
	cat, err := h.auth.FetchCatalog(r.Context(), since)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (h *handler) submitSale(w http.ResponseWriter, r *http.Request) {
	var sale pos.Sale
	if err := json.NewDecoder(r.Body).Decode(&sale); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if !keyMatches(r, sale.LocalID) {
		writeError(w, http.StatusBadRequest, "idempotency_key_mismatch", "Idempotency-Key must equal local_id")
		return
	}
	ack, err := h.auth.SubmitSale(r.Context(), sale)
	writeAck(w, ack, err)
}

func (h *handler) submitAdjustment(w http.ResponseWriter, r *http.Request) {
	var adj pos.StockAdjustment
	if err := json.NewDecoder(r.Body).Decode(&adj); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if !keyMatches(r, adj.LocalID) {
		writeError(w, http.StatusBadRequest, "idempotency_key_mismatch", "Idempotency-Key must equal local_id")
		return
	}
	ack, err := h.auth.SubmitAdjustment(r.Context(), adj)
	writeAck(w, ack, err)
}

// keyMatches accepts a missing header for clients that only send the body.
func keyMatches(r *http.Request, localID string) bool {
	key := r.Header.Get(IdempotencyKeyHeader)
	return key == "" || key == localID
}

func writeAck(w http.ResponseWriter, ack Ack, err error) {
	switch {
	case err != nil:
		writeFailure(w, err)
	case ack.Duplicate:
		writeJSON(w, http.StatusConflict, ack)
	default:
		writeJSON(w, http.StatusCreated, ack)
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case pos.IsConflict(err), pos.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, "rejected", err.Error())
	case errors.Is(err, pos.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		slog.Error("authority request failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("authority request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}
