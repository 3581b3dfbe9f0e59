// Package api exposes the Daisy coin and streak endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ivasann/daisy-copilot/internal/logging"
	"github.com/ivasann/daisy-copilot/internal/persistence"
	"github.com/ivasann/daisy-copilot/internal/rewards"
)

// Handler coordinates HTTP requests with the reward service.
type Handler struct {
	service    *rewards.Service
	validate   *validator.Validate
	logger     zerolog.Logger
	corsOrigin string
	health     func(context.Context) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithCORSOrigin sets the allowed origins as a comma separated list. Empty disables CORS.
func WithCORSOrigin(origin string) Option {
	return func(h *Handler) { h.corsOrigin = origin }
}

// WithHealthCheck makes /healthz report 503 while check fails.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(h *Handler) { h.health = check }
}

// NewHandler builds a Handler.
func NewHandler(service *rewards.Service, opts ...Option) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	h := &Handler{
		service:  service,
		validate: v,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns a chi router with middleware and every route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(h.logger))
	r.Use(middleware.Recoverer)
	if h.corsOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: strings.Split(h.corsOrigin, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-Id"},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         300,
		}))
	}
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes wires endpoints to r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/balance/{userID}", h.balance)
	r.Get("/history/{userID}", h.history)
	r.Get("/users/{userID}/ledger", h.ledger)
	r.Delete("/users/{userID}", h.deleteUser)

	r.Post("/earn-coins", h.earnCoins)
	r.Post("/log-task", h.logTask)
	r.Post("/spend-coins", h.spendCoins)
	r.Post("/pomodoro-complete", h.pomodoroComplete)
	r.Post("/ai-chat", h.aiChat)
	r.Post("/waitlist", h.waitlist)
}

// healthz reports a simple OK status for container health checks.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "store unreachable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Balance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceView(snap))
}

func (h *Handler) earnCoins(w http.ResponseWriter, r *http.Request) {
	var req EarnCoinsRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.CompleteTask(r.Context(), req.UserID, req.TaskType)
	h.writeOutcome(w, r, out, err)
}

func (h *Handler) logTask(w http.ResponseWriter, r *http.Request) {
	var req LogTaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.LogTask(r.Context(), req.UserID, req.Type, req.CoinsEarned)
	h.writeOutcome(w, r, out, err)
}

func (h *Handler) spendCoins(w http.ResponseWriter, r *http.Request) {
	var req SpendCoinsRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.Spend(r.Context(), rewards.SpendInput{UserID: req.UserID, Amount: req.Amount, Reason: req.Reason})
	h.writeOutcome(w, r, out, err)
}

func (h *Handler) pomodoroComplete(w http.ResponseWriter, r *http.Request) {
	var req PomodoroCompleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	duration := rewards.FocusMinMinutes
	if req.Duration != nil {
		duration = *req.Duration
	}
	out, err := h.service.CompleteFocusSession(r.Context(), req.UserID, duration)
	h.writeOutcome(w, r, out, err)
}

func (h *Handler) aiChat(w http.ResponseWriter, r *http.Request) {
	var req AIChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.Chat(r.Context(), req.UserID, req.Message)
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusPaymentRequired)
		return
	}
	writeJSON(w, http.StatusOK, AIChatResponse{Reply: out.Reply, Balance: toBalanceView(out.Outcome.Snapshot)})
}

func (h *Handler) waitlist(w http.ResponseWriter, r *http.Request) {
	var req WaitlistRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, created, err := h.service.JoinWaitlist(r.Context(), req.Email)
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest)
		return
	}
	resp := WaitlistResponse{Status: "joined", Email: entry.Email}
	status := http.StatusCreated
	if !created {
		resp.Status = "already_joined"
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	hist, err := h.service.History(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryView(hist))
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.Ledger(r.Context(), chi.URLParam(r, "userID"), cursor, limit)
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest)
		return
	}

	items := make([]RecordView, 0, len(records))
	for _, rec := range records {
		items = append(items, toRecordView(rec))
	}
	writeJSON(w, http.StatusOK, LedgerResponse{Items: items, NextCursor: persistence.EncodeCursor(next)})
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode parses and validates the body into dst, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
		return false
	}
	return true
}

func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, out rewards.Outcome, err error) {
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeView(out))
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return rewards.DefaultHistoryLimit, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
		return 0, false
	}
	return parsed, true
}
