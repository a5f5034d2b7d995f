// Package httpapi exposes the REST API for rounds, accounts, settlements
// and the live event stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/rumble/internal/app"
	"github.com/R3E-Network/rumble/internal/app/metrics"
	ledgersvc "github.com/R3E-Network/rumble/internal/app/services/ledger"
	"github.com/R3E-Network/rumble/internal/app/services/rounds"
	"github.com/R3E-Network/rumble/internal/app/services/scores"
	"github.com/R3E-Network/rumble/internal/app/storage"
	"github.com/R3E-Network/rumble/internal/middleware"
)

// Config tunes handler-level behaviour. The zero value is a working default.
type Config struct {
	// AuditLimit caps the in-memory admin audit ring. Zero takes the default.
	AuditLimit int
	// AuditPath, when set, appends audit entries as JSONL to this file.
	AuditPath string
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// NewHandler returns a router exposing the core REST API with default
// audit settings.
func NewHandler(application *app.Application) http.Handler {
	h, _ := NewHandlerWithConfig(application, Config{})
	return h
}

// NewHandlerWithConfig returns a router exposing the core REST API.
func NewHandlerWithConfig(application *app.Application, cfg Config) (http.Handler, error) {
	sink, err := newFileAuditSink(cfg.AuditPath)
	if err != nil {
		return nil, err
	}

	h := &handler{
		app:   application,
		audit: newAuditLog(cfg.AuditLimit, sink),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/ws/v1/events", application.Hub)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/rounds", h.listRounds).Methods(http.MethodGet)
	api.Handle("/rounds", h.admin(h.createRound)).Methods(http.MethodPost)
	api.HandleFunc("/rounds/{id}", h.getRound).Methods(http.MethodGet)
	api.HandleFunc("/rounds/{id}/deposits", h.deposit).Methods(http.MethodPost)
	api.Handle("/rounds/{id}/scores", h.scorer(h.ingestScores)).Methods(http.MethodPost)
	api.Handle("/rounds/{id}/select-winners", h.admin(h.selectWinners)).Methods(http.MethodPost)
	api.Handle("/rounds/{id}/reset", h.admin(h.resetRound)).Methods(http.MethodPost)
	api.HandleFunc("/rounds/{id}/settlements", h.listSettlements).Methods(http.MethodGet)
	api.HandleFunc("/rounds/{id}/events", h.listEvents).Methods(http.MethodGet)
	api.HandleFunc("/rounds/{id}/entries", h.listEntries).Methods(http.MethodGet)

	api.HandleFunc("/accounts", h.listAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", h.createAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{address}", h.getAccount).Methods(http.MethodGet)

	api.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	api.Handle("/audit", middleware.RequireRole(middleware.RoleAdmin)(http.HandlerFunc(h.listAudit))).Methods(http.MethodGet)

	return r, nil
}

// admin gates a handler behind the admin role and records it on the audit
// trail.
func (h *handler) admin(fn http.HandlerFunc) http.Handler {
	return middleware.RequireRole(middleware.RoleAdmin)(h.audited(fn))
}

// scorer gates a handler behind the scorer role and records it on the audit
// trail.
func (h *handler) scorer(fn http.HandlerFunc) http.Handler {
	return middleware.RequireRole(middleware.RoleScorer)(h.audited(fn))
}

// --- health ------------------------------------------------------------

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.app.Rounds.List(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"services": h.app.Services(),
	})
}

// --- rounds ------------------------------------------------------------

func (h *handler) createRound(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Rounds.Initialize(r.Context(), payload.ID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listRounds(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Rounds.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getRound(w http.ResponseWriter, r *http.Request) {
	rnd, err := h.app.Rounds.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rnd)
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Depositor string `json:"depositor"`
		Amount    uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rnd, err := h.app.Rounds.Deposit(r.Context(), mux.Vars(r)["id"], payload.Depositor, payload.Amount)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rnd)
}

func (h *handler) ingestScores(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Scores []struct {
			Identity     string `json:"identity"`
			Score        uint32 `json:"score"`
			HoldDuration uint64 `json:"hold_duration"`
			BuyVolume    uint64 `json:"buy_volume"`
			SellVolume   uint64 `json:"sell_volume"`
			TxFrequency  uint32 `json:"tx_frequency"`
		} `json:"scores"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	subs := make([]scores.Submission, 0, len(payload.Scores))
	for _, s := range payload.Scores {
		subs = append(subs, scores.Submission{
			Identity:     s.Identity,
			Score:        s.Score,
			HoldDuration: s.HoldDuration,
			BuyVolume:    s.BuyVolume,
			SellVolume:   s.SellVolume,
			TxFrequency:  s.TxFrequency,
		})
	}

	result, err := h.app.Scores.Ingest(r.Context(), mux.Vars(r)["id"], subs)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) selectWinners(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Rounds.SelectWinners(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) resetRound(w http.ResponseWriter, r *http.Request) {
	rnd, err := h.app.Rounds.Reset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rnd)
}

func (h *handler) listSettlements(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Rounds.Settlements(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	list, err := h.app.Stores.Events.ListEvents(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) listEntries(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Ledger.Entries(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- accounts ----------------------------------------------------------

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address string `json:"address"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Ledger.CreateAccount(r.Context(), payload.Address)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Ledger.GetAccount(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// --- stats -------------------------------------------------------------

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	roundList, err := h.app.Rounds.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	accounts, err := h.app.Ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	burned, err := h.app.Ledger.TotalBurned(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var staked uint64
	active := 0
	for _, rnd := range roundList {
		staked += rnd.TotalDeposits
		if rnd.Active {
			active++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rounds":         len(roundList),
		"settled_rounds": active,
		"accounts":       len(accounts),
		"total_staked":   staked,
		"total_burned":   burned,
	})
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// --- helpers -----------------------------------------------------------

func statusForError(err error) int {
	switch {
	case errors.Is(err, rounds.ErrInvalidIdentity),
		errors.Is(err, rounds.ErrInvalidAmount),
		errors.Is(err, rounds.ErrOverflow),
		errors.Is(err, rounds.ErrDivisionByZero),
		errors.Is(err, ledgersvc.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, rounds.ErrRoundNotFound),
		errors.Is(err, ledgersvc.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, rounds.ErrRoundExists),
		errors.Is(err, rounds.ErrRoundAlreadyActive),
		errors.Is(err, rounds.ErrRoundNotActive),
		errors.Is(err, rounds.ErrNoDeposits),
		errors.Is(err, storage.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, rounds.ErrWinnerAccountNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rounds.ErrBurnFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
