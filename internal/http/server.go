// Package http exposes the local status and read API. The ledger stays
// fully usable without it; the API only reports and triggers, it never
// gates writes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"saldo/internal/balance"
	"saldo/internal/connectivity"
	"saldo/internal/core"
	"saldo/internal/ledger"
	"saldo/internal/syncer"
)

type Server struct {
	http.Server
	store   *ledger.Store
	engine  *syncer.Engine
	monitor *connectivity.Monitor
	ownerID string
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr, ownerID string, store *ledger.Store, engine *syncer.Engine, monitor *connectivity.Monitor) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		store:   store,
		engine:  engine,
		monitor: monitor,
		ownerID: ownerID,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)
	mux.HandleFunc("POST /api/sync/run", s.handleSyncRun)
	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("GET /api/accounts/{id}/balance", s.handleAccountBalance)

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleSyncStatus reports connectivity plus per-collection pending counts.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.monitor.Status(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to read sync status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSyncRun triggers one reconciliation pass. A pass already in flight
// is reported as 409, which callers treat as "already being handled".
func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Reconcile(r.Context())
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, "reconciliation already in progress")
			return
		}
		slog.ErrorContext(r.Context(), "Reconciliation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	resp := map[string]any{
		"pushed":      result.Pushed,
		"push_failed": result.PushFailed,
		"pulled":      result.Pulled,
		"discarded":   result.Discarded,
		"partial":     result.Partial(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateTransaction records a new transaction. The amount travels as
// a decimal string and is parsed to cents at this boundary; the record is
// written locally and picked up by the next reconciliation pass.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID  string `json:"account_id"`
		CategoryID string `json:"category_id"`
		Amount     string `json:"amount"`
		Date       string `json:"date"`
		Note       string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	tx := &core.Transaction{
		Meta:       core.Meta{OwnerID: s.ownerID},
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
		Amount:     core.Money{Cents: cents},
		Note:       req.Note,
		Date:       core.Date{Time: day},
	}
	if err := s.store.PutTransaction(r.Context(), tx); err != nil {
		if errors.Is(err, core.ErrEmptyAccount) || errors.Is(err, core.ErrZeroDate) || errors.Is(err, core.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Failed to store transaction", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store transaction")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     tx.ID,
		"cents":  cents,
		"amount": core.FormatCents(cents),
	})
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	amount, err := balance.ForAccount(r.Context(), s.store, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to project balance", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to project balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"cents":      amount.Cents,
		"amount":     core.FormatCents(amount.Cents),
	})
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
