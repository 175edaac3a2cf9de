package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"credit_pool/internal/deposit"
	"credit_pool/internal/earnout"
	"credit_pool/internal/ledger"
	"credit_pool/internal/middleware"
	"credit_pool/internal/pool"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
)

const maxBodyBytes = 1 << 20

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Store     storage.Store
	Ledger    *ledger.Ledger
	Deposits  *deposit.Workflow
	Pool      *pool.Pool
	Router    *pool.Router
	EarnOut   *earnout.Worker
	JWTSecret []byte
}

// NewRouter creates the HTTP router with every route wired to deps.
func NewRouter(deps *Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	registerRoutes(mux, deps)
	return mux
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	mux.HandleFunc("GET /health", deps.handleHealth)

	authed := middleware.Authenticate(deps.JWTSecret)
	user := func(h http.HandlerFunc) http.Handler { return authed(h) }
	admin := func(h http.HandlerFunc) http.Handler { return authed(middleware.RequireAdmin(h)) }

	// Credits
	mux.Handle("GET /v1/credits/balance", user(deps.handleBalance))
	mux.Handle("GET /v1/credits/transactions", user(deps.handleTransactions))

	// Pricing
	mux.Handle("GET /v1/pricing", user(deps.handleListPricing))
	mux.Handle("GET /v1/pricing/{model}", user(deps.handleGetPricing))

	// Pool
	mux.Handle("GET /v1/pool/stats", user(deps.handlePoolStats))
	mux.Handle("GET /v1/pool/contributions", user(deps.handleContributions))
	mux.Handle("GET /v1/pool/deposits", user(deps.handleListDeposits))
	mux.Handle("GET /v1/pool/routing-stats", user(deps.handleRoutingStats))
	mux.Handle("POST /v1/pool/deposits", user(deps.handleSubmitDeposit))
	mux.Handle("POST /v1/pool/select", user(deps.handleSelect))
	mux.Handle("POST /v1/pool/usage", user(deps.handleRecordUsage))

	// Admin
	mux.Handle("POST /v1/admin/credits/adjust", admin(deps.handleAdjust))
	mux.Handle("POST /v1/admin/credits/bonus", admin(deps.handleBonus))
	mux.Handle("POST /v1/admin/deposits/{id}/refund", admin(deps.handleRefundDeposit))
	mux.Handle("POST /v1/admin/ledger/{account}/verify", admin(deps.handleVerify))
	mux.Handle("POST /v1/admin/ledger/{account}/unfreeze", admin(deps.handleUnfreeze))
	mux.Handle("POST /v1/admin/pool/resources", admin(deps.handleRegisterResource))
	mux.Handle("POST /v1/admin/pool/resources/{id}/suspend", admin(deps.handleSuspend))
	mux.Handle("POST /v1/admin/pool/resources/{id}/reactivate", admin(deps.handleReactivate))
	mux.Handle("POST /v1/admin/pool/resources/{id}/revalidate", admin(deps.handleRevalidate))
	mux.Handle("POST /v1/admin/pool/expire", admin(deps.handleExpire))
	mux.Handle("GET /v1/admin/earnout/dead-letters", admin(deps.handleDeadLetters))
	mux.Handle("POST /v1/admin/earnout/dead-letters/{id}/retry", admin(deps.handleRetryDeadLetter))
	mux.Handle("GET /v1/admin/storage/stats", admin(deps.handleStorageStats))
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.Ping(r.Context()); err != nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// decodeJSON reads a single JSON object from the body into v. It responds
// and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "Invalid request payload"
		var syntaxErr *json.SyntaxError
		switch {
		case errors.Is(err, io.EOF):
			msg = "Request body is required"
		case errors.As(err, &syntaxErr):
			msg = "Malformed JSON"
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			msg = strings.TrimPrefix(err.Error(), "json: ")
		case strings.Contains(err.Error(), "invalid credit amount"):
			msg = "Invalid credit amount"
		}
		utils.RespondWithError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}
