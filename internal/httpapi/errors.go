package httpapi

import (
	"errors"
	"net/http"

	"credit_pool/internal/deposit"
	"credit_pool/internal/ledger"
	"credit_pool/internal/pool"
	"credit_pool/internal/queue"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
)

var logger = utils.NewLogger("httpapi")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var validation *deposit.ValidationFailedError
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrAccountFrozen):
		return http.StatusLocked
	case errors.Is(err, storage.ErrBalanceNotFound),
		errors.Is(err, storage.ErrTransactionNotFound),
		errors.Is(err, storage.ErrResourceNotFound),
		errors.Is(err, storage.ErrDepositNotFound),
		errors.Is(err, storage.ErrPricingNotFound),
		errors.Is(err, pool.ErrResourceNotFound),
		errors.Is(err, queue.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, deposit.ErrDuplicateCredential),
		errors.Is(err, storage.ErrDuplicateFingerprint),
		errors.Is(err, storage.ErrDuplicateReference),
		errors.Is(err, deposit.ErrInvalidState),
		errors.Is(err, pool.ErrInvalidTransition),
		errors.Is(err, pool.ErrResourceDepleted),
		errors.Is(err, ledger.ErrInvariantViolation):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidKind),
		errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, deposit.ErrInvalidRequest),
		errors.Is(err, pool.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Internal errors are
// logged and hidden from the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		utils.RespondWithError(w, code, "Internal server error")
		return
	}
	utils.RespondWithError(w, code, err.Error())
}
