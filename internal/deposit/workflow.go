package deposit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"credit_pool/internal/ledger"
	"credit_pool/internal/models"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
	"credit_pool/internal/validator"
)

var (
	// ErrDuplicateCredential is returned when the credential is already pooled.
	ErrDuplicateCredential = errors.New("credential already deposited")

	// ErrInvalidState is returned when a deposit cannot make the requested move.
	ErrInvalidState = errors.New("deposit is not in a state that allows this action")

	ErrInvalidRequest = errors.New("invalid deposit request")
)

// ValidationFailedError reports a credential that did not pass its check.
type ValidationFailedError struct {
	DepositID uuid.UUID
	Outcome   models.ValidationOutcome
	Detail    string
}

func (e *ValidationFailedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("credential validation failed: %s", e.Outcome)
	}
	return fmt.Sprintf("credential validation failed: %s: %s", e.Outcome, e.Detail)
}

// CredentialValidator checks a credential.
type CredentialValidator interface {
	Validate(ctx context.Context, kind models.ProviderKind, credential, modelHint, endpointHint string) validator.Result
}

// CredentialSealer encrypts credentials for storage.
type CredentialSealer interface {
	EncryptCredential(credential string) (string, error)
}

// SubmitRequest is a contributor's offer of a provider credential.
type SubmitRequest struct {
	AccountID            string
	Provider             models.ProviderKind
	ModelFamily          string
	Credential           string
	Endpoint             string
	ModelHint            string
	ClaimedQuota         models.Credits
	CostPerUnit          models.Credits
	MaxRequestsPerMinute *int
	ExpiresAt            *time.Time
	Tags                 []string
	Note                 string
}

// Result is the outcome of an approved deposit.
type Result struct {
	Deposit     *models.Deposit        `json:"deposit"`
	Resource    *models.PooledResource `json:"resource"`
	Transaction *models.Transaction    `json:"transaction,omitempty"`
	Grant       Grant                  `json:"grant"`
	Message     string                 `json:"message"`
}

// Workflow turns validated credentials into pooled resources and credits.
type Workflow struct {
	store     storage.Store
	ledger    *ledger.Ledger
	validator CredentialValidator
	sealer    CredentialSealer
	terms     models.ReleaseTerms
	logger    *utils.Logger
	now       func() time.Time
}

// NewWorkflow creates a deposit workflow.
func NewWorkflow(store storage.Store, l *ledger.Ledger, v CredentialValidator, sealer CredentialSealer, terms models.ReleaseTerms) *Workflow {
	return &Workflow{
		store:     store,
		ledger:    l,
		validator: v,
		sealer:    sealer,
		terms:     terms,
		logger:    utils.NewLogger("deposit"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Terms returns the release terms applied to new deposits.
func (w *Workflow) Terms() models.ReleaseTerms {
	return w.terms
}

// Submit validates req.Credential and, when it passes, pools it and credits
// the contributor in one unit of work. A failed check is kept as a rejected
// deposit and reported as *ValidationFailedError.
func (w *Workflow) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	req.Credential = strings.TrimSpace(req.Credential)
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	fingerprint := utils.CredentialFingerprint(string(req.Provider), req.Credential)
	if err := w.checkFingerprint(ctx, fingerprint); err != nil {
		return nil, err
	}

	check := w.validator.Validate(ctx, req.Provider, req.Credential, req.ModelHint, req.Endpoint)
	now := w.now()

	dep := &models.Deposit{
		ID:                  uuid.New(),
		AccountID:           req.AccountID,
		Provider:            req.Provider,
		ModelFamily:         req.ModelFamily,
		ClaimedQuota:        req.ClaimedQuota,
		EstimatedQuota:      check.EstimatedQuota,
		VerificationMethod:  models.VerificationAPICall,
		VerificationOutcome: check.Outcome,
		VerificationDetail:  check.Detail,
		FeeRate:             w.terms.FeeRate,
		Status:              models.DepositPending,
		Note:                req.Note,
		CreatedAt:           now,
	}

	if !check.Valid() {
		return nil, w.reject(ctx, dep, check)
	}

	grant, explanation := InitialCredit(check.Outcome, req.ClaimedQuota, check.EstimatedQuota, w.terms)
	if grant.Usable <= 0 {
		check.Outcome = models.OutcomeQuotaExhausted
		check.Detail = "no usable quota"
		dep.VerificationOutcome = check.Outcome
		dep.VerificationDetail = check.Detail
		return nil, w.reject(ctx, dep, check)
	}

	sealed, err := w.sealer.EncryptCredential(req.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	resource := &models.PooledResource{
		ID:                    uuid.New(),
		OwnerID:               req.AccountID,
		OwnerType:             models.OwnerTypeUser,
		Provider:              req.Provider,
		ModelFamily:           req.ModelFamily,
		Endpoint:              req.Endpoint,
		EncryptedCredential:   sealed,
		CredentialFingerprint: fingerprint,
		OriginalQuota:         grant.Usable,
		CurrentQuota:          grant.Usable,
		CostPerUnit:           req.CostPerUnit,
		Status:                models.ResourceActive,
		SuccessRate:           100,
		MaxRequestsPerMinute:  req.MaxRequestsPerMinute,
		ExpiresAt:             req.ExpiresAt,
		Tags:                  req.Tags,
		DepositID:             &dep.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	dep.UsableQuota = grant.Usable
	dep.FeeAmount = grant.Fee
	dep.CreditsGranted = grant.Net

	var txn *models.Transaction
	ctx = context.WithoutCancel(ctx)
	err = w.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertDeposit(ctx, dep); err != nil {
			return err
		}
		if err := tx.InsertResource(ctx, resource); err != nil {
			return err
		}

		if grant.Net > 0 {
			ref := depositReference(dep.ID)
			var err error
			txn, err = w.ledger.ApplyInTx(ctx, tx, ledger.TransactionRequest{
				AccountID:   req.AccountID,
				Kind:        models.TransactionDeposit,
				Amount:      grant.Net,
				Description: fmt.Sprintf("Resource pool deposit: %s credential", req.Provider),
				Reference:   &ref,
			})
			if err != nil {
				return err
			}
		}

		processed := w.now()
		dep.ResourceID = &resource.ID
		dep.Status = models.DepositApproved
		dep.ProcessedAt = &processed
		return tx.SaveDeposit(ctx, dep)
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateFingerprint) {
			return nil, ErrDuplicateCredential
		}
		return nil, fmt.Errorf("failed to record deposit: %w", err)
	}

	w.logger.Info("Deposit approved",
		"deposit_id", dep.ID,
		"account_id", req.AccountID,
		"provider", req.Provider,
		"usable", grant.Usable.String(),
		"granted", grant.Net.String(),
	)

	return &Result{
		Deposit:     dep,
		Resource:    resource,
		Transaction: txn,
		Grant:       grant,
		Message:     explanation,
	}, nil
}

func (w *Workflow) checkFingerprint(ctx context.Context, fingerprint string) error {
	ctx = context.WithoutCancel(ctx)
	return w.store.InTx(ctx, func(tx storage.Tx) error {
		exists, err := tx.FingerprintExists(ctx, fingerprint)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateCredential
		}
		return nil
	})
}

// reject stores dep as rejected and returns the validation error.
func (w *Workflow) reject(ctx context.Context, dep *models.Deposit, check validator.Result) error {
	processed := w.now()
	dep.Status = models.DepositRejected
	dep.ProcessedAt = &processed

	ctx = context.WithoutCancel(ctx)
	err := w.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertDeposit(ctx, dep)
	})
	if err != nil {
		return fmt.Errorf("failed to record rejected deposit: %w", err)
	}

	w.logger.Warn("Deposit rejected",
		"deposit_id", dep.ID,
		"account_id", dep.AccountID,
		"provider", dep.Provider,
		"outcome", check.Outcome,
		"detail", check.Detail,
	)
	return &ValidationFailedError{DepositID: dep.ID, Outcome: check.Outcome, Detail: check.Detail}
}

// Refund reverses an approved deposit: the resource is suspended and the
// granted credits are clawed back from the contributor with an admin
// adjustment, which may take the balance negative.
func (w *Workflow) Refund(ctx context.Context, depositID uuid.UUID, reason string) (*models.Deposit, *models.Transaction, error) {
	var dep *models.Deposit
	var txn *models.Transaction

	ctx = context.WithoutCancel(ctx)
	err := w.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		dep, err = tx.LockDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		if dep.Status != models.DepositApproved {
			return fmt.Errorf("%w: deposit %s is %s", ErrInvalidState, dep.ID, dep.Status)
		}

		now := w.now()
		if dep.ResourceID != nil {
			resource, err := tx.LockResource(ctx, *dep.ResourceID)
			if err != nil {
				return err
			}
			resource.Status = models.ResourceSuspended
			resource.UpdatedAt = now
			if err := tx.SaveResource(ctx, resource); err != nil {
				return err
			}
		}

		if dep.CreditsGranted > 0 {
			ref := refundReference(dep.ID)
			txn, err = w.ledger.ApplyInTx(ctx, tx, ledger.TransactionRequest{
				AccountID:   dep.AccountID,
				Kind:        models.TransactionAdminAdjustment,
				Amount:      dep.CreditsGranted.Neg(),
				Description: fmt.Sprintf("Deposit refund claw-back: %s", reason),
				Reference:   &ref,
			})
			if err != nil {
				return err
			}
		}

		dep.Status = models.DepositRefunded
		dep.Note = strings.TrimSpace(strings.Join([]string{dep.Note, reason}, " "))
		dep.ProcessedAt = &now
		return tx.SaveDeposit(ctx, dep)
	})
	if err != nil {
		return nil, nil, err
	}

	w.logger.Info("Deposit refunded", "deposit_id", dep.ID, "account_id", dep.AccountID, "reason", reason)
	return dep, txn, nil
}

func validateSubmit(req SubmitRequest) error {
	switch {
	case req.AccountID == "":
		return fmt.Errorf("%w: account id required", ErrInvalidRequest)
	case !req.Provider.IsValid():
		return fmt.Errorf("%w: unsupported provider %q", ErrInvalidRequest, req.Provider)
	case req.Credential == "":
		return fmt.Errorf("%w: credential required", ErrInvalidRequest)
	case req.ClaimedQuota <= 0:
		return fmt.Errorf("%w: claimed quota must be positive", ErrInvalidRequest)
	case req.CostPerUnit < 0:
		return fmt.Errorf("%w: cost per unit cannot be negative", ErrInvalidRequest)
	}
	return nil
}

func depositReference(id uuid.UUID) string { return "deposit:" + id.String() }

func refundReference(id uuid.UUID) string { return "deposit-refund:" + id.String() }
