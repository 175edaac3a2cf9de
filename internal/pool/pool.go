package pool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"credit_pool/internal/models"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
	"credit_pool/internal/validator"
)

// PlatformAccount owns resources registered by operators.
const PlatformAccount = "platform"

// CredentialValidator checks a credential.
type CredentialValidator interface {
	Validate(ctx context.Context, kind models.ProviderKind, credential, modelHint, endpointHint string) validator.Result
}

// CredentialVault seals and opens stored credentials.
type CredentialVault interface {
	EncryptCredential(credential string) (string, error)
	DecryptCredential(sealed string) (string, error)
}

// RegisterRequest adds a platform-owned credential to the pool.
type RegisterRequest struct {
	Provider             models.ProviderKind
	ModelFamily          string
	Credential           string
	Endpoint             string
	Quota                models.Credits
	CostPerUnit          models.Credits
	Priority             int
	MaxRequestsPerMinute *int
	ExpiresAt            *time.Time
	Tags                 []string
}

// Pool manages the lifecycle of pooled resources and reports on them.
type Pool struct {
	store     storage.Store
	validator CredentialValidator
	vault     CredentialVault
	logger    *utils.Logger
	now       func() time.Time
}

// New creates a Pool.
func New(store storage.Store, v CredentialValidator, vault CredentialVault) *Pool {
	return &Pool{
		store:     store,
		validator: v,
		vault:     vault,
		logger:    utils.NewLogger("pool"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a platform-owned resource without a deposit. Platform
// resources earn nothing back when consumed.
func (p *Pool) Register(ctx context.Context, req RegisterRequest) (*models.PooledResource, error) {
	req.Credential = strings.TrimSpace(req.Credential)
	switch {
	case !req.Provider.IsValid():
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidRequest, req.Provider)
	case req.Credential == "":
		return nil, fmt.Errorf("%w: credential required", ErrInvalidRequest)
	case req.Quota <= 0:
		return nil, fmt.Errorf("%w: quota must be positive", ErrInvalidRequest)
	case req.CostPerUnit < 0:
		return nil, fmt.Errorf("%w: cost per unit cannot be negative", ErrInvalidRequest)
	}

	sealed, err := p.vault.EncryptCredential(req.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	now := p.now()
	res := &models.PooledResource{
		ID:                    uuid.New(),
		OwnerID:               PlatformAccount,
		OwnerType:             models.OwnerTypePlatform,
		Provider:              req.Provider,
		ModelFamily:           req.ModelFamily,
		Endpoint:              req.Endpoint,
		EncryptedCredential:   sealed,
		CredentialFingerprint: utils.CredentialFingerprint(string(req.Provider), req.Credential),
		OriginalQuota:         req.Quota,
		CurrentQuota:          req.Quota,
		CostPerUnit:           req.CostPerUnit,
		Status:                models.ResourceActive,
		SuccessRate:           100,
		Priority:              req.Priority,
		MaxRequestsPerMinute:  req.MaxRequestsPerMinute,
		ExpiresAt:             req.ExpiresAt,
		Tags:                  req.Tags,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	ctx = context.WithoutCancel(ctx)
	err = p.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertResource(ctx, res)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Platform resource registered", "resource_id", res.ID, "provider", res.Provider, "quota", res.OriginalQuota.String())
	return res, nil
}

// Get returns one resource.
func (p *Pool) Get(ctx context.Context, id uuid.UUID) (*models.PooledResource, error) {
	return p.store.GetResource(ctx, id)
}

// List returns the resources matching filter.
func (p *Pool) List(ctx context.Context, filter models.ResourceFilter) ([]*models.PooledResource, error) {
	return p.store.ListResources(ctx, filter)
}

// Deposits lists deposits, newest first.
func (p *Pool) Deposits(ctx context.Context, filter storage.DepositFilter) ([]*models.Deposit, error) {
	return p.store.ListDeposits(ctx, filter)
}

// Stats summarises the whole pool.
func (p *Pool) Stats(ctx context.Context) (*models.PoolStats, error) {
	return p.store.PoolStats(ctx)
}

// Contributions summarises what accountID has put into the pool and what
// it has earned back.
func (p *Pool) Contributions(ctx context.Context, accountID string) (*models.ContributionSummary, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id required", ErrInvalidRequest)
	}

	deposits, err := p.store.ListDeposits(ctx, storage.DepositFilter{AccountID: &accountID})
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	resources, err := p.store.ListResources(ctx, models.ResourceFilter{OwnerID: &accountID})
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	sum := &models.ContributionSummary{
		AccountID: accountID,
		Deposits:  len(deposits),
		Resources: resources,
	}
	for _, d := range deposits {
		if d.Status == models.DepositApproved {
			sum.CreditsGranted += d.CreditsGranted
		}
	}
	for _, r := range resources {
		if r.Status == models.ResourceActive {
			sum.ActiveResources++
		}
		sum.TotalContributed += r.OriginalQuota
		sum.CreditsReleased += r.ReleasedCredits
		sum.QuotaConsumed += r.TotalConsumed
		sum.TotalRequests += r.TotalRequests
	}
	return sum, nil
}

// ExpireDue moves every active resource past its expiry at now to expired
// and returns how many moved.
func (p *Pool) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	active := models.ResourceActive
	resources, err := p.store.ListResources(ctx, models.ResourceFilter{Status: &active})
	if err != nil {
		return 0, fmt.Errorf("failed to list resources: %w", err)
	}

	expired := 0
	for _, r := range resources {
		if !r.IsExpired(now) {
			continue
		}
		moved, err := p.transition(ctx, r.ID, func(_ storage.Tx, res *models.PooledResource) (bool, error) {
			if res.Status != models.ResourceActive || !res.IsExpired(now) {
				return false, nil
			}
			res.Status = models.ResourceExpired
			return true, nil
		})
		if err != nil {
			return expired, err
		}
		if moved != nil {
			expired++
		}
	}

	if expired > 0 {
		p.logger.Info("Expired pooled resources", "count", expired)
	}
	return expired, nil
}

// Revalidate checks the stored credential of id again. An invalid
// credential marks the resource failed; an exhausted one marks it depleted.
func (p *Pool) Revalidate(ctx context.Context, id uuid.UUID) (*models.PooledResource, validator.Result, error) {
	res, err := p.store.GetResource(ctx, id)
	if err != nil {
		return nil, validator.Result{}, err
	}
	credential, err := p.vault.DecryptCredential(res.EncryptedCredential)
	if err != nil {
		return nil, validator.Result{}, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	check := p.validator.Validate(ctx, res.Provider, credential, res.ModelFamily, res.Endpoint)

	var next models.ResourceStatus
	switch check.Outcome {
	case models.OutcomeInvalid:
		next = models.ResourceFailed
	case models.OutcomeQuotaExhausted:
		next = models.ResourceDepleted
	default:
		return res, check, nil
	}

	updated, err := p.transition(ctx, id, func(_ storage.Tx, r *models.PooledResource) (bool, error) {
		if r.Status == next {
			return false, nil
		}
		r.Status = next
		return true, nil
	})
	if err != nil {
		return nil, check, err
	}
	if updated == nil {
		updated = res
	} else {
		p.logger.Warn("Resource failed revalidation", "resource_id", id, "outcome", check.Outcome, "status", next)
	}
	return updated, check, nil
}

// Suspend takes a resource out of routing.
func (p *Pool) Suspend(ctx context.Context, id uuid.UUID) (*models.PooledResource, error) {
	return p.mustTransition(ctx, id, func(_ storage.Tx, r *models.PooledResource) (bool, error) {
		switch r.Status {
		case models.ResourceSuspended:
			return false, nil
		case models.ResourceActive, models.ResourceDepleted, models.ResourceFailed:
			r.Status = models.ResourceSuspended
			return true, nil
		default:
			return false, fmt.Errorf("%w: cannot suspend %s resource", ErrInvalidTransition, r.Status)
		}
	})
}

// Reactivate returns a suspended or failed resource to routing. A resource
// with no quota left comes back depleted. A resource whose deposit was
// refunded stays out.
func (p *Pool) Reactivate(ctx context.Context, id uuid.UUID) (*models.PooledResource, error) {
	ctx = context.WithoutCancel(ctx)
	return p.mustTransition(ctx, id, func(tx storage.Tx, r *models.PooledResource) (bool, error) {
		if r.Status != models.ResourceSuspended && r.Status != models.ResourceFailed {
			return false, fmt.Errorf("%w: cannot reactivate %s resource", ErrInvalidTransition, r.Status)
		}
		if r.IsExpired(p.now()) {
			return false, fmt.Errorf("%w: resource has expired", ErrInvalidTransition)
		}
		if r.DepositID != nil {
			status, err := tx.DepositStatus(ctx, *r.DepositID)
			if err != nil {
				return false, err
			}
			if status == models.DepositRefunded {
				return false, fmt.Errorf("%w: deposit %s was refunded", ErrInvalidTransition, *r.DepositID)
			}
		}
		r.Status = models.ResourceActive
		if r.CurrentQuota == 0 {
			r.Status = models.ResourceDepleted
		}
		return true, nil
	})
}

// transition locks id and applies fn. It returns the saved resource, or nil
// when fn made no change.
func (p *Pool) transition(ctx context.Context, id uuid.UUID, fn func(tx storage.Tx, r *models.PooledResource) (bool, error)) (*models.PooledResource, error) {
	var out *models.PooledResource
	ctx = context.WithoutCancel(ctx)
	err := p.store.InTx(ctx, func(tx storage.Tx) error {
		res, err := tx.LockResource(ctx, id)
		if err != nil {
			return err
		}
		changed, err := fn(tx, res)
		if err != nil || !changed {
			return err
		}
		res.UpdatedAt = p.now()
		if err := tx.SaveResource(ctx, res); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (p *Pool) mustTransition(ctx context.Context, id uuid.UUID, fn func(tx storage.Tx, r *models.PooledResource) (bool, error)) (*models.PooledResource, error) {
	res, err := p.transition(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return p.store.GetResource(ctx, id)
	}
	return res, nil
}
