package pool

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit_pool/internal/deposit"
	"credit_pool/internal/ledger"
	"credit_pool/internal/models"
	"credit_pool/internal/storage"
	"credit_pool/internal/validator"
)

type fakeValidator struct {
	result validator.Result
	seen   []string
}

func (f *fakeValidator) Validate(ctx context.Context, kind models.ProviderKind, credential, modelHint, endpointHint string) validator.Result {
	f.seen = append(f.seen, credential)
	return f.result
}

func newTestPool(t *testing.T, result validator.Result) (*Pool, *storage.MemoryStore, *fakeValidator) {
	t.Helper()
	store := storage.NewMemoryStore()
	vault, err := storage.NewEncryptionFromSecret("test-secret")
	require.NoError(t, err)
	v := &fakeValidator{result: result}
	return New(store, v, vault), store, v
}

func TestPool_Register(t *testing.T) {
	p, _, _ := newTestPool(t, validator.Result{Outcome: models.OutcomeValid})
	ctx := context.Background()

	res, err := p.Register(ctx, RegisterRequest{
		Provider:    models.ProviderAnthropic,
		ModelFamily: "claude-3",
		Credential:  "  sk-ant-platform  ",
		Quota:       credits("500"),
		CostPerUnit: credits("2"),
		Priority:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, PlatformAccount, res.OwnerID)
	assert.Equal(t, models.OwnerTypePlatform, res.OwnerType)
	assert.Equal(t, models.ResourceActive, res.Status)
	assert.Equal(t, credits("500"), res.CurrentQuota)
	assert.NotContains(t, res.EncryptedCredential, "sk-ant-platform")

	got, err := p.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Priority)

	_, err = p.Register(ctx, RegisterRequest{
		Provider:   models.ProviderAnthropic,
		Credential: "sk-ant-platform",
		Quota:      credits("1"),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateFingerprint)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"bad provider", RegisterRequest{Provider: "nope", Credential: "x", Quota: credits("1")}},
		{"empty credential", RegisterRequest{Provider: models.ProviderOpenAI, Credential: " ", Quota: credits("1")}},
		{"zero quota", RegisterRequest{Provider: models.ProviderOpenAI, Credential: "x"}},
		{"negative cost", RegisterRequest{Provider: models.ProviderOpenAI, Credential: "x", Quota: credits("1"), CostPerUnit: credits("-1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Register(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestPool_StatsAndContributions(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	l := ledger.New(store)
	vault, err := storage.NewEncryptionFromSecret("test-secret")
	require.NoError(t, err)
	estimate := credits("50")
	v := &fakeValidator{result: validator.Result{Outcome: models.OutcomeValid, EstimatedQuota: &estimate}}
	wf := deposit.NewWorkflow(store, l, v, vault, models.DefaultReleaseTerms())
	p := New(store, v, vault)

	for _, cred := range []string{"sk-one", "sk-two"} {
		_, err := wf.Submit(ctx, deposit.SubmitRequest{
			AccountID:    "alice",
			Provider:     models.ProviderOpenAI,
			ModelFamily:  "gpt-4",
			Credential:   cred,
			ClaimedQuota: credits("50"),
		})
		require.NoError(t, err)
	}
	_, err = p.Register(ctx, RegisterRequest{Provider: models.ProviderOpenAI, Credential: "sk-platform", Quota: credits("100")})
	require.NoError(t, err)

	v.result = validator.Result{Outcome: models.OutcomeInvalid, Detail: "bad key"}
	_, err = wf.Submit(ctx, deposit.SubmitRequest{
		AccountID:    "alice",
		Provider:     models.ProviderOpenAI,
		Credential:   "sk-bad",
		ClaimedQuota: credits("50"),
	})
	require.Error(t, err)

	r := NewRouter(store, l, RouterConfig{})
	resources, err := p.List(ctx, models.ResourceFilter{OwnerID: strPtr("alice")})
	require.NoError(t, err)
	require.Len(t, resources, 2)
	_, err = r.RecordUsage(ctx, UsageReport{ResourceID: resources[0].ID, ConsumerID: "bob", QuotaConsumed: credits("20"), Success: true})
	require.NoError(t, err)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalResources)
	assert.Equal(t, 2, stats.UserResources)
	assert.Equal(t, 1, stats.PlatformResources)
	assert.Equal(t, 1, stats.Contributors)
	assert.Equal(t, credits("200"), stats.TotalValue)
	assert.Equal(t, credits("180"), stats.RemainingValue)
	assert.Equal(t, 2, stats.ApprovedDeposits)
	assert.Equal(t, 1, stats.RejectedDeposits)
	assert.Equal(t, credits("9"), stats.TotalDeposited)
	// 15 Credits released past the 5 Credit threshold: 13.5 net, 1.5 fee,
	// on top of the 0.5 fee taken from each deposit grant.
	assert.Equal(t, credits("13.5"), stats.TotalReleased)
	assert.Equal(t, credits("2.5"), stats.PlatformFeeRevenue)

	sum, err := p.Contributions(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Deposits)
	assert.Equal(t, 2, sum.ActiveResources)
	assert.Equal(t, credits("100"), sum.TotalContributed)
	assert.Equal(t, credits("9"), sum.CreditsGranted)
	assert.Equal(t, credits("13.5"), sum.CreditsReleased)
	assert.Equal(t, credits("20"), sum.QuotaConsumed)
	assert.Equal(t, int64(1), sum.TotalRequests)

	deps, err := p.Deposits(ctx, storage.DepositFilter{AccountID: strPtr("alice")})
	require.NoError(t, err)
	assert.Len(t, deps, 3)

	empty, err := p.Contributions(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.Deposits)
	assert.Empty(t, empty.Resources)

	_, err = p.Contributions(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPool_ExpireDue(t *testing.T) {
	p, store, _ := newTestPool(t, validator.Result{})
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	gone := addResource(t, store, "alice", "10", func(r *models.PooledResource) { r.ExpiresAt = &past })
	kept := addResource(t, store, "alice", "10", func(r *models.PooledResource) { r.ExpiresAt = &future })
	suspended := addResource(t, store, "alice", "10", withStatus(models.ResourceSuspended), func(r *models.PooledResource) { r.ExpiresAt = &past })

	n, err := p.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[uuid.UUID]models.ResourceStatus{
		gone.ID:      models.ResourceExpired,
		kept.ID:      models.ResourceActive,
		suspended.ID: models.ResourceSuspended,
	} {
		got, err := p.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}

	n, err = p.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPool_Revalidate(t *testing.T) {
	tests := []struct {
		name    string
		outcome models.ValidationOutcome
		want    models.ResourceStatus
	}{
		{"valid keeps status", models.OutcomeValid, models.ResourceActive},
		{"rate limited keeps status", models.OutcomeRateLimited, models.ResourceActive},
		{"invalid fails", models.OutcomeInvalid, models.ResourceFailed},
		{"exhausted depletes", models.OutcomeQuotaExhausted, models.ResourceDepleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, v := newTestPool(t, validator.Result{Outcome: tt.outcome})
			ctx := context.Background()
			res, err := p.Register(ctx, RegisterRequest{Provider: models.ProviderOpenAI, Credential: "sk-live", Quota: credits("10")})
			require.NoError(t, err)

			got, check, err := p.Revalidate(ctx, res.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, check.Outcome)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, []string{"sk-live"}, v.seen)

			stored, err := p.Get(ctx, res.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.Status)
		})
	}

	t.Run("unknown resource", func(t *testing.T) {
		p, _, _ := newTestPool(t, validator.Result{})
		_, _, err := p.Revalidate(context.Background(), uuid.New())
		assert.ErrorIs(t, err, storage.ErrResourceNotFound)
	})
}

func TestPool_SuspendReactivate(t *testing.T) {
	p, store, _ := newTestPool(t, validator.Result{})
	ctx := context.Background()

	res := addResource(t, store, "alice", "10")
	got, err := p.Suspend(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResourceSuspended, got.Status)

	got, err = p.Suspend(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResourceSuspended, got.Status)

	got, err = p.Reactivate(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResourceActive, got.Status)

	_, err = p.Reactivate(ctx, res.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	drained := addResource(t, store, "alice", "10", withStatus(models.ResourceSuspended), func(r *models.PooledResource) { r.CurrentQuota = 0 })
	got, err = p.Reactivate(ctx, drained.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResourceDepleted, got.Status)

	past := time.Now().Add(-time.Hour)
	stale := addResource(t, store, "alice", "10", withStatus(models.ResourceSuspended), func(r *models.PooledResource) { r.ExpiresAt = &past })
	_, err = p.Reactivate(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	expired := addResource(t, store, "alice", "10", withStatus(models.ResourceExpired))
	_, err = p.Suspend(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPool_ReactivateRefusesRefundedDeposit(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	l := ledger.New(store)
	vault, err := storage.NewEncryptionFromSecret("test-secret")
	require.NoError(t, err)
	estimate := credits("50")
	v := &fakeValidator{result: validator.Result{Outcome: models.OutcomeValid, EstimatedQuota: &estimate}}
	wf := deposit.NewWorkflow(store, l, v, vault, models.DefaultReleaseTerms())
	p := New(store, v, vault)

	submit := func(cred string) *deposit.Result {
		res, err := wf.Submit(ctx, deposit.SubmitRequest{
			AccountID:    "alice",
			Provider:     models.ProviderOpenAI,
			ModelFamily:  "gpt-4",
			Credential:   cred,
			ClaimedQuota: credits("50"),
		})
		require.NoError(t, err)
		return res
	}
	refunded := submit("sk-refunded")
	kept := submit("sk-kept")

	_, _, err = wf.Refund(ctx, refunded.Deposit.ID, "chargeback")
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      uuid.UUID
		wantErr error
	}{
		{"refunded deposit stays suspended", refunded.Resource.ID, ErrInvalidTransition},
		{"approved deposit comes back", kept.Resource.ID, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantErr == nil {
				_, err := p.Suspend(ctx, tt.id)
				require.NoError(t, err)
			}
			got, err := p.Reactivate(ctx, tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				stored, err := store.GetResource(ctx, tt.id)
				require.NoError(t, err)
				assert.Equal(t, models.ResourceSuspended, stored.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.ResourceActive, got.Status)
		})
	}
}

func strPtr(s string) *string { return &s }
