package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit_pool/internal/auth"
	"credit_pool/internal/deposit"
	"credit_pool/internal/ledger"
	"credit_pool/internal/models"
	"credit_pool/internal/pool"
	"credit_pool/internal/queue"
	"credit_pool/internal/storage"
	"credit_pool/internal/validator"
)

var testSecret = []byte("httpapi-test-secret")

type fakeValidator struct {
	result validator.Result
}

func (f *fakeValidator) Validate(ctx context.Context, kind models.ProviderKind, credential, modelHint, endpointHint string) validator.Result {
	return f.result
}

func credits(s string) models.Credits {
	c, err := models.ParseCredits(s)
	if err != nil {
		panic(err)
	}
	return c
}

type testServer struct {
	handler   http.Handler
	store     *storage.MemoryStore
	ledger    *ledger.Ledger
	validator *fakeValidator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStore()
	l := ledger.New(store)
	vault, err := storage.NewEncryptionFromSecret("test-secret")
	require.NoError(t, err)

	estimate := credits("80")
	v := &fakeValidator{result: validator.Result{Outcome: models.OutcomeValid, EstimatedQuota: &estimate, StatusCode: 200}}
	terms := models.DefaultReleaseTerms()

	require.NoError(t, store.UpsertPricing(context.Background(), []*models.ModelPricing{{
		ModelID:         "gpt-4o",
		DisplayName:     "GPT-4o",
		Provider:        models.ProviderOpenAI,
		Tier:            models.TierLarge,
		CreditsPer1KIn:  credits("1"),
		CreditsPer1KOut: credits("2"),
		IsActive:        true,
		UpdatedAt:       time.Now().UTC(),
	}}))

	deps := &Dependencies{
		Store:     store,
		Ledger:    l,
		Deposits:  deposit.NewWorkflow(store, l, v, vault, terms),
		Pool:      pool.New(store, v, vault),
		Router:    pool.NewRouter(store, l, pool.RouterConfig{Terms: terms}),
		JWTSecret: testSecret,
	}
	return &testServer{handler: NewRouter(deps), store: store, ledger: l, validator: v}
}

func (s *testServer) do(t *testing.T, method, path string, principal *auth.Principal, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		token, _, err := auth.SignToken(*principal, testSecret, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

var (
	alice = &auth.Principal{AccountID: "alice"}
	bob   = &auth.Principal{AccountID: "bob"}
	admin = &auth.Principal{AccountID: "ops", IsAdmin: true}
)

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/v1/credits/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/admin/credits/bonus", alice, CreditGrantRequest{AccountID: "alice", Amount: credits("5")})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestBalance_NewAccountIsZero(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/v1/credits/balance", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var balance models.AccountBalance
	decode(t, rr, &balance)
	assert.Equal(t, "alice", balance.AccountID)
	assert.Equal(t, models.Credits(0), balance.Balance)
	assert.False(t, balance.Frozen)
}

func TestDepositLifecycle(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/v1/pool/deposits", alice, SubmitDepositRequest{
		Provider:     "openai",
		ModelFamily:  "gpt-4",
		Credential:   "sk-alice",
		ClaimedQuota: credits("100"),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var result deposit.Result
	decode(t, rr, &result)
	assert.Equal(t, credits("7.2"), result.Grant.Net)
	assert.Equal(t, models.DepositApproved, result.Deposit.Status)

	rr = s.do(t, http.MethodGet, "/v1/credits/balance", alice, nil)
	var balance models.AccountBalance
	decode(t, rr, &balance)
	assert.Equal(t, credits("7.2"), balance.Balance)

	t.Run("duplicate credential conflicts", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/v1/pool/deposits", bob, SubmitDepositRequest{
			Provider:     "openai",
			Credential:   "sk-alice",
			ClaimedQuota: credits("10"),
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("listed and summarised for the owner only", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/v1/pool/deposits", alice, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var listing struct {
			Deposits []*models.Deposit `json:"deposits"`
			Count    int               `json:"count"`
		}
		decode(t, rr, &listing)
		assert.Equal(t, 1, listing.Count)

		rr = s.do(t, http.MethodGet, "/v1/pool/deposits", bob, nil)
		decode(t, rr, &listing)
		assert.Equal(t, 0, listing.Count)

		rr = s.do(t, http.MethodGet, "/v1/pool/contributions", alice, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var summary models.ContributionSummary
		decode(t, rr, &summary)
		assert.Equal(t, credits("7.2"), summary.CreditsGranted)
	})

	t.Run("admin refund", func(t *testing.T) {
		path := fmt.Sprintf("/v1/admin/deposits/%s/refund", result.Deposit.ID)
		rr := s.do(t, http.MethodPost, path, admin, RefundDepositRequest{Reason: "key revoked"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = s.do(t, http.MethodPost, path, admin, RefundDepositRequest{Reason: "again"})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestDeposit_Rejected(t *testing.T) {
	s := newTestServer(t)
	s.validator.result = validator.Result{Outcome: models.OutcomeInvalid, Detail: "invalid api key", StatusCode: 401}

	rr := s.do(t, http.MethodPost, "/v1/pool/deposits", alice, SubmitDepositRequest{
		Provider:     "openai",
		Credential:   "sk-bad",
		ClaimedQuota: credits("100"),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid api key")
}

func TestDeposit_BadPayload(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"unknown provider", SubmitDepositRequest{Provider: "acme", Credential: "x", ClaimedQuota: credits("1")}},
		{"unknown field", map[string]interface{}{"provider": "openai", "secret": "x"}},
		{"bad amount", map[string]interface{}{"provider": "openai", "claimed_quota": "ten"}},
		{"no body", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/v1/pool/deposits", alice, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestSelectAndUsage(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/v1/pool/deposits", alice, SubmitDepositRequest{
		Provider:     "openai",
		ModelFamily:  "gpt-4",
		Credential:   "sk-alice",
		ClaimedQuota: credits("100"),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/v1/admin/credits/bonus", admin, CreditGrantRequest{AccountID: "bob", Amount: credits("10")})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	t.Run("exact match", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/v1/pool/select", bob, SelectRequest{Provider: "openai", ModelFamily: "gpt-4", RequiredQuota: credits("5")})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var sel pool.Selection
		decode(t, rr, &sel)
		assert.Equal(t, "alice", sel.Resource.OwnerID)
		assert.Empty(t, sel.Resource.EncryptedCredential)
	})

	t.Run("unknown family needs fallback", func(t *testing.T) {
		req := SelectRequest{Provider: "openai", ModelFamily: "o1", RequiredQuota: credits("5")}
		rr := s.do(t, http.MethodPost, "/v1/pool/select", bob, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		req.Fallback = true
		rr = s.do(t, http.MethodPost, "/v1/pool/select", bob, req)
		require.Equal(t, http.StatusOK, rr.Code)
		var sel pool.Selection
		decode(t, rr, &sel)
		assert.Equal(t, pool.ReasonFallback, sel.Reason)
	})

	rr = s.do(t, http.MethodPost, "/v1/pool/select", bob, SelectRequest{Provider: "openai", ModelFamily: "gpt-4"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var sel SelectResponse
	decode(t, rr, &sel)
	require.NotEmpty(t, sel.Ticket)
	resourceID := sel.Resource.ID

	t.Run("successful call is priced and charged", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/v1/pool/usage", bob, UsageRequest{
			ResourceID: resourceID,
			Ticket:     sel.Ticket,
			Model:      "gpt-4o",
			TokensIn:   1000,
			TokensOut:  500,
			Success:    true,
			LatencyMS:  120,
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var st pool.Settlement
		decode(t, rr, &st)
		assert.Equal(t, credits("2"), st.Record.CreditsCharged)
		assert.Equal(t, credits("2"), st.Record.QuotaConsumed)
		assert.Equal(t, credits("78"), st.Resource.CurrentQuota)

		b, err := s.ledger.GetOrCreateBalance(context.Background(), "bob")
		require.NoError(t, err)
		assert.Equal(t, credits("8"), b.Balance)
	})

	t.Run("failed call is free", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/v1/pool/usage", bob, UsageRequest{ResourceID: resourceID, Ticket: sel.Ticket, Model: "gpt-4o", TokensIn: 1000, Success: false})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		b, err := s.ledger.GetOrCreateBalance(context.Background(), "bob")
		require.NoError(t, err)
		assert.Equal(t, credits("8"), b.Balance)
	})

	t.Run("zero-token call drains nothing", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/v1/pool/usage", bob, UsageRequest{ResourceID: resourceID, Ticket: sel.Ticket, Model: "gpt-4o", Success: true})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var st pool.Settlement
		decode(t, rr, &st)
		assert.Zero(t, st.Record.QuotaConsumed)
		assert.Zero(t, st.Release)
		assert.Equal(t, credits("78"), st.Resource.CurrentQuota)
	})

	t.Run("insufficient credits", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/v1/pool/usage", bob, UsageRequest{
			ResourceID: resourceID,
			Ticket:     sel.Ticket,
			Model:      "gpt-4o",
			TokensIn:   100000,
			Success:    true,
		})
		assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	})

	t.Run("unpriced model", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/v1/pool/usage", bob, UsageRequest{ResourceID: resourceID, Ticket: sel.Ticket, Model: "mystery", Success: true})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("ticket required", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/v1/pool/usage", bob, UsageRequest{ResourceID: resourceID, Model: "gpt-4o", TokensIn: 10, Success: true})
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = s.do(t, http.MethodPost, "/v1/pool/usage", alice, UsageRequest{ResourceID: resourceID, Ticket: sel.Ticket, Model: "gpt-4o", TokensIn: 10, Success: true})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("quota is not accepted from the caller", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/v1/pool/usage", bob, map[string]interface{}{
			"resource_id":    resourceID,
			"ticket":         sel.Ticket,
			"model":          "gpt-4o",
			"success":        true,
			"quota_consumed": "80",
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown resource", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/v1/pool/usage", admin, UsageRequest{ResourceID: uuid.New(), Success: false})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("routing stats", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/v1/pool/routing-stats?since="+time.Now().Add(-time.Hour).UTC().Format(time.RFC3339), bob, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var stats models.RoutingStats
		decode(t, rr, &stats)
		assert.Equal(t, int64(3), stats.TotalRequests)

		rr = s.do(t, http.MethodGet, "/v1/pool/routing-stats?since=yesterday", bob, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestTransactions(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.ledger.Bonus(ctx, "alice", credits("1"), "welcome")
		require.NoError(t, err)
	}
	_, err := s.ledger.Adjust(ctx, "alice", credits("-0.5"), "correction")
	require.NoError(t, err)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantItems int
		wantTotal int
	}{
		{"default page", "", http.StatusOK, 4, 4},
		{"paged", "?page=2&page_size=3", http.StatusOK, 1, 4},
		{"by kind", "?kind=admin_adjustment", http.StatusOK, 1, 1},
		{"bad kind", "?kind=gift", http.StatusBadRequest, 0, 0},
		{"bad page", "?page=0", http.StatusBadRequest, 0, 0},
		{"page size too big", "?page_size=1000", http.StatusBadRequest, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodGet, "/v1/credits/transactions"+tt.query, alice, nil)
			require.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			var page models.TransactionPage
			decode(t, rr, &page)
			assert.Len(t, page.Items, tt.wantItems)
			assert.Equal(t, tt.wantTotal, page.TotalCount)
		})
	}
}

func TestPricing(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/v1/pricing", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "gpt-4o")

	rr = s.do(t, http.MethodGet, "/v1/pricing/gpt-4o", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var pricing models.ModelPricing
	decode(t, rr, &pricing)
	assert.Equal(t, credits("2"), pricing.CreditsPer1KOut)

	rr = s.do(t, http.MethodGet, "/v1/pricing/unknown", alice, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminLedger(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/v1/admin/credits/adjust", admin, CreditGrantRequest{AccountID: "alice", Amount: credits("3"), Description: "goodwill"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/v1/admin/credits/adjust", admin, CreditGrantRequest{AccountID: "alice", Amount: credits("-5"), Description: "clawback"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var txn models.Transaction
	decode(t, rr, &txn)
	assert.Equal(t, credits("-2"), txn.BalanceAfter)

	rr = s.do(t, http.MethodPost, "/v1/admin/credits/adjust", admin, CreditGrantRequest{AccountID: "alice", Amount: credits("1")})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/admin/ledger/alice/verify", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var verify VerifyResponse
	decode(t, rr, &verify)
	assert.True(t, verify.Consistent)

	t.Run("tampered balance freezes", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.store.InTx(ctx, func(tx storage.Tx) error {
			b, err := tx.LockBalance(ctx, "alice")
			if err != nil {
				return err
			}
			b.Balance += credits("1")
			return tx.SaveBalance(ctx, b)
		}))

		rr := s.do(t, http.MethodPost, "/v1/admin/ledger/alice/verify", admin, nil)
		require.Equal(t, http.StatusConflict, rr.Code)
		decode(t, rr, &verify)
		assert.False(t, verify.Consistent)

		rr = s.do(t, http.MethodPost, "/v1/admin/credits/bonus", admin, CreditGrantRequest{AccountID: "alice", Amount: credits("1")})
		assert.Equal(t, http.StatusLocked, rr.Code)

		rr = s.do(t, http.MethodPost, "/v1/admin/ledger/alice/unfreeze", admin, nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

func TestAdminResources(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/v1/admin/pool/resources", admin, RegisterResourceRequest{
		Provider:    "claude",
		ModelFamily: "claude-3",
		Credential:  "sk-ant-platform",
		Quota:       credits("500"),
		Priority:    2,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var res models.PooledResource
	decode(t, rr, &res)
	assert.Equal(t, models.ProviderAnthropic, res.Provider)
	assert.Equal(t, pool.PlatformAccount, res.OwnerID)

	base := "/v1/admin/pool/resources/" + res.ID.String()

	rr = s.do(t, http.MethodPost, base+"/suspend", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &res)
	assert.Equal(t, models.ResourceSuspended, res.Status)

	rr = s.do(t, http.MethodPost, base+"/reactivate", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &res)
	assert.Equal(t, models.ResourceActive, res.Status)

	rr = s.do(t, http.MethodPost, base+"/reactivate", admin, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	s.validator.result = validator.Result{Outcome: models.OutcomeInvalid, Detail: "revoked"}
	rr = s.do(t, http.MethodPost, base+"/revalidate", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"failed"`)

	rr = s.do(t, http.MethodPost, "/v1/admin/pool/resources/not-a-uuid/suspend", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/admin/pool/resources/"+uuid.NewString()+"/suspend", admin, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/admin/pool/expire", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"expired":0}`, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/v1/pool/stats", alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestDeadLetters_WithoutWorker(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/v1/admin/earnout/dead-letters", admin, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type statsStore struct {
	*storage.MemoryStore
}

func (statsStore) Stats() storage.DBStats {
	return storage.DBStats{MaxOpenConnections: 25, OpenConnections: 3, InUse: 1, Idle: 2}
}

func (statsStore) CleanupExpiredCacheEntries() int { return 0 }

func TestStorageStats(t *testing.T) {
	tests := []struct {
		name      string
		store     storage.Store
		principal *auth.Principal
		want      int
	}{
		{"reported by pooled store", statsStore{storage.NewMemoryStore()}, admin, http.StatusOK},
		{"memory store has none", storage.NewMemoryStore(), admin, http.StatusNotFound},
		{"admins only", statsStore{storage.NewMemoryStore()}, alice, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &testServer{handler: NewRouter(&Dependencies{Store: tt.store, JWTSecret: testSecret})}
			rr := s.do(t, http.MethodGet, "/v1/admin/storage/stats", tt.principal, nil)
			require.Equal(t, tt.want, rr.Code, rr.Body.String())
			if tt.want != http.StatusOK {
				return
			}
			var stats storage.DBStats
			decode(t, rr, &stats)
			assert.Equal(t, 25, stats.MaxOpenConnections)
			assert.Equal(t, 3, stats.OpenConnections)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&ledger.InsufficientCreditsError{AccountID: "a"}, http.StatusPaymentRequired},
		{&deposit.ValidationFailedError{}, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrap: %w", ledger.ErrAccountFrozen), http.StatusLocked},
		{storage.ErrPricingNotFound, http.StatusNotFound},
		{queue.ErrItemNotFound, http.StatusNotFound},
		{pool.ErrResourceDepleted, http.StatusConflict},
		{&ledger.InvariantViolationError{}, http.StatusConflict},
		{pool.ErrInvalidRequest, http.StatusBadRequest},
		{fmt.Errorf("%w: usage:1", storage.ErrDuplicateReference), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
