package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"credit_pool/internal/earnout"
	"credit_pool/internal/ledger"
	"credit_pool/internal/models"
	"credit_pool/internal/ratelimit"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
)

// Routing reasons recorded on usage records.
const (
	ReasonOnlyCandidate = "only_candidate"
	ReasonScored        = "scored"
	ReasonFallback      = "fallback"
)

// RoutingWeights weigh the four sub-scores of a candidate.
type RoutingWeights struct {
	Cost         float64 `json:"cost"`
	Reliability  float64 `json:"reliability"`
	Availability float64 `json:"availability"`
	Load         float64 `json:"load"`
}

// DefaultRoutingWeights favours cheap resources, then reliable ones.
func DefaultRoutingWeights() RoutingWeights {
	return RoutingWeights{Cost: 0.40, Reliability: 0.30, Availability: 0.20, Load: 0.10}
}

// RandSource supplies the randomness for the weighted draw. *rand.Rand
// satisfies it.
type RandSource interface {
	Float64() float64
}

// ReleasePublisher receives contributor releases after settlement commits.
type ReleasePublisher interface {
	Publish(ctx context.Context, r earnout.Release) error
}

// UsageSink archives usage records after settlement commits.
type UsageSink interface {
	Enqueue(rec *models.UsagePoolRecord) error
}

// RouterConfig holds the router's collaborators and tuning. Zero fields take
// defaults.
type RouterConfig struct {
	Weights   RoutingWeights
	TopN      int
	Rand      RandSource
	Limiter   ratelimit.Limiter
	Terms     models.ReleaseTerms
	Publisher ReleasePublisher
	Sink      UsageSink
}

// SelectRequest asks for a resource able to serve RequiredQuota.
type SelectRequest struct {
	Provider      models.ProviderKind `json:"provider"`
	ModelFamily   string              `json:"model_family"`
	RequiredQuota models.Credits      `json:"required_quota"`
}

// Score is a candidate's weighted total and its 0-100 sub-scores.
type Score struct {
	Total        float64 `json:"total"`
	Cost         float64 `json:"cost"`
	Reliability  float64 `json:"reliability"`
	Availability float64 `json:"availability"`
	Load         float64 `json:"load"`
}

// Selection is the resource chosen for a request.
type Selection struct {
	Resource   *models.PooledResource `json:"resource"`
	Score      Score                  `json:"score"`
	Reason     string                 `json:"reason"`
	Candidates int                    `json:"candidates"`
}

// UsageReport describes one completed provider call.
type UsageReport struct {
	ResourceID    uuid.UUID      `json:"resource_id"`
	ConsumerID    string         `json:"consumer_id"`
	Model         string         `json:"model"`
	TokensIn      int            `json:"tokens_in"`
	TokensOut     int            `json:"tokens_out"`
	QuotaConsumed models.Credits `json:"quota_consumed"`
	Charge        models.Credits `json:"charge"`
	Success       bool           `json:"success"`
	Latency       time.Duration  `json:"latency"`
	Reason        string         `json:"reason"`
}

// Settlement is what RecordUsage committed.
type Settlement struct {
	Record      *models.UsagePoolRecord `json:"record"`
	Resource    *models.PooledResource  `json:"resource"`
	Transaction *models.Transaction     `json:"transaction,omitempty"`
	Release     models.Credits          `json:"release"`
	ReleaseFee  models.Credits          `json:"release_fee"`
}

// Router picks pooled resources for requests and settles their usage.
type Router struct {
	store     storage.Store
	ledger    *ledger.Ledger
	limiter   ratelimit.Limiter
	weights   RoutingWeights
	topN      int
	terms     models.ReleaseTerms
	publisher ReleasePublisher
	sink      UsageSink
	logger    *utils.Logger
	now       func() time.Time

	randMu sync.Mutex
	rand   RandSource
}

// NewRouter creates a Router.
func NewRouter(store storage.Store, l *ledger.Ledger, cfg RouterConfig) *Router {
	r := &Router{
		store:     store,
		ledger:    l,
		limiter:   cfg.Limiter,
		weights:   cfg.Weights,
		topN:      cfg.TopN,
		terms:     cfg.Terms,
		publisher: cfg.Publisher,
		sink:      cfg.Sink,
		rand:      cfg.Rand,
		logger:    utils.NewLogger("router"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	if r.weights == (RoutingWeights{}) {
		r.weights = DefaultRoutingWeights()
	}
	if r.topN < 1 {
		r.topN = 3
	}
	if r.terms == (models.ReleaseTerms{}) {
		r.terms = models.DefaultReleaseTerms()
	}
	if r.limiter == nil {
		r.limiter = ratelimit.NewNoopLimiter()
	}
	if r.rand == nil {
		r.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r
}

type candidate struct {
	resource *models.PooledResource
	recent   int64
	score    Score
}

// Select chooses a resource for req among exact provider and model family
// matches.
func (r *Router) Select(ctx context.Context, req SelectRequest) (*Selection, error) {
	if err := validateSelect(req.Provider, req.RequiredQuota); err != nil {
		return nil, err
	}
	family := req.ModelFamily
	cands, err := r.candidates(ctx, req.Provider, &family, req.RequiredQuota)
	if err != nil {
		return nil, err
	}
	return r.pick(ctx, cands, true)
}

// Fallback chooses the best-scoring resource of provider regardless of
// model family.
func (r *Router) Fallback(ctx context.Context, provider models.ProviderKind, requiredQuota models.Credits) (*Selection, error) {
	if err := validateSelect(provider, requiredQuota); err != nil {
		return nil, err
	}
	cands, err := r.candidates(ctx, provider, nil, requiredQuota)
	if err != nil {
		return nil, err
	}
	sel, err := r.pick(ctx, cands, false)
	if err != nil {
		return nil, err
	}
	sel.Reason = ReasonFallback
	return sel, nil
}

// SelectWithFallback tries Select and, when nothing matches the model
// family, Fallback.
func (r *Router) SelectWithFallback(ctx context.Context, req SelectRequest) (*Selection, error) {
	sel, err := r.Select(ctx, req)
	if errors.Is(err, ErrResourceNotFound) {
		r.logger.Debug("No exact match, falling back", "provider", req.Provider, "model_family", req.ModelFamily)
		return r.Fallback(ctx, req.Provider, req.RequiredQuota)
	}
	return sel, err
}

func validateSelect(provider models.ProviderKind, required models.Credits) error {
	if !provider.IsValid() {
		return fmt.Errorf("%w: unsupported provider %q", ErrInvalidRequest, provider)
	}
	if required < 0 {
		return fmt.Errorf("%w: required quota cannot be negative", ErrInvalidRequest)
	}
	return nil
}

// candidates lists routable resources. Selection reads without locks, so a
// candidate may be drained before its settlement arrives.
func (r *Router) candidates(ctx context.Context, provider models.ProviderKind, family *string, required models.Credits) ([]*candidate, error) {
	active := models.ResourceActive
	resources, err := r.store.ListResources(ctx, models.ResourceFilter{
		Provider:    &provider,
		ModelFamily: family,
		Status:      &active,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	now := r.now()
	out := make([]*candidate, 0, len(resources))
	for _, res := range resources {
		if !res.IsRoutable(required, now) {
			continue
		}
		recent, err := r.limiter.GetCurrentUsage(ctx, ratelimit.ResourceKey(res.ID))
		if err != nil {
			r.logger.Warn("Failed to read recent load", "resource_id", res.ID, "error", err)
			recent = 0
		}
		if limit := rateLimit(res); limit > 0 && recent >= int64(limit) {
			continue
		}
		out = append(out, &candidate{resource: res, recent: recent})
	}
	return out, nil
}

// pick ranks cands and claims one. With draw set the winner is drawn from
// the top N by score; otherwise the best score wins. A candidate that loses
// its rate-limit slot between listing and claiming is dropped and the pick
// repeated.
func (r *Router) pick(ctx context.Context, cands []*candidate, draw bool) (*Selection, error) {
	for len(cands) > 0 {
		var chosen int
		reason := ReasonOnlyCandidate
		if len(cands) > 1 {
			r.rank(cands)
			reason = ReasonScored
			if draw {
				chosen = r.draw(cands)
			}
		} else {
			cands[0].score = r.Score(cands[0].resource, cands[0].recent)
		}

		c := cands[chosen]
		allowed, _, _, err := r.limiter.AllowWithDetails(ctx, ratelimit.ResourceKey(c.resource.ID), rateLimit(c.resource))
		if err != nil {
			r.logger.Warn("Failed to record routed request", "resource_id", c.resource.ID, "error", err)
			allowed = true
		}
		if allowed {
			return &Selection{
				Resource:   c.resource,
				Score:      c.score,
				Reason:     reason,
				Candidates: len(cands),
			}, nil
		}
		cands = append(cands[:chosen], cands[chosen+1:]...)
	}
	return nil, ErrResourceNotFound
}

// rank scores cands and sorts them best first. Equal scores fall back to
// priority, then age, so the order is deterministic.
func (r *Router) rank(cands []*candidate) {
	for _, c := range cands {
		c.score = r.Score(c.resource, c.recent)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score.Total != b.score.Total {
			return a.score.Total > b.score.Total
		}
		if a.resource.Priority != b.resource.Priority {
			return a.resource.Priority > b.resource.Priority
		}
		return a.resource.CreatedAt.Before(b.resource.CreatedAt)
	})
}

// draw returns the index of a candidate among the top N, chosen with
// probability proportional to its total score.
func (r *Router) draw(cands []*candidate) int {
	n := r.topN
	if n > len(cands) {
		n = len(cands)
	}

	var sum float64
	for _, c := range cands[:n] {
		sum += c.score.Total
	}
	if sum <= 0 {
		return 0
	}

	r.randMu.Lock()
	x := r.rand.Float64() * sum
	r.randMu.Unlock()

	for i, c := range cands[:n] {
		x -= c.score.Total
		if x < 0 {
			return i
		}
	}
	return n - 1
}

// Score rates res given recent, its request count in the current window.
func (r *Router) Score(res *models.PooledResource, recent int64) Score {
	s := Score{
		Cost:         math.Max(0, 100-res.CostPerUnit.Float64()/10),
		Reliability:  100,
		Availability: 50,
		Load:         100,
	}
	if res.TotalRequests > 0 {
		s.Reliability = res.SuccessRate
		s.Load = math.Max(0, 100-float64(recent)/100)
	}
	if res.OriginalQuota > 0 {
		s.Availability = math.Min(100, res.CurrentQuota.Float64()/res.OriginalQuota.Float64()*100)
	}
	w := r.weights
	s.Total = s.Cost*w.Cost + s.Reliability*w.Reliability + s.Availability*w.Availability + s.Load*w.Load
	return s
}

func rateLimit(res *models.PooledResource) int {
	if res.MaxRequestsPerMinute == nil {
		return 0
	}
	return *res.MaxRequestsPerMinute
}

// RecordUsage settles one provider call in a single unit of work: the
// resource quota and counters, the consumer charge and the usage record
// commit together or not at all. Failed calls update counters only. Once
// committed, any contributor release is published for payout.
func (r *Router) RecordUsage(ctx context.Context, rep UsageReport) (*Settlement, error) {
	if rep.ConsumerID == "" {
		return nil, fmt.Errorf("%w: consumer id required", ErrInvalidRequest)
	}
	if rep.QuotaConsumed < 0 || rep.Charge < 0 {
		return nil, fmt.Errorf("%w: quota and charge cannot be negative", ErrInvalidRequest)
	}
	// Contributors are paid from consumed quota, so a call may never drain
	// more quota than its consumer pays for.
	if rep.Success && rep.QuotaConsumed > rep.Charge {
		return nil, fmt.Errorf("%w: quota consumed %s exceeds charge %s",
			ErrInvalidRequest, rep.QuotaConsumed, rep.Charge)
	}

	ctx = context.WithoutCancel(ctx)
	var st *Settlement
	err := r.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		st, err = r.settle(ctx, tx, rep)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Usage recorded",
		"resource_id", rep.ResourceID,
		"consumer_id", rep.ConsumerID,
		"success", rep.Success,
		"quota", st.Record.QuotaConsumed.String(),
		"charged", st.Record.CreditsCharged.String(),
	)
	r.afterCommit(ctx, st)
	return st, nil
}

func (r *Router) settle(ctx context.Context, tx storage.Tx, rep UsageReport) (*Settlement, error) {
	res, err := tx.LockResource(ctx, rep.ResourceID)
	if err != nil {
		return nil, err
	}

	consumed := rep.QuotaConsumed
	if !rep.Success {
		consumed = 0
	}
	if consumed > 0 && res.CurrentQuota == 0 {
		return nil, fmt.Errorf("%w: %s", ErrResourceDepleted, res.ID)
	}

	now := r.now()
	before := res.TotalConsumed
	taken := res.ApplyUsage(consumed, rep.Success, rep.Latency, now)

	st := &Settlement{Resource: res}
	if res.OwnerType == models.OwnerTypeUser && taken > 0 {
		st.Release, st.ReleaseFee = r.terms.ReleaseSplit(res.OriginalQuota, before, res.TotalConsumed)
		res.ReleasedCredits += st.Release
	}
	if err := tx.SaveResource(ctx, res); err != nil {
		return nil, err
	}

	reason := rep.Reason
	if reason == "" {
		reason = ReasonScored
	}
	rec := &models.UsagePoolRecord{
		ID:            uuid.New(),
		ConsumerID:    rep.ConsumerID,
		ResourceID:    res.ID,
		OwnerID:       res.OwnerID,
		Provider:      res.Provider,
		Model:         rep.Model,
		TokensIn:      rep.TokensIn,
		TokensOut:     rep.TokensOut,
		QuotaConsumed: taken,
		Released:      st.Release,
		ReleaseFee:    st.ReleaseFee,
		Success:       rep.Success,
		LatencyMS:     rep.Latency.Milliseconds(),
		Reason:        reason,
		CreatedAt:     now,
	}

	if rep.Success && rep.Charge > 0 {
		ref := "usage:" + rec.ID.String()
		txn, err := r.ledger.ApplyInTx(ctx, tx, ledger.TransactionRequest{
			AccountID:   rep.ConsumerID,
			Kind:        models.TransactionConsumption,
			Amount:      rep.Charge.Neg(),
			Description: fmt.Sprintf("Pool usage: %s %s", res.Provider, rep.Model),
			Reference:   &ref,
		})
		if err != nil {
			return nil, err
		}
		rec.CreditsCharged = rep.Charge
		rec.TransactionID = &txn.ID
		st.Transaction = txn
	}

	if err := tx.InsertUsageRecord(ctx, rec); err != nil {
		return nil, err
	}
	st.Record = rec
	return st, nil
}

func (r *Router) afterCommit(ctx context.Context, st *Settlement) {
	if r.publisher != nil && st.Release > 0 {
		err := r.publisher.Publish(ctx, releaseFor(st.Record))
		if err != nil {
			r.logger.Error("Failed to publish earn-out release",
				"usage_record_id", st.Record.ID,
				"account_id", st.Resource.OwnerID,
				"amount", st.Release.String(),
				"error", err,
			)
		}
	}
	if r.sink != nil {
		if err := r.sink.Enqueue(st.Record); err != nil {
			r.logger.Warn("Failed to archive usage record", "usage_record_id", st.Record.ID, "error", err)
		}
	}
}

func releaseFor(rec *models.UsagePoolRecord) earnout.Release {
	return earnout.Release{
		UsageRecordID: rec.ID,
		ResourceID:    rec.ResourceID,
		AccountID:     rec.OwnerID,
		Amount:        rec.Released,
		CreatedAt:     rec.CreatedAt,
	}
}

// RepublishUnpaid publishes again every release recorded before the cutoff
// that has no ledger payout yet, up to limit records. Payouts are idempotent
// per usage record, so a release still queued is paid once.
func (r *Router) RepublishUnpaid(ctx context.Context, before time.Time, limit int) (int, error) {
	if r.publisher == nil {
		return 0, nil
	}
	records, err := r.store.ListUnpaidReleases(ctx, before, limit)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range records {
		if err := r.publisher.Publish(ctx, releaseFor(rec)); err != nil {
			return n, fmt.Errorf("failed to republish release %s: %w", rec.ID, err)
		}
		n++
	}
	if n > 0 {
		r.logger.Info("Republished unpaid releases", "count", n)
	}
	return n, nil
}

// Stats aggregates routed calls since the given time. A zero since covers
// everything.
func (r *Router) Stats(ctx context.Context, since time.Time) (*models.RoutingStats, error) {
	return r.store.RoutingStats(ctx, since)
}
