package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"credit_pool/internal/models"
)

// Request is a single provider call described independently of any HTTP client.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is the normalized result of a provider call.
type Response struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration
	TokensIn   int
	TokensOut  int
}

// Success reports whether the provider answered with a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Invoker performs provider calls. It is the only path from the core to a
// real inference provider; transport failures are returned as errors.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// Settings overrides a strategy's defaults from configuration.
type Settings struct {
	Endpoint       string        `yaml:"endpoint"`
	DefaultModel   string        `yaml:"default_model"`
	EstimatedQuota float64       `yaml:"estimated_quota"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Strategy holds everything provider specific about probing a credential.
type Strategy interface {
	// Kind returns the provider kind this strategy serves.
	Kind() models.ProviderKind

	// CheckRequest builds the cheapest request that proves a credential works.
	// Empty model and endpoint select the strategy defaults.
	CheckRequest(credential, model, endpoint string) (*Request, error)

	// EstimatedQuota is the conservative quota, in Credits, assumed for a
	// credential that passed the check.
	EstimatedQuota() models.Credits

	// Timeout bounds a single check.
	Timeout() time.Duration
}

// Registry maps each provider kind to its strategy. It is built once at
// startup from configuration.
type Registry struct {
	strategies map[models.ProviderKind]Strategy
}

// NewRegistry builds the registry of every supported kind, applying overrides.
func NewRegistry(settings map[models.ProviderKind]Settings) *Registry {
	r := &Registry{strategies: make(map[models.ProviderKind]Strategy, len(models.AllProviderKinds))}
	for _, kind := range models.AllProviderKinds {
		r.strategies[kind] = newStrategy(kind, settings[kind])
	}
	return r
}

// Get returns the strategy for kind.
func (r *Registry) Get(kind models.ProviderKind) (Strategy, error) {
	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for provider %q", kind)
	}
	return s, nil
}

// Register replaces the strategy for its kind.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Kind()] = s
}

// Kinds lists the registered provider kinds in a stable order.
func (r *Registry) Kinds() []models.ProviderKind {
	kinds := make([]models.ProviderKind, 0, len(r.strategies))
	for k := range r.strategies {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
