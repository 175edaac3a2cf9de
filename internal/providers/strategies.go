package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"credit_pool/internal/models"
)

const (
	defaultCheckTimeout = 30 * time.Second
	checkPrompt         = "Hi"
	checkMaxTokens      = 5

	openAIDefaultEndpoint    = "https://api.openai.com/v1/chat/completions"
	anthropicDefaultEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion         = "2023-06-01"
	cloudflareRunURL         = "https://api.cloudflare.com/client/v4/accounts/%s/ai/run/%s"
)

// chatStrategy checks providers that accept a chat completion payload.
type chatStrategy struct {
	kind         models.ProviderKind
	endpoint     string
	defaultModel string
	estimate     models.Credits
	timeout      time.Duration
	auth         HeaderAuth
	extraHeaders map[string]string
}

func (s *chatStrategy) Kind() models.ProviderKind      { return s.kind }
func (s *chatStrategy) EstimatedQuota() models.Credits { return s.estimate }
func (s *chatStrategy) Timeout() time.Duration         { return s.timeout }

func (s *chatStrategy) CheckRequest(credential, model, endpoint string) (*Request, error) {
	if model == "" {
		model = s.defaultModel
	}
	if endpoint == "" {
		endpoint = s.endpoint
	}

	body, err := json.Marshal(map[string]any{
		"model":      model,
		"messages":   []map[string]string{{"role": "user", "content": checkPrompt}},
		"max_tokens": checkMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal check request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	for k, v := range s.extraHeaders {
		headers.Set(k, v)
	}
	if err := s.auth.Apply(headers, credential); err != nil {
		return nil, err
	}

	return &Request{Method: http.MethodPost, URL: endpoint, Headers: headers, Body: body}, nil
}

// cloudflareStrategy checks Workers AI. Credentials are "account_id:token";
// a configured endpoint replaces the account-specific URL.
type cloudflareStrategy struct {
	endpoint     string
	defaultModel string
	estimate     models.Credits
	timeout      time.Duration
}

func (s *cloudflareStrategy) Kind() models.ProviderKind      { return models.ProviderCloudflare }
func (s *cloudflareStrategy) EstimatedQuota() models.Credits { return s.estimate }
func (s *cloudflareStrategy) Timeout() time.Duration         { return s.timeout }

func (s *cloudflareStrategy) CheckRequest(credential, model, endpoint string) (*Request, error) {
	if model == "" {
		model = s.defaultModel
	}
	if endpoint == "" {
		endpoint = s.endpoint
	}

	token := credential
	if account, rest, ok := strings.Cut(credential, ":"); ok {
		token = rest
		if endpoint == "" {
			endpoint = fmt.Sprintf(cloudflareRunURL, account, model)
		}
	}
	if endpoint == "" {
		return nil, fmt.Errorf("cloudflare credential must be account_id:token when no endpoint is given")
	}

	body, err := json.Marshal(map[string]any{
		"messages":   []map[string]string{{"role": "user", "content": checkPrompt}},
		"max_tokens": checkMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal check request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if err := BearerAuth().Apply(headers, token); err != nil {
		return nil, err
	}
	return &Request{Method: http.MethodPost, URL: endpoint, Headers: headers, Body: body}, nil
}

// genericStrategy checks an arbitrary OpenAI-compatible base URL with a GET.
type genericStrategy struct {
	endpoint string
	estimate models.Credits
	timeout  time.Duration
}

func (s *genericStrategy) Kind() models.ProviderKind      { return models.ProviderGeneric }
func (s *genericStrategy) EstimatedQuota() models.Credits { return s.estimate }
func (s *genericStrategy) Timeout() time.Duration         { return s.timeout }

func (s *genericStrategy) CheckRequest(credential, _, endpoint string) (*Request, error) {
	if endpoint == "" {
		endpoint = s.endpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("base URL required for generic provider")
	}

	headers := http.Header{}
	if err := BearerAuth().Apply(headers, credential); err != nil {
		return nil, err
	}
	return &Request{Method: http.MethodGet, URL: endpoint, Headers: headers}, nil
}

func newStrategy(kind models.ProviderKind, settings Settings) Strategy {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	estimate := func(def int64) models.Credits {
		if settings.EstimatedQuota > 0 {
			return models.CreditsFromFloat(settings.EstimatedQuota)
		}
		return models.WholeCredits(def)
	}
	orDefault := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}

	switch kind {
	case models.ProviderOpenAI:
		return &chatStrategy{
			kind:         kind,
			endpoint:     orDefault(settings.Endpoint, openAIDefaultEndpoint),
			defaultModel: orDefault(settings.DefaultModel, "gpt-3.5-turbo"),
			estimate:     estimate(100),
			timeout:      timeout,
			auth:         BearerAuth(),
		}
	case models.ProviderAnthropic:
		return &chatStrategy{
			kind:         kind,
			endpoint:     orDefault(settings.Endpoint, anthropicDefaultEndpoint),
			defaultModel: orDefault(settings.DefaultModel, "claude-3-haiku-20240307"),
			estimate:     estimate(100),
			timeout:      timeout,
			auth:         APIKeyHeaderAuth("x-api-key"),
			extraHeaders: map[string]string{"anthropic-version": anthropicVersion},
		}
	case models.ProviderCloudflare:
		return &cloudflareStrategy{
			endpoint:     settings.Endpoint,
			defaultModel: orDefault(settings.DefaultModel, "@cf/meta/llama-3.1-8b-instruct"),
			estimate:     estimate(50),
			timeout:      timeout,
		}
	default:
		return &genericStrategy{
			endpoint: settings.Endpoint,
			estimate: estimate(50),
			timeout:  timeout,
		}
	}
}
