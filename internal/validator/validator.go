package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"credit_pool/internal/models"
	"credit_pool/internal/providers"
	"credit_pool/internal/utils"
)

// maxDetailLen bounds how much of a provider error body is kept as detail.
const maxDetailLen = 200

// Result is the classified outcome of probing one credential.
type Result struct {
	Outcome        models.ValidationOutcome `json:"outcome"`
	EstimatedQuota *models.Credits          `json:"estimated_quota,omitempty"`
	Detail         string                   `json:"detail,omitempty"`
	StatusCode     int                      `json:"status_code,omitempty"`
	Latency        time.Duration            `json:"latency"`
}

// Valid reports whether the credential passed the check.
func (r Result) Valid() bool {
	return r.Outcome == models.OutcomeValid
}

// Validator checks contributed credentials with one minimal live call.
type Validator struct {
	registry *providers.Registry
	invoker  providers.Invoker
	logger   *utils.Logger
}

// New creates a Validator.
func New(registry *providers.Registry, invoker providers.Invoker) *Validator {
	return &Validator{
		registry: registry,
		invoker:  invoker,
		logger:   utils.NewLogger("validator"),
	}
}

// Validate checks credential against kind. Every failure is reported as an
// outcome; Validate never returns an error and never panics on bad input.
func (v *Validator) Validate(ctx context.Context, kind models.ProviderKind, credential, modelHint, endpointHint string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("Validator panic recovered", "provider", kind, "panic", r)
			res = Result{Outcome: models.OutcomeUnknownError, Detail: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	strategy, err := v.registry.Get(kind)
	if err != nil {
		return Result{Outcome: models.OutcomeUnknownError, Detail: err.Error()}
	}

	req, err := strategy.CheckRequest(strings.TrimSpace(credential), modelHint, endpointHint)
	if err != nil {
		return Result{Outcome: models.OutcomeUnknownError, Detail: err.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, strategy.Timeout())
	defer cancel()

	start := time.Now()
	resp, err := v.invoker.Invoke(checkCtx, req)
	if err != nil {
		res = Result{Outcome: models.OutcomeNetworkError, Detail: networkDetail(err), Latency: time.Since(start)}
		v.logger.Warn("Credential check failed", "provider", kind, "error", err)
		return res
	}

	res = Classify(resp.StatusCode, resp.Body, strategy.EstimatedQuota())
	res.Latency = resp.Latency
	v.logger.Info("Credential checked", "provider", kind, "outcome", res.Outcome, "status", resp.StatusCode)
	return res
}

// Classify maps a provider HTTP reply onto a validation outcome.
func Classify(status int, body []byte, estimate models.Credits) Result {
	res := Result{StatusCode: status}

	switch {
	case status >= 200 && status < 300:
		q := estimate
		res.Outcome = models.OutcomeValid
		res.EstimatedQuota = &q
	case status == 401:
		res.Outcome = models.OutcomeInvalid
		res.Detail = "Invalid API key"
	case status == 429:
		msg := errorMessage(body)
		if msg == "" {
			msg = "Rate limited or quota exhausted"
		}
		lower := strings.ToLower(string(body))
		if strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient") {
			zero := models.Credits(0)
			res.Outcome = models.OutcomeQuotaExhausted
			res.EstimatedQuota = &zero
		} else {
			res.Outcome = models.OutcomeRateLimited
		}
		res.Detail = msg
	default:
		res.Outcome = models.OutcomeUnknownError
		res.Detail = fmt.Sprintf("HTTP %d: %s", status, truncate(string(body), maxDetailLen))
	}
	return res
}

// errorMessage pulls error.message (or a plain error string) out of a body.
func errorMessage(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	return truncate(string(body), maxDetailLen)
}

func networkDetail(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "Request timeout"
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
