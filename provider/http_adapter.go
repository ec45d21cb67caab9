package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/actionmesh/actionmesh/credential"
	"github.com/actionmesh/actionmesh/ratelimit"
	"github.com/actionmesh/actionmesh/types"
)

// HTTPAdapter bridges the adapter contract to a vendor integration exposed
// as a JSON-over-HTTP endpoint. The vendor-specific wire format lives
// behind that endpoint; this adapter only speaks the canonical invocation
// shape, which keeps the core vendor-agnostic.
type HTTPAdapter struct {
	name       string
	category   Category
	baseURL    string
	operations []string
	limits     ratelimit.BucketConfig
	client     *http.Client
}

// HTTPAdapterConfig configures one HTTP-bridged provider.
type HTTPAdapterConfig struct {
	Name       string                 `yaml:"name" json:"name"`
	Category   Category               `yaml:"category" json:"category"`
	BaseURL    string                 `yaml:"base_url" json:"base_url"`
	Operations []string               `yaml:"operations" json:"operations"`
	RateLimits ratelimit.BucketConfig `yaml:"rate_limits" json:"rate_limits"`
	Timeout    time.Duration          `yaml:"timeout" json:"timeout"`
}

// NewHTTPAdapter creates an adapter for one bridged provider endpoint.
func NewHTTPAdapter(config HTTPAdapterConfig) (*HTTPAdapter, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for provider %s", config.Name)
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		name:       config.Name,
		category:   config.Category,
		baseURL:    config.BaseURL,
		operations: config.Operations,
		limits:     config.RateLimits,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// invocationBody is the canonical request sent to the bridge endpoint.
type invocationBody struct {
	Operation     string         `json:"operation"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// invocationResponse is the canonical bridge response.
type invocationResponse struct {
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Transient bool           `json:"transient,omitempty"`
}

func (a *HTTPAdapter) ValidateCredentials(ctx context.Context, cred *credential.Credential) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/credentials/validate", nil)
	if err != nil {
		return err
	}
	a.authorize(req, cred)

	resp, err := a.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrProvider, "credential validation call failed").
			WithProvider(a.name).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return types.NewError(types.ErrAuthentication, "provider rejected credentials").
			WithProvider(a.name)
	}
	if resp.StatusCode >= 400 {
		return a.statusError(resp, "credential validation failed")
	}
	return nil
}

func (a *HTTPAdapter) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	body, err := json.Marshal(invocationBody{
		Operation:     inv.Operation,
		Parameters:    inv.Parameters,
		CorrelationID: inv.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req, inv.Credential)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrTimeout, "provider call timed out").
				WithProvider(a.name).WithRetryable(true).WithCause(err)
		}
		return nil, types.NewError(types.ErrProvider, "provider call failed").
			WithProvider(a.name).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, types.NewError(types.ErrProvider, "failed to read provider response").
			WithProvider(a.name).WithRetryable(true).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return nil, a.statusError(resp, string(data))
	}

	var out invocationResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, types.NewError(types.ErrProvider, "invalid provider response body").
			WithProvider(a.name).WithCause(err)
	}
	if out.Error != "" {
		return nil, types.NewError(types.ErrProvider, out.Error).
			WithProvider(a.name).WithRetryable(out.Transient)
	}
	return out.Result, nil
}

func (a *HTTPAdapter) SupportedOperations() []string {
	return a.operations
}

func (a *HTTPAdapter) RateLimits() ratelimit.BucketConfig {
	return a.limits
}

func (a *HTTPAdapter) authorize(req *http.Request, cred *credential.Credential) {
	if cred == nil {
		return
	}
	switch {
	case cred.AccessToken != "":
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	case cred.APIKey != "":
		req.Header.Set("X-API-Key", cred.APIKey)
	}
}

// statusError maps a bridge HTTP status to the error taxonomy.
func (a *HTTPAdapter) statusError(resp *http.Response, message string) *types.Error {
	status := resp.StatusCode
	switch {
	case status == http.StatusUnauthorized:
		return types.NewError(types.ErrAuthentication, message).WithProvider(a.name).WithHTTPStatus(status)
	case status == http.StatusForbidden:
		return types.NewError(types.ErrPermission, message).WithProvider(a.name).WithHTTPStatus(status)
	case status == http.StatusNotFound:
		return types.NewError(types.ErrNotFound, message).WithProvider(a.name).WithHTTPStatus(status)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, message).
			WithProvider(a.name).WithHTTPStatus(status).
			WithRetryable(true).WithRetryAfter(retryAfterHint(resp.Header))
	case status >= 500:
		return types.NewError(types.ErrProvider, message).
			WithProvider(a.name).WithHTTPStatus(status).WithRetryable(true)
	default:
		return types.NewError(types.ErrValidation, message).WithProvider(a.name).WithHTTPStatus(status)
	}
}

// retryAfterHint parses the Retry-After header, accepting both the seconds
// and the HTTP-date forms. Missing or unusable values fall back to one
// second.
func retryAfterHint(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return time.Second
}

var _ Adapter = (*HTTPAdapter)(nil)
