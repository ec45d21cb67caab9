package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/actionmesh/actionmesh/credential"
	"github.com/actionmesh/actionmesh/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridge(t *testing.T, handler http.HandlerFunc) *HTTPAdapter {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{
		Name:       "hubspot",
		Category:   CategoryCRM,
		BaseURL:    srv.URL,
		Operations: []string{"crm.create_contact"},
	})
	require.NoError(t, err)
	return adapter
}

func TestHTTPAdapter_Execute(t *testing.T) {
	var gotAuth string
	adapter := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var body invocationBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "crm.create_contact", body.Operation)
		assert.Equal(t, "corr-1", body.CorrelationID)

		json.NewEncoder(w).Encode(invocationResponse{
			Result: map[string]any{"contact_id": "c-42"},
		})
	})

	result, err := adapter.Execute(context.Background(), Invocation{
		Operation:     "crm.create_contact",
		Parameters:    map[string]any{"email": "a@b.c"},
		Credential:    &credential.Credential{AccessToken: "tok"},
		CorrelationID: "corr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "c-42", result["contact_id"])
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestHTTPAdapter_BridgeError(t *testing.T) {
	adapter := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(invocationResponse{
			Error:     "upstream unavailable",
			Transient: true,
		})
	})

	_, err := adapter.Execute(context.Background(), Invocation{Operation: "crm.create_contact"})
	require.Error(t, err)
	assert.Equal(t, types.ErrProvider, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPAdapter_StatusMapping(t *testing.T) {
	cases := []struct {
		status    int
		code      types.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, types.ErrAuthentication, false},
		{http.StatusForbidden, types.ErrPermission, false},
		{http.StatusNotFound, types.ErrNotFound, false},
		{http.StatusTooManyRequests, types.ErrRateLimited, true},
		{http.StatusBadGateway, types.ErrProvider, true},
		{http.StatusBadRequest, types.ErrValidation, false},
	}

	for _, tc := range cases {
		adapter := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})

		_, err := adapter.Execute(context.Background(), Invocation{Operation: "crm.create_contact"})
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.code, types.GetErrorCode(err), "status %d", tc.status)
		assert.Equal(t, tc.retryable, types.IsRetryable(err), "status %d", tc.status)
	}
}

func TestHTTPAdapter_RetryAfterHeader(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"seconds", "7", 7 * time.Second},
		{"missing", "", time.Second},
		{"garbage", "soon", time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			})

			_, err := adapter.Execute(context.Background(), Invocation{Operation: "crm.create_contact"})
			require.Error(t, err)
			structured, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, types.ErrRateLimited, structured.Code)
			assert.Equal(t, tc.want, structured.RetryAfter)
		})
	}
}

func TestRetryAfterHint_HTTPDate(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", time.Now().Add(30*time.Second).UTC().Format(http.TimeFormat))

	hint := retryAfterHint(header)
	assert.Greater(t, hint, 25*time.Second)
	assert.LessOrEqual(t, hint, 30*time.Second)
}

func TestHTTPAdapter_Timeout(t *testing.T) {
	adapter := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := adapter.Execute(ctx, Invocation{Operation: "crm.create_contact"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

func TestHTTPAdapter_ValidateCredentials(t *testing.T) {
	adapter := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	err := adapter.ValidateCredentials(context.Background(), &credential.Credential{APIKey: "good"})
	require.NoError(t, err)

	err = adapter.ValidateCredentials(context.Background(), &credential.Credential{APIKey: "bad"})
	require.Error(t, err)
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))
}

func TestNewHTTPAdapter_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPAdapter(HTTPAdapterConfig{Name: "hubspot"})
	require.Error(t, err)
}
