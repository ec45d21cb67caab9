package envelope

import (
	"testing"
	"time"

	"github.com/actionmesh/actionmesh/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec() *Codec {
	return NewCodec("crm.contact.create", "crm.contact.update", "email.message.send")
}

func validRequest() *ActionRequest {
	return &ActionRequest{
		TenantID:      "t1",
		CorrelationID: "corr-1",
		Operation:     "crm.contact.create",
		Provider:      "hubspot",
		Parameters:    map[string]any{"email": "a@b.com"},
	}
}

func TestCodec_Validate(t *testing.T) {
	codec := newTestCodec()

	tests := []struct {
		name     string
		mutate   func(r *ActionRequest)
		wantCode types.ErrorCode
	}{
		{"valid", func(r *ActionRequest) {}, ""},
		{"missing tenant", func(r *ActionRequest) { r.TenantID = "" }, types.ErrValidation},
		{"missing operation", func(r *ActionRequest) { r.Operation = "" }, types.ErrValidation},
		{"not namespaced", func(r *ActionRequest) { r.Operation = "create" }, types.ErrValidation},
		{"missing provider", func(r *ActionRequest) { r.Provider = "" }, types.ErrValidation},
		{"unregistered operation", func(r *ActionRequest) { r.Operation = "crm.contact.delete" }, types.ErrNotFound},
		{"oversized idempotency key", func(r *ActionRequest) {
			key := make([]byte, MaxIdempotencyKeyLength+1)
			for i := range key {
				key[i] = 'k'
			}
			r.IdempotencyKey = string(key)
		}, types.ErrValidation},
		{"excessive max attempts", func(r *ActionRequest) { r.MaxAttempts = MaxAttemptsLimit + 1 }, types.ErrValidation},
		{"negative max attempts", func(r *ActionRequest) { r.MaxAttempts = -1 }, types.ErrValidation},
		{"negative timeout", func(r *ActionRequest) { r.Timeout = -time.Second }, types.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			err := codec.Validate(req)
			if tt.wantCode == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			}
		})
	}
}

func TestCodec_NewEnvelope(t *testing.T) {
	codec := newTestCodec()

	env, err := codec.NewEnvelope(validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, env.ActionID)
	assert.Equal(t, "t1", env.TenantID)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.Equal(t, StatusPending, env.Status)
	assert.False(t, env.Terminal())

	// Timestamps are normalized to UTC.
	assert.Equal(t, time.UTC, env.Timestamp.Location())

	// Two envelopes never share an action ID.
	env2, err := codec.NewEnvelope(validRequest())
	require.NoError(t, err)
	assert.NotEqual(t, env.ActionID, env2.ActionID)
}

func TestEnvelope_Transitions(t *testing.T) {
	codec := newTestCodec()
	env, err := codec.NewEnvelope(validRequest())
	require.NoError(t, err)

	env.Succeed(map[string]any{"id": "c-1"}, 125*time.Millisecond)
	assert.Equal(t, StatusSuccess, env.Status)
	assert.True(t, env.Terminal())
	assert.EqualValues(t, 125, env.DurationMS)
	assert.Nil(t, env.Error)

	env2, _ := codec.NewEnvelope(validRequest())
	env2.Fail(types.NewError(types.ErrTimeout, "deadline exceeded").WithRetryable(true), time.Second)
	assert.Equal(t, StatusFailure, env2.Status)
	require.NotNil(t, env2.Error)
	assert.Equal(t, types.ErrTimeout, env2.Error.Code)
	assert.True(t, env2.Error.Retryable)
}

func TestHashParameters(t *testing.T) {
	a := HashParameters(map[string]any{"x": 1, "y": "z"})
	b := HashParameters(map[string]any{"y": "z", "x": 1})
	assert.Equal(t, a, b, "hash must be order independent")

	c := HashParameters(map[string]any{"x": 2, "y": "z"})
	assert.NotEqual(t, a, c)

	assert.Empty(t, HashParameters(nil))
}
