package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/actionmesh/actionmesh/types"
	"github.com/google/uuid"
)

// MaxIdempotencyKeyLength is the maximum accepted idempotency key length.
const MaxIdempotencyKeyLength = 255

// MaxAttemptsLimit bounds the caller-supplied retry budget.
const MaxAttemptsLimit = 10

// operationPattern matches dot-namespaced operations such as
// "crm.contact.create". Segments are lowercase alphanumerics/underscores.
var operationPattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)+$`)

// Codec validates inbound requests against the registered operation set and
// produces the canonical pending envelope. It has no side effects.
type Codec struct {
	operations map[string]struct{}
	mu         sync.RWMutex
}

// NewCodec creates a codec with the given registered operations.
func NewCodec(operations ...string) *Codec {
	c := &Codec{operations: make(map[string]struct{}, len(operations))}
	c.RegisterOperations(operations...)
	return c
}

// RegisterOperations adds operations to the accepted set. Registration
// happens during startup, before any request is accepted.
func (c *Codec) RegisterOperations(operations ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, op := range operations {
		c.operations[op] = struct{}{}
	}
}

// Operations returns the registered operation set, sorted.
func (c *Codec) Operations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ops := make([]string, 0, len(c.operations))
	for op := range c.operations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Validate checks an inbound request. It returns a VALIDATION error for bad
// input and a NOT_FOUND error for unregistered operations.
func (c *Codec) Validate(req *ActionRequest) error {
	if req == nil {
		return types.NewError(types.ErrValidation, "request is nil")
	}
	if req.TenantID == "" {
		return types.NewError(types.ErrValidation, "tenant_id is required")
	}
	if req.Operation == "" {
		return types.NewError(types.ErrValidation, "operation is required")
	}
	if !operationPattern.MatchString(req.Operation) {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("operation %q is not dot-namespaced", req.Operation))
	}
	if req.Provider == "" {
		return types.NewError(types.ErrValidation, "provider is required")
	}
	if len(req.IdempotencyKey) > MaxIdempotencyKeyLength {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("idempotency_key exceeds %d characters", MaxIdempotencyKeyLength))
	}
	if req.MaxAttempts < 0 || req.MaxAttempts > MaxAttemptsLimit {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("max_attempts must be between 0 and %d", MaxAttemptsLimit))
	}
	if req.Timeout < 0 {
		return types.NewError(types.ErrValidation, "timeout cannot be negative")
	}

	c.mu.RLock()
	_, registered := c.operations[req.Operation]
	c.mu.RUnlock()
	if !registered {
		return types.NewError(types.ErrNotFound,
			fmt.Sprintf("operation %q is not registered", req.Operation)).
			WithHTTPStatus(404)
	}
	return nil
}

// NewEnvelope validates the request and returns the canonical pending
// envelope with a generated action ID and a UTC timestamp.
func (c *Codec) NewEnvelope(req *ActionRequest) (*ActionEnvelope, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	return &ActionEnvelope{
		ActionID:       uuid.New().String(),
		TenantID:       req.TenantID,
		CorrelationID:  req.CorrelationID,
		Operation:      req.Operation,
		Provider:       req.Provider,
		Status:         StatusPending,
		IdempotencyKey: req.IdempotencyKey,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// HashParameters returns a stable hash of the request parameters, used to
// detect idempotency keys reused with different payloads. Map keys are
// serialized in sorted order so the hash is deterministic.
func HashParameters(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		v, _ := json.Marshal(params[k])
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(v)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
