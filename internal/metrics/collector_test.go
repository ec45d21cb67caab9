package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObserveAction(t *testing.T) {
	c := NewCollector("actionmesh", nil)

	c.ObserveAction("crm.create_contact", "hubspot", "success", 120*time.Millisecond)
	c.ObserveAction("crm.create_contact", "hubspot", "success", 80*time.Millisecond)
	c.ObserveAction("crm.create_contact", "hubspot", "failure", 30*time.Millisecond)

	expected := `
		# HELP actionmesh_actions_total Total number of executed actions
		# TYPE actionmesh_actions_total counter
		actionmesh_actions_total{operation="crm.create_contact",provider="hubspot",status="failure"} 1
		actionmesh_actions_total{operation="crm.create_contact",provider="hubspot",status="success"} 2
	`
	require.NoError(t, testutil.CollectAndCompare(
		c.actionsTotal, strings.NewReader(expected)))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := NewCollector("actionmesh", nil)

	c.RecordHTTPRequest("POST", "/api/v1/actions", 200, 10*time.Millisecond)
	c.RecordHTTPRequest("POST", "/api/v1/actions", 429, 2*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/actions", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/actions", "4xx")))
}

func TestCollector_WorkflowAndApproval(t *testing.T) {
	c := NewCollector("actionmesh", nil)

	c.RecordWorkflow("completed", time.Second)
	c.RecordWorkflow("failed", 500*time.Millisecond)
	c.RecordApproval("approve")
	c.RecordApproval("deny")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.workflowsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.workflowsTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.approvalsTotal.WithLabelValues("approve")))
}

func TestCollector_IndependentRegistries(t *testing.T) {
	// Two collectors must not collide on registration.
	a := NewCollector("actionmesh", nil)
	b := NewCollector("actionmesh", nil)

	a.RecordRateLimitDenied("hubspot")
	assert.Equal(t, float64(1), testutil.ToFloat64(a.rateLimitDenied.WithLabelValues("hubspot")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.rateLimitDenied.WithLabelValues("hubspot")))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "unknown", statusClass(42))
}
