package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues("sqlite", "insert", "error"))

	ObserveOperation("sqlite", "insert", time.Now(), errors.New("boom"))
	ObserveOperation("sqlite", "insert", time.Now(), nil)

	assert.Equal(t, before+1, testutil.ToFloat64(OperationsTotal.WithLabelValues("sqlite", "insert", "error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(OperationsTotal.WithLabelValues("sqlite", "insert", "ok")), 1.0)
	assert.Positive(t, testutil.CollectAndCount(OperationDuration))
}

func TestSetHybridState(t *testing.T) {
	all := []string{"primary_only", "hybrid_active", "primary_degraded"}

	SetHybridState("primary_degraded", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(HybridState.WithLabelValues("primary_degraded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(HybridState.WithLabelValues("hybrid_active")))

	SetHybridState("hybrid_active", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(HybridState.WithLabelValues("primary_degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(HybridState.WithLabelValues("hybrid_active")))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "error", Outcome(errors.New("x")))
}
