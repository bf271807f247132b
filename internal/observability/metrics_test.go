package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordJobFinished(t *testing.T) {
	const q = "test.queue"

	RecordJobStarted(q)
	if got := testutil.ToFloat64(DefaultMetrics.JobsInFlight.WithLabelValues(q)); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}

	RecordJobFinished(q, 10*time.Millisecond, nil)
	RecordJobStarted(q)
	RecordJobFinished(q, 10*time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(DefaultMetrics.JobsInFlight.WithLabelValues(q)); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(DefaultMetrics.JobsProcessed.WithLabelValues(q)); got != 1 {
		t.Errorf("processed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DefaultMetrics.JobsFailed.WithLabelValues(q)); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestRecordRPCCall(t *testing.T) {
	RecordRPCCall("testMethod", time.Millisecond, nil)
	RecordRPCCall("testMethod", time.Millisecond, errors.New("timeout"))

	if got := testutil.ToFloat64(DefaultMetrics.RPCCallErrors.WithLabelValues("testMethod")); got != 1 {
		t.Errorf("rpc errors = %v, want 1", got)
	}
}

func TestRecordAggregatorTick(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.AggregatorDispatches)
	RecordAggregatorTick(3, 1)
	if got := testutil.ToFloat64(DefaultMetrics.AggregatorDispatches) - before; got != 3 {
		t.Errorf("dispatches delta = %v, want 3", got)
	}
}
