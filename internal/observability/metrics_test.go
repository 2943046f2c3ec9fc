package observability

import (
	"testing"
	"time"

	"github.com/danmuck/pulsewire/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("controller-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordHandshake(RoleAgent, "configuration_received", 3*time.Millisecond)
	ControlConnectionOpened()
	ControlConnectionClosed()
}

func TestRecordMessageCountsByKind(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(messages.WithLabelValues(DirectionSent, "heartbeat"))
	RecordMessage(DirectionSent, "heartbeat")
	RecordMessage(DirectionSent, "heartbeat")
	after := testutil.ToFloat64(messages.WithLabelValues(DirectionSent, "heartbeat"))
	if after-before != 2 {
		t.Fatalf("expected 2 increments, got %v", after-before)
	}
}
