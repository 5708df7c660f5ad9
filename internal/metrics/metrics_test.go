package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.AuthAttempt("login", true)
	c.AuthAttempt("login", false)
	c.AuthAttempt("register", true)
	c.FrameHandled("LGIN")
	c.FrameHandled("LGIN")
	c.FrameHandled("FTRP")
	c.TransferRequested()
	c.TransferAccepted()
	c.TransferDenied()

	if got := testutil.ToFloat64(c.connectionsTotal); got != 2 {
		t.Errorf("connections_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.connectionsActive); got != 1 {
		t.Errorf("connections_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.authAttemptsTotal.WithLabelValues("login", "success")); got != 1 {
		t.Errorf("auth success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.authAttemptsTotal.WithLabelValues("login", "failure")); got != 1 {
		t.Errorf("auth failure = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.framesTotal.WithLabelValues("LGIN")); got != 2 {
		t.Errorf("frames LGIN = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.transfersRequestedTotal); got != 1 {
		t.Errorf("transfers_requested = %v, want 1", got)
	}
}

func TestCollectorInterfaces(t *testing.T) {
	var _ Collector = &NoopCollector{}
	var _ Collector = &PrometheusCollector{}
}

func TestDoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusCollector(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewPrometheusCollector(reg)
}
