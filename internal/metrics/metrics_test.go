package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCheck(t *testing.T) {
	m := NewNop()
	m.RecordCheck(true, 0.01)
	m.RecordCheck(false, 0.02)
	m.RecordCheck(true, 0.03)

	if got := testutil.ToFloat64(m.ChecksTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("success checks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ChecksTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error checks = %v, want 1", got)
	}
}

func TestRecordRecovery(t *testing.T) {
	m := NewNop()
	m.RecordRecovery(true, "")
	m.RecordRecovery(false, "stale")

	if got := testutil.ToFloat64(m.RecoveryDecisions.WithLabelValues("approve")); got != 1 {
		t.Errorf("approve = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RecoveryDecisions.WithLabelValues("refuse_stale")); got != 1 {
		t.Errorf("refuse_stale = %v, want 1", got)
	}
}

func TestRecordNotification(t *testing.T) {
	m := NewNop()
	m.RecordNotification("whatsapp", nil)
	m.RecordNotification("whatsapp", errors.New("boom"))

	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("whatsapp", "sent")); got != 1 {
		t.Errorf("sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("whatsapp", "failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestNewRegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ActiveMonitors.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "pilllens_active_monitors" {
			found = true
		}
	}
	if !found {
		t.Error("active monitors gauge not registered")
	}
}
