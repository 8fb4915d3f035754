package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if NewCollector(reg) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordOutcome_CountsPerOperationAndOutcome は操作・結果別にカウントされることを検証する。
func TestRecordOutcome_CountsPerOperationAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOutcome("update vehicle", "ok")
	c.RecordOutcome("update vehicle", "ok")
	c.RecordOutcome("update vehicle", "auth_denied")

	ok := findMetric(t, reg, "fleetadmin_gateway_requests_total", map[string]string{"operation": "update vehicle", "outcome": "ok"})
	if v := ok.GetCounter().GetValue(); v != 2 {
		t.Errorf("ok = %v, want 2", v)
	}
	denied := findMetric(t, reg, "fleetadmin_gateway_requests_total", map[string]string{"outcome": "auth_denied"})
	if v := denied.GetCounter().GetValue(); v != 1 {
		t.Errorf("auth_denied = %v, want 1", v)
	}
}

// TestRecordBackendStatus_IncrementsCounterWithLabel はステータスコード別に記録されることを検証する。
func TestRecordBackendStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBackendStatus(200)
	c.RecordBackendStatus(401)
	c.RecordBackendStatus(200)

	m := findMetric(t, reg, "fleetadmin_backend_http_status_total", map[string]string{"status_code": "200"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("status 200 = %v, want 2", v)
	}
}

// TestRecordBackendLatency_ObservesHistogram はヒストグラムに値が記録されることを検証する。
func TestRecordBackendLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBackendLatency(100 * time.Millisecond)
	c.RecordBackendLatency(2 * time.Second)

	h := findMetric(t, reg, "fleetadmin_backend_latency_seconds", nil).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

func TestRecordSessionTransition_AndSignIn(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionTransition("authenticated", "anonymous", "expired by backend")
	c.RecordSignIn("success")
	c.RecordSignIn("rejected")
	c.RecordSignIn("rejected")

	tr := findMetric(t, reg, "fleetadmin_session_transitions_total", map[string]string{"reason": "expired by backend"})
	if v := tr.GetCounter().GetValue(); v != 1 {
		t.Errorf("transitions = %v, want 1", v)
	}
	rej := findMetric(t, reg, "fleetadmin_sign_in_total", map[string]string{"result": "rejected"})
	if v := rej.GetCounter().GetValue(); v != 2 {
		t.Errorf("rejected = %v, want 2", v)
	}
}

func TestRecordCleanupDeleted_Accumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCleanupDeleted(10)
	c.RecordCleanupDeleted(5)

	m := findMetric(t, reg, "fleetadmin_cleanup_deleted_total", nil)
	if v := m.GetCounter().GetValue(); v != 15 {
		t.Errorf("cleanup_deleted_total = %v, want 15", v)
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordSignIn("success")
	c2.RecordSignIn("success")
	c2.RecordSignIn("success")

	v1 := findMetric(t, reg1, "fleetadmin_sign_in_total", nil).GetCounter().GetValue()
	v2 := findMetric(t, reg2, "fleetadmin_sign_in_total", nil).GetCounter().GetValue()
	if v1 != 1 || v2 != 2 {
		t.Errorf("values = %v/%v, want 1/2", v1, v2)
	}
}
