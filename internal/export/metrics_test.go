package export

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMetricsRegisterAndCount(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.IncClaims()
	m.IncClaims()
	m.IncCompleted(string(TypeProofPack))
	m.IncFailed(string(TypeProofPack), CodeMissingEvidence)
	m.IncRetries()
	m.ObserveArtifactBytes(2048)

	claims := gatherMetric(t, reg, MetricClaims)
	if claims == nil {
		t.Fatalf("metric %s not gathered", MetricClaims)
	}
	if got := claims.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("expected 2 claims, got %g", got)
	}

	failed := gatherMetric(t, reg, MetricFailed)
	if failed == nil {
		t.Fatalf("metric %s not gathered", MetricFailed)
	}
	labels := failed.GetMetric()[0].GetLabel()
	found := false
	for _, label := range labels {
		if label.GetName() == "error_code" && label.GetValue() == CodeMissingEvidence {
			found = true
		}
	}
	if !found {
		t.Errorf("expected error_code label %s, got %v", CodeMissingEvidence, labels)
	}

	bytes := gatherMetric(t, reg, MetricArtifactBytes)
	if bytes == nil {
		t.Fatalf("metric %s not gathered", MetricArtifactBytes)
	}
	if got := bytes.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("expected 1 artifact size sample, got %d", got)
	}
}

func TestMetricsRegisterTwiceFails(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
