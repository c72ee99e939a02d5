package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gatherFamily は指定名のメトリクスファミリーを返す。
func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordDealIngested_SplitsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDealIngested(true)
	c.RecordDealIngested(false)
	c.RecordDealIngested(false)

	mf := gatherFamily(t, reg, "dealmoa_deals_ingested_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "result")] = m.GetCounter().GetValue()
	}
	if got["created"] != 1 || got["updated"] != 2 {
		t.Errorf("deals_ingested = %v, want created=1 updated=2", got)
	}
}

func TestRecordNotification_ByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordNotification(OutcomeSent)
	c.RecordNotification(OutcomeSent)
	c.RecordNotification(OutcomeDuplicate)

	mf := gatherFamily(t, reg, "dealmoa_notifications_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "outcome")] = m.GetCounter().GetValue()
	}
	if got[OutcomeSent] != 2 || got[OutcomeDuplicate] != 1 {
		t.Errorf("notifications = %v", got)
	}
}

func TestRecordCollectRun_Labels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCollectRun("ppomppu", "success")

	mf := gatherFamily(t, reg, "dealmoa_collect_runs_total")
	if len(mf.GetMetric()) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(mf.GetMetric()))
	}
	m := mf.GetMetric()[0]
	if labelValue(m, "source") != "ppomppu" || labelValue(m, "status") != "success" {
		t.Errorf("labels = %v", m.GetLabel())
	}
}

func TestRecordPushLatency_Observes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPushLatency(150 * time.Millisecond)

	mf := gatherFamily(t, reg, "dealmoa_push_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() < 0.149 || h.GetSampleSum() > 0.151 {
		t.Errorf("sample sum = %v, want 0.15", h.GetSampleSum())
	}
}

func TestRecordSweepRun_CountsRunsAndProcessed(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSweepRun(3)
	c.RecordSweepRun(0)

	if v := gatherFamily(t, reg, "dealmoa_sweep_runs_total").GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("sweep_runs = %v, want 2", v)
	}
	if v := gatherFamily(t, reg, "dealmoa_sweep_processed_total").GetMetric()[0].GetCounter().GetValue(); v != 3 {
		t.Errorf("sweep_processed = %v, want 3", v)
	}
}

func TestCounters_Accumulate(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordKeywordsExtracted(12)
	c.RecordMatches(4)
	c.RecordHotScoresRecomputed(250)

	tests := []struct {
		name string
		want float64
	}{
		{"dealmoa_keywords_extracted_total", 12},
		{"dealmoa_matches_total", 4},
		{"dealmoa_hot_scores_recomputed_total", 250},
	}
	for _, tt := range tests {
		v := gatherFamily(t, reg, tt.name).GetMetric()[0].GetCounter().GetValue()
		if v != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, v, tt.want)
		}
	}
}
