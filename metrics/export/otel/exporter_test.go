package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/deskauth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot deskauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() deskauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := deskauth.MetricsSnapshot{
		Counters:   make(map[deskauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[deskauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// sumValue finds a monotonic sum by name in rm.
func sumValue(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) == 1 {
				return sum.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func gaugeValue(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) == 1 {
				return g.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func TestExporterCollectsSnapshot(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: deskauth.MetricsSnapshot{
			Counters: map[deskauth.MetricID]uint64{
				deskauth.MetricLoginLocked: 3,
			},
			Histograms: map[deskauth.MetricID][]uint64{
				deskauth.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := New(provider.Meter("deskauth-test"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if v, ok := sumValue(rm, "deskauth_login_locked_total"); !ok || v != 3 {
		t.Fatalf("login_locked: got %d, %v", v, ok)
	}
	if v, ok := sumValue(rm, "deskauth_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("audit_dropped: got %d, %v", v, ok)
	}
	if v, ok := gaugeValue(rm, "deskauth_validate_latency_seconds_bucket_le_inf"); !ok || v != 8 {
		t.Fatalf("+Inf bucket: got %d, %v", v, ok)
	}
	if v, ok := gaugeValue(rm, "deskauth_validate_latency_seconds_bucket_le_0_01"); !ok || v != 2 {
		t.Fatalf("0.01 bucket: got %d, %v", v, ok)
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()

	if _, err := New(provider.Meter("deskauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := New(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: deskauth.MetricsSnapshot{
			Counters:   map[deskauth.MetricID]uint64{deskauth.MetricLoginSuccess: 1},
			Histograms: map[deskauth.MetricID][]uint64{},
		},
	}

	exp, err := New(provider.Meter("deskauth-test"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = exp.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[deskauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
