package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	outstanding := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "settlement_outstanding_payout_balance",
		Help:        "test",
		ConstLabels: prometheus.Labels{"service": "settlement"},
	})
	outstanding.Set(950)
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_scheduler_job_runs_total",
		Help: "test",
	}, []string{"job"})
	runs.WithLabelValues("auto_settlement").Add(2)
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "settlement_scheduler_job_duration_seconds",
		Help: "test",
	})
	latency.Observe(1)
	unrelated := prometheus.NewGauge(prometheus.GaugeOpts{Name: "go_unrelated", Help: "test"})
	unrelated.Set(1)
	registry.MustRegister(outstanding, runs, latency, unrelated)
	return registry
}

func TestRemoteWritePusherSendsSettlementSeries(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		request prompb.WriteRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		require.NoError(t, request.Unmarshal(decoded))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pusher := NewRemoteWritePusher(srv.URL, " secret ")
	require.NoError(t, pusher.Push(context.Background(), testRegistry(t)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))

	values := map[string]float64{}
	for _, series := range request.Timeseries {
		var name string
		for _, label := range series.Labels {
			if label.Name == "__name__" {
				name = label.Value
			}
		}
		require.Len(t, series.Samples, 1)
		values[name] = series.Samples[0].Value
	}
	assert.Equal(t, map[string]float64{
		"settlement_outstanding_payout_balance": 950,
		"settlement_scheduler_job_runs_total":   2,
	}, values)
}

func TestRemoteWritePusherReportsRejectedWrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), testRegistry(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestPushgatewayPusherPutsGroup(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		path = r.URL.Path
		body = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pusher := NewPushgatewayPusher(srv.URL, "settlement", map[string]string{"environment": "test", "": "skip"})
	require.NoError(t, pusher.Push(context.Background(), testRegistry(t)))
	assert.Equal(t, "/metrics/job/settlement/environment/test", path)
	assert.Contains(t, body, "settlement_job")
	assert.NotContains(t, body, "go_unrelated")

	assert.Error(t, NewPushgatewayPusher(srv.URL, " ", nil).Push(context.Background(), testRegistry(t)))
}

func TestGatherSettlementDropsForeignFamilies(t *testing.T) {
	families, err := gatherSettlement(testRegistry(t))
	require.NoError(t, err)
	for _, family := range families {
		assert.True(t, strings.HasPrefix(family.GetName(), metricPrefix), family.GetName())
	}
	assert.Len(t, families, 3)
}

func TestNewPusherFromConfig(t *testing.T) {
	base := config.Config{AppName: "settlement", Environment: "test"}

	cases := []struct {
		name string
		push config.MetricsPushConfig
		want any
	}{
		{name: "disabled", push: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "http://x"}},
		{name: "missing_exporter", push: config.MetricsPushConfig{Enabled: true, Endpoint: "http://x"}},
		{name: "missing_endpoint", push: config.MetricsPushConfig{Enabled: true, Exporter: ExporterRemoteWrite}},
		{name: "bad_url", push: config.MetricsPushConfig{Enabled: true, Exporter: ExporterRemoteWrite, Endpoint: "not a url"}},
		{name: "unknown_exporter", push: config.MetricsPushConfig{Enabled: true, Exporter: "statsd", Endpoint: "http://x"}},
		{name: "remote_write", push: config.MetricsPushConfig{Enabled: true, Exporter: "Prometheus_Remote_Write", Endpoint: "http://x/api/v1/write"}, want: &RemoteWritePusher{}},
		{name: "pushgateway", push: config.MetricsPushConfig{Enabled: true, Exporter: ExporterPushgateway, Endpoint: "http://x"}, want: &PushgatewayPusher{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.MetricsPush = tc.push
			pusher := NewPusher(cfg, zap.NewNop())
			if tc.want == nil {
				assert.Nil(t, pusher)
				return
			}
			assert.IsType(t, tc.want, pusher)
		})
	}
}

type countingPusher struct {
	calls atomic.Int32
}

func (p *countingPusher) Push(context.Context, prometheus.Gatherer) error {
	p.calls.Add(1)
	return nil
}

func TestWorkerPushesUntilStopped(t *testing.T) {
	pusher := &countingPusher{}
	worker := NewWorker(Params{
		Config:   config.Config{MetricsPush: config.MetricsPushConfig{Interval: 10 * time.Millisecond}},
		Log:      zap.NewNop(),
		Pusher:   pusher,
		Gatherer: prometheus.NewRegistry(),
	})
	require.NotNil(t, worker)

	require.NoError(t, worker.Start(context.Background()))
	require.Eventually(t, func() bool { return pusher.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, worker.Stop(context.Background()))

	stopped := pusher.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, pusher.calls.Load())
	require.NoError(t, worker.Stop(context.Background()))
}

func TestNewWorkerDisabledWithoutPusher(t *testing.T) {
	var worker *Worker = NewWorker(Params{Log: zap.NewNop()})
	assert.Nil(t, worker)
	assert.NoError(t, worker.Start(context.Background()))
	assert.NoError(t, worker.Stop(context.Background()))
}
