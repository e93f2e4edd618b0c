package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/naming/clog"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		opts    []Option
		wantErr bool
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "disabled", cfg: &Config{Enabled: false}},
		{name: "minimal config", cfg: &Config{Enabled: true, ServiceName: "test-service", Version: "v1.0.0"}},
		{name: "invalid port", cfg: &Config{Enabled: true, Port: 70000, Path: "/metrics"}, wantErr: true},
		{name: "invalid path", cfg: &Config{Enabled: true, Port: 9464, Path: "metrics"}, wantErr: true},
		{
			name: "with logger option",
			cfg:  NewDevDefaultConfig("test-service"),
			opts: []Option{WithLogger(clog.Discard())},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meter, err := New(tt.cfg, tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, meter)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			assert.NoError(t, meter.Shutdown(ctx))
		})
	}
}

func TestMeterExposesPrometheus(t *testing.T) {
	meter, err := New(NewDevDefaultConfig("naming-test"))
	require.NoError(t, err)
	defer meter.Shutdown(context.Background())

	ctx := context.Background()

	counter, err := meter.Counter("naming_test_events_total", "测试计数器")
	require.NoError(t, err)
	counter.Inc(ctx, L(LabelType, "NODE_ADDED"))
	counter.Add(ctx, 2, L(LabelType, "NODE_ADDED"))
	counter.Add(ctx, -5, L(LabelType, "NODE_ADDED"))

	gauge, err := meter.Gauge("naming_test_subscriptions", "测试仪表盘")
	require.NoError(t, err)
	gauge.Inc(ctx)
	gauge.Inc(ctx)
	gauge.Dec(ctx)

	histogram, err := meter.Histogram("naming_test_dial_duration", "测试直方图", WithUnit("s"))
	require.NoError(t, err)
	histogram.Record(ctx, 0.05, L(LabelEndpoint, "127.0.0.1:8848"))

	rec := httptest.NewRecorder()
	meter.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `naming_test_events_total{`)
	assert.Contains(t, text, `type="NODE_ADDED"`)
	assert.Contains(t, text, "naming_test_subscriptions")
	assert.Contains(t, text, "naming_test_dial_duration")
}

func TestMetersAreIsolated(t *testing.T) {
	first, err := New(NewDevDefaultConfig("first"))
	require.NoError(t, err)
	defer first.Shutdown(context.Background())

	second, err := New(NewDevDefaultConfig("second"))
	require.NoError(t, err)
	defer second.Shutdown(context.Background())

	c, err := first.Counter("only_in_first_total", "")
	require.NoError(t, err)
	c.Inc(context.Background())

	rec := httptest.NewRecorder()
	second.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), "only_in_first_total")
}

func TestDiscard(t *testing.T) {
	meter := Discard()
	ctx := context.Background()

	counter, err := meter.Counter("test", "test")
	require.NoError(t, err)
	counter.Inc(ctx)

	gauge, err := meter.Gauge("test", "test")
	require.NoError(t, err)
	gauge.Set(ctx, 100)

	histogram, err := meter.Histogram("test", "test")
	require.NoError(t, err)
	histogram.Record(ctx, 0.123)

	rec := httptest.NewRecorder()
	meter.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, meter.Shutdown(ctx))
}

func TestLabelHelpers(t *testing.T) {
	assert.Equal(t, Label{Key: "result", Value: "success"}, L(LabelResult, OutcomeSuccess))
	assert.Equal(t, OutcomeSuccess, Outcome(nil))
	assert.Equal(t, OutcomeError, Outcome(io.EOF))
	assert.Equal(t, "a=1|b=2", labelKey([]Label{L("a", "1"), L("b", "2")}))
	assert.Equal(t, "", labelKey(nil))
}
