package di

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"TradePipe/pkg/config"
	"TradePipe/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names[T interface{ Name() string }](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name()
	}
	return out
}

func TestProvideEnginesFromConfig(t *testing.T) {
	cfg := config.Default()
	second := config.DefaultEngine()
	second.Name = "minute_engine"
	second.Timeframe = "1m"
	second.Sources = []string{"coinbase"}
	cfg.Engines = append(cfg.Engines, second)

	engines, err := ProvideEngines(cfg, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"price_engine", "minute_engine"}, names(engines))

	cfg.Engines[1].Sources = []string{"kraken"}
	_, err = ProvideEngines(cfg, logger.Nop())
	assert.Error(t, err)
}

func TestProvideCollectorsOnlyEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Collectors.Bybit.Enabled = true
	cfg.Collectors.Kafka.Enabled = true

	cols, err := ProvideCollectors(cfg, ProvideMetrics(), logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"binance_collector", "bybit_collector", "binance_kafka_collector"}, names(cols))
}

func TestProvideExecutors(t *testing.T) {
	cfg := config.Default()
	cfg.Executors.Webhook.Enabled = true
	cfg.Executors.Webhook.URL = "http://localhost:9/hook"

	xs, err := ProvideExecutors(cfg, logger.Nop(), nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"log_executor", "webhook_executor"}, names(xs))

	cfg.Executors.Webhook.URL = ""
	_, err = ProvideExecutors(cfg, logger.Nop(), nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestProvideKafkaProducerOnlyWhenNeeded(t *testing.T) {
	cfg := config.Default()
	p, cleanup, err := ProvideKafkaProducer(cfg, ProvideMetrics(), logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, p)
	cleanup()

	cfg.Executors.Kafka.Enabled = true
	p, cleanup, err = ProvideKafkaProducer(cfg, ProvideMetrics(), logger.Nop())
	require.NoError(t, err)
	assert.NotNil(t, p)
	cleanup()
}

func TestProvidePipelineAndServer(t *testing.T) {
	cfg := config.Default()
	log := logger.Nop()
	rec := ProvideMetrics()

	engines, err := ProvideEngines(cfg, log)
	require.NoError(t, err)
	cols, err := ProvideCollectors(cfg, rec, log)
	require.NoError(t, err)
	strat, err := ProvideStrategy(cfg)
	require.NoError(t, err)
	xs, err := ProvideExecutors(cfg, log, nil, nil, nil, nil)
	require.NoError(t, err)

	o, err := ProvideOrchestrator(cfg, strat, engines, cols, xs, rec, log)
	require.NoError(t, err)
	require.NotNil(t, o)

	mc, closeCache := ProvideMemoryCache(log)
	defer closeCache()
	h := ProvideAPIHandler(cfg, nil, mc, log)
	srv := ProvideHTTPServer(cfg, h, rec, log)

	rr := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	srv.Echo().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	app := ProvideApp(cfg, o, h, srv, log)
	assert.NotNil(t, app)
}

func TestProvideLoggerRejectsLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "loud"
	_, err := ProvideLogger(cfg)
	assert.Error(t, err)
}
