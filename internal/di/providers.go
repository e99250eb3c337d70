package di

import (
	"context"
	"fmt"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	domrepo "TradePipe/internal/domain/repository"
	"TradePipe/internal/engine"
	"TradePipe/internal/executor"
	"TradePipe/internal/handler/api"
	"TradePipe/internal/middleware"
	"TradePipe/internal/orchestrator"
	internalrepo "TradePipe/internal/repository"
	"TradePipe/internal/service/exchange"
	"TradePipe/internal/service/kafkafeed"
	"TradePipe/internal/service/ratelimit"
	"TradePipe/internal/strategy"
	"TradePipe/pkg/cache"
	pkgch "TradePipe/pkg/clickhouse"
	"TradePipe/pkg/config"
	pkghttp "TradePipe/pkg/http"
	pkgkafka "TradePipe/pkg/kafka"
	"TradePipe/pkg/logger"
	"TradePipe/pkg/metrics"
	"TradePipe/pkg/postgres"
	"TradePipe/pkg/server"
)

const initTimeout = 15 * time.Second

// PriceOrchestrator is the orchestrator instantiated for the price pipeline.
type PriceOrchestrator = orchestrator.Orchestrator[models.StateOutput, strategy.PriceInput, models.Action]

// Engines are the configured state engines.
type Engines []pipeline.StateEngine[models.StateOutput]

// Collectors are the enabled, guarded collectors.
type Collectors []pipeline.Collector

// Executors are the enabled action executors.
type Executors []executor.ActionExecutor

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates the recorder on a fresh registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(metrics.NewRegistry())
}

// ProvideKafkaProducer creates the producer shared by the kafka executor and
// the log collector. It is nil when neither is enabled.
func ProvideKafkaProducer(cfg *config.Config, rec *metrics.Recorder, log *logger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Executors.Kafka.Enabled && !cfg.Log.Collector.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.WriteTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerMetrics(rec.Registry()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Log.Collector.Enabled {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.CountThreshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      producer,
		})
	}

	cleanup := func() {
		// flush aggregated logs before the writer goes away
		log.RemoveCollector()
		if err := producer.Close(); err != nil {
			log.Warn("kafka producer close", logger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideRedisCache connects to Redis when the redis executor is enabled.
func ProvideRedisCache(cfg *config.Config, log *logger.Logger) (*cache.RedisCache, func(), error) {
	if !cfg.Executors.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 4*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, closer(log, "redis", rc.Close), nil
}

// ProvideMemoryCache creates the in-process cache behind the HTTP API.
func ProvideMemoryCache(log *logger.Logger) (*cache.MemoryCache, func()) {
	mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(1024), cache.WithMemoryCleanup(time.Minute))
	return mc, closer(log, "memory cache", mc.Close)
}

// ProvideClickHouseClient connects to ClickHouse when the clickhouse executor
// is enabled.
func ProvideClickHouseClient(cfg *config.Config, log *logger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.Executors.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, closer(log, "clickhouse", client.Close), nil
}

// ProvidePostgres connects to PostgreSQL when the postgres executor is enabled.
func ProvidePostgres(cfg *config.Config, log *logger.Logger) (*postgres.Client, func(), error) {
	if !cfg.Executors.Postgres.Enabled {
		return nil, func() {}, nil
	}
	pg := cfg.Postgres
	client, err := postgres.New(postgres.Option{
		Host:         pg.Host,
		Port:         pg.Port,
		User:         pg.User,
		Password:     pg.Password,
		Database:     pg.Database,
		SSLMode:      pg.SSLMode,
		MaxOpenConns: pg.MaxOpenConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	return client, closer(log, "postgres", client.Close), nil
}

// ProvideActionJournal exposes the postgres journal, or nil without postgres.
func ProvideActionJournal(client *postgres.Client) *internalrepo.PostgresActionJournal {
	if client == nil {
		return nil
	}
	return internalrepo.NewPostgresActionJournal(client.DB())
}

// ProvideEngines builds one price engine per configured entry.
func ProvideEngines(cfg *config.Config, log *logger.Logger) (Engines, error) {
	engines := make(Engines, 0, len(cfg.Engines))
	for _, ec := range cfg.Engines {
		sources := make([]models.Source, 0, len(ec.Sources))
		for _, s := range ec.Sources {
			src, err := models.ParseSource(s)
			if err != nil {
				return nil, fmt.Errorf("engine %s: %w", ec.Name, err)
			}
			sources = append(sources, src)
		}
		tf := domrepo.NormalizeTimeframe(ec.Timeframe)
		e, err := engine.NewPriceEngine(uint64(tf.Duration().Milliseconds()), log,
			engine.WithName(ec.Name),
			engine.WithSources(sources...),
			engine.WithMaxCandles(ec.MaxCandles),
			engine.WithPeriod(ec.Period),
			engine.WithVolatilityWindow(ec.VolatilityWindow),
		)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", ec.Name, err)
		}
		engines = append(engines, e)
	}
	return engines, nil
}

// ProvideCollectors builds every enabled collector behind the trade guard.
func ProvideCollectors(cfg *config.Config, rec *metrics.Recorder, log *logger.Logger) (Collectors, error) {
	var out Collectors
	venues := []struct {
		src models.Source
		cfg config.WSCollectorConfig
	}{
		{models.SourceBinance, cfg.Collectors.Binance},
		{models.SourceBybit, cfg.Collectors.Bybit},
		{models.SourceCoinbase, cfg.Collectors.Coinbase},
	}
	for _, v := range venues {
		if !v.cfg.Enabled {
			continue
		}
		c, err := exchange.New(v.src, exchange.Options{
			URL:               v.cfg.URL,
			Symbol:            v.cfg.Symbol,
			PingInterval:      v.cfg.PingInterval,
			ReadTimeout:       v.cfg.ReadTimeout,
			ReconnectDelay:    v.cfg.ReconnectDelay,
			MaxReconnectDelay: v.cfg.MaxReconnectDelay,
			MaxReconnects:     max(v.cfg.MaxReconnects, 0),
		}, log)
		if err != nil {
			return nil, fmt.Errorf("%s collector: %w", v.src, err)
		}
		out = append(out, middleware.Guard(c, rec, log))
	}

	if kc := cfg.Collectors.Kafka; kc.Enabled {
		src, err := models.ParseSource(kc.Source)
		if err != nil {
			return nil, fmt.Errorf("kafka collector: %w", err)
		}
		consumer := cfg.Kafka.Consumer
		c := kafkafeed.New(src, kc.Topic, log,
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(kc.GroupID),
			pkgkafka.WithConsumerStartOffset(kc.StartOffset),
			pkgkafka.WithConsumerWorkers(consumer.Workers),
			pkgkafka.WithConsumerBufferSize(consumer.BufferSize),
			pkgkafka.WithConsumerRetry(consumer.RetryMax, consumer.BackoffMin, consumer.BackoffMax),
			pkgkafka.WithConsumerDLQ(consumer.DLQTopic),
			pkgkafka.WithConsumerMetrics(rec.Registry()),
		)
		out = append(out, middleware.Guard(c, rec, log))
	}
	return out, nil
}

// ProvideStrategy builds the configured strategy.
func ProvideStrategy(cfg *config.Config) (strategy.PriceStrategy, error) {
	s, err := strategy.New(strategy.Settings{
		Name:       cfg.Strategy.Name,
		Interval:   cfg.Strategy.Interval,
		Oversold:   cfg.Strategy.Oversold,
		Overbought: cfg.Strategy.Overbought,
	})
	if err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	return s, nil
}

// ProvideExecutors builds every enabled executor. Store-backed executors
// create their schema here.
func ProvideExecutors(
	cfg *config.Config,
	log *logger.Logger,
	producer *pkgkafka.Producer,
	rc *cache.RedisCache,
	ch *pkgch.Client,
	journal *internalrepo.PostgresActionJournal,
) (Executors, error) {
	ex := cfg.Executors
	var out Executors

	if ex.Log.Enabled {
		out = append(out, executor.NewLog(log))
	}
	if ex.Kafka.Enabled && producer != nil {
		out = append(out, executor.NewPublish("kafka_executor",
			internalrepo.NewKafkaActionPublisher(producer, ex.Kafka.Topic)))
	}
	if ex.Redis.Enabled && rc != nil {
		out = append(out, executor.NewPublish("redis_executor",
			internalrepo.NewRedisActionPublisher(rc, ex.Redis.Channel, ex.Redis.TTL)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	if ex.ClickHouse.Enabled && ch != nil {
		store, err := internalrepo.NewClickHouseActionStore(ch.DB(), ex.ClickHouse.Table)
		if err != nil {
			return nil, fmt.Errorf("clickhouse executor: %w", err)
		}
		x, err := executor.NewStore(ctx, "clickhouse_executor", store)
		if err != nil {
			return nil, fmt.Errorf("clickhouse executor: %w", err)
		}
		out = append(out, x)
	}
	if ex.Postgres.Enabled && journal != nil {
		x, err := executor.NewStore(ctx, "postgres_executor", journal)
		if err != nil {
			return nil, fmt.Errorf("postgres executor: %w", err)
		}
		out = append(out, x)
	}
	if wh := ex.Webhook; wh.Enabled {
		x, err := executor.NewWebhook(executor.WebhookConfig{
			URL:        wh.URL,
			Headers:    wh.Headers,
			Timeout:    wh.Timeout,
			Burst:      wh.Burst,
			RatePerSec: wh.RatePerSec,
		}, pkghttp.NewClient(pkghttp.WithTimeout(wh.Timeout)), ratelimit.New())
		if err != nil {
			return nil, fmt.Errorf("webhook executor: %w", err)
		}
		out = append(out, x)
	}
	return out, nil
}

// ProvideOrchestrator assembles the pipeline.
func ProvideOrchestrator(
	cfg *config.Config,
	strat strategy.PriceStrategy,
	engines Engines,
	collectors Collectors,
	executors Executors,
	rec *metrics.Recorder,
	log *logger.Logger,
) (*PriceOrchestrator, error) {
	opts := []orchestrator.Option{
		orchestrator.WithEventBuffer(cfg.Orchestrator.EventBuffer),
		orchestrator.WithExecuteTimeout(cfg.Orchestrator.ExecuteTimeout),
	}
	if cfg.Orchestrator.QueryTimeout > 0 {
		opts = append(opts, orchestrator.WithQueryTimeout(cfg.Orchestrator.QueryTimeout))
	}
	o, err := orchestrator.New[models.StateOutput, strategy.PriceInput, models.Action](
		strat, engines, collectors, executors, rec, log, opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return o, nil
}

// ProvideAPIHandler creates the status API. The journal endpoint answers 503
// without postgres.
func ProvideAPIHandler(cfg *config.Config, journal *internalrepo.PostgresActionJournal, mc *cache.MemoryCache, log *logger.Logger) *api.Handler {
	var j domrepo.ActionJournal
	if journal != nil {
		j = journal
	}
	return api.NewHandler(j, mc, cfg.Server.CacheTTL, log)
}

// ProvideHTTPServer creates the echo server. /metrics is mounted only when
// metrics are enabled.
func ProvideHTTPServer(cfg *config.Config, h *api.Handler, rec *metrics.Recorder, log *logger.Logger) *pkghttp.Server {
	opts := []pkghttp.ServerOption{
		pkghttp.WithHost(cfg.Server.Host),
		pkghttp.WithPort(cfg.Server.Port),
		pkghttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		pkghttp.WithCORS(cfg.Server.CORS),
		pkghttp.WithLogger(log),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts,
			pkghttp.WithRegistry(rec.Registry()),
			pkghttp.WithSlowThreshold(cfg.Metrics.SlowThreshold),
		)
	}
	return pkghttp.NewServer(h, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	o *PriceOrchestrator,
	h *api.Handler,
	srv *pkghttp.Server,
	log *logger.Logger,
) *server.App {
	return server.New(cfg, o, h, srv, log)
}

func closer(log *logger.Logger, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			log.Warn(name+" close", logger.Error(err))
		}
	}
}
