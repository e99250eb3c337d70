// Package config loads the YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment  string             `yaml:"environment" default:"development" validate:"oneof=development test staging production"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Profiling    ProfilingConfig    `yaml:"profiling"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Strategy     StrategyConfig     `yaml:"strategy"`
	Engines      []EngineConfig     `yaml:"engines" validate:"dive"`
	Collectors   CollectorsConfig   `yaml:"collectors"`
	Executors    ExecutorsConfig    `yaml:"executors"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	ClickHouse   ClickHouseConfig   `yaml:"clickhouse"`
	Redis        RedisConfig        `yaml:"redis"`
	Postgres     PostgresConfig     `yaml:"postgres"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	CORS            bool          `yaml:"cors" default:"true"`
	CacheTTL        time.Duration `yaml:"cache_ttl" default:"2s"`
}

type LogConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format"`
	Collector  struct {
		Enabled        bool          `yaml:"enabled"`
		Topic          string        `yaml:"topic" default:"tradepipe.logs"`
		Interval       time.Duration `yaml:"interval" default:"30s"`
		CountThreshold int           `yaml:"count_threshold" default:"100"`
	} `yaml:"collector"`
}

type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled" default:"true"`
	SlowThreshold time.Duration `yaml:"slow_threshold" default:"1s"`
}

type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"server_address" default:"http://localhost:4040"`
	AppName       string `yaml:"app_name" default:"tradepipe"`
}

type OrchestratorConfig struct {
	EventBuffer    int           `yaml:"event_buffer" default:"1024" validate:"gte=1"`
	QueryTimeout   time.Duration `yaml:"query_timeout"` // 0 means half the strategy interval
	ExecuteTimeout time.Duration `yaml:"execute_timeout" default:"10s"`
	StopTimeout    time.Duration `yaml:"stop_timeout" default:"15s"`
}

type StrategyConfig struct {
	Name       string        `yaml:"name" default:"echo" validate:"oneof=echo rsi"`
	Interval   time.Duration `yaml:"interval" default:"1s" validate:"gt=0"`
	Oversold   float64       `yaml:"oversold" default:"30"`
	Overbought float64       `yaml:"overbought" default:"70"`
}

type EngineConfig struct {
	Name             string   `yaml:"name" validate:"required"`
	Timeframe        string   `yaml:"timeframe" default:"1s" validate:"oneof=1s 1m 5m"`
	Sources          []string `yaml:"sources" validate:"min=1,dive,oneof=binance bybit coinbase"`
	MaxCandles       int      `yaml:"max_candles" default:"500" validate:"gte=2"`
	Period           int      `yaml:"period" default:"14" validate:"gte=2"`
	VolatilityWindow int      `yaml:"volatility_window" default:"30" validate:"gte=2"`
}

type CollectorsConfig struct {
	Binance  WSCollectorConfig    `yaml:"binance"`
	Bybit    WSCollectorConfig    `yaml:"bybit"`
	Coinbase WSCollectorConfig    `yaml:"coinbase"`
	Kafka    KafkaCollectorConfig `yaml:"kafka"`
}

type WSCollectorConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url" validate:"omitempty,url"`
	Symbol            string        `yaml:"symbol"`
	PingInterval      time.Duration `yaml:"ping_interval" default:"15s"`
	ReadTimeout       time.Duration `yaml:"read_timeout" default:"30s"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" default:"1s"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" default:"30s"`
	MaxReconnects     int           `yaml:"max_reconnects" default:"5"` // -1 disables reconnects
}

type KafkaCollectorConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Source      string `yaml:"source" default:"binance" validate:"oneof=binance bybit coinbase"`
	Topic       string `yaml:"topic" default:"tradepipe.trades"`
	GroupID     string `yaml:"group_id" default:"tradepipe-replay"`
	StartOffset string `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
}

type ExecutorsConfig struct {
	Log struct {
		Enabled bool `yaml:"enabled" default:"true"`
	} `yaml:"log"`
	Kafka struct {
		Enabled bool   `yaml:"enabled"`
		Topic   string `yaml:"topic" default:"tradepipe.actions"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled bool          `yaml:"enabled"`
		Channel string        `yaml:"channel" default:"tradepipe.actions"`
		TTL     time.Duration `yaml:"ttl" default:"10m"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled bool   `yaml:"enabled"`
		Table   string `yaml:"table" default:"actions"`
	} `yaml:"clickhouse"`
	Postgres struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"postgres"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type WebhookConfig struct {
	Enabled    bool              `yaml:"enabled"`
	URL        string            `yaml:"url" validate:"omitempty,url"`
	Headers    map[string]string `yaml:"headers"`
	Timeout    time.Duration     `yaml:"timeout" default:"5s"`
	Burst      float64           `yaml:"burst" default:"5"`
	RatePerSec float64           `yaml:"rate_per_sec" default:"1"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" default:"[\"localhost:9092\"]"`
	RequiredAcks int           `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string        `yaml:"compression" default:"gzip" validate:"oneof=none gzip snappy lz4 zstd"`
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
	Consumer     struct {
		Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
		BufferSize int           `yaml:"buffer_size" default:"64"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"default"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

type RedisConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"tradepipe"`
}

type PostgresConfig struct {
	Host         string `yaml:"host" default:"localhost"`
	Port         int    `yaml:"port" default:"5432"`
	User         string `yaml:"user" default:"postgres"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database" default:"tradepipe"`
	SSLMode      string `yaml:"ssl_mode" default:"disable"`
	MaxOpenConns int    `yaml:"max_open_conns" default:"10"`
}

// DefaultEngine watches every venue on one-second candles.
func DefaultEngine() EngineConfig {
	e := EngineConfig{Name: "price_engine", Sources: []string{"binance", "bybit", "coinbase"}}
	_ = defaults.Set(&e)
	return e
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	_ = defaults.Set(c)
	c.Engines = []EngineConfig{DefaultEngine()}
	c.Collectors.Binance.Enabled = true
	return c
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// list elements are created by the decoder, after the first pass
	for i := range c.Engines {
		if err := defaults.Set(&c.Engines[i]); err != nil {
			return nil, fmt.Errorf("set engine defaults: %w", err)
		}
	}
	if len(c.Engines) == 0 {
		c.Engines = []EngineConfig{DefaultEngine()}
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := Parse(b)
	if err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("TRADEPIPE_ENV"); ok && v != "" {
		c.Environment = v
	}
	if v, ok := lookup("TRADEPIPE_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup("TRADEPIPE_KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("TRADEPIPE_HTTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRADEPIPE_HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = validator.New()

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error
	seen := make(map[string]bool, len(c.Engines))
	for _, e := range c.Engines {
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("engines: duplicate name %q", e.Name))
		}
		seen[e.Name] = true
	}

	col := c.Collectors
	if !col.Binance.Enabled && !col.Bybit.Enabled && !col.Coinbase.Enabled && !col.Kafka.Enabled {
		errs = append(errs, errors.New("collectors: at least one collector must be enabled"))
	}

	ex := c.Executors
	if !ex.Log.Enabled && !ex.Kafka.Enabled && !ex.Redis.Enabled && !ex.ClickHouse.Enabled &&
		!ex.Postgres.Enabled && !ex.Webhook.Enabled {
		errs = append(errs, errors.New("executors: at least one executor must be enabled"))
	}

	if ex.Webhook.Enabled && ex.Webhook.URL == "" {
		errs = append(errs, errors.New("executors.webhook.url is required when the webhook is enabled"))
	}
	if o := c.Orchestrator; o.StopTimeout > 0 && o.StopTimeout < o.ExecuteTimeout {
		errs = append(errs, fmt.Errorf("orchestrator.stop_timeout (%s) must be at least execute_timeout (%s)", o.StopTimeout, o.ExecuteTimeout))
	}
	if (col.Kafka.Enabled || ex.Kafka.Enabled || c.Log.Collector.Enabled) && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers cannot be empty when a kafka component is enabled"))
	}
	return errors.Join(errs...)
}
