package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. MARKETLENS_SERVER_PORT.
const EnvPrefix = "MARKETLENS"

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
		WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" split_words:"true"`
		CORSOrigins     []string      `yaml:"cors_origins" split_words:"true"`
	} `yaml:"server"`
	Logging struct {
		Level        string `yaml:"level"`
		Format       string `yaml:"format"`
		Output       string `yaml:"output"`
		CollectTopic string `yaml:"collect_topic" split_words:"true"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Storage struct {
		Backend        string        `yaml:"backend"`
		LatestLookback time.Duration `yaml:"latest_lookback" split_words:"true"`
	} `yaml:"storage"`
	Postgres struct {
		Host           string        `yaml:"host"`
		Port           int           `yaml:"port"`
		Database       string        `yaml:"database"`
		User           string        `yaml:"user"`
		Password       string        `yaml:"password"`
		SSLMode        string        `yaml:"ssl_mode" split_words:"true"`
		MaxConns       int32         `yaml:"max_conns" split_words:"true"`
		MinConns       int32         `yaml:"min_conns" split_words:"true"`
		ConnectTimeout time.Duration `yaml:"connect_timeout" split_words:"true"`
		AutoMigrate    bool          `yaml:"auto_migrate" split_words:"true"`
		MigrationsPath string        `yaml:"migrations_path" split_words:"true"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		Table            string        `yaml:"table"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http" split_words:"true"`
		AsyncInsert      bool          `yaml:"async_insert" split_words:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert" split_words:"true"`
		DialTimeout      time.Duration `yaml:"dial_timeout" split_words:"true"`
		ReadTimeout      time.Duration `yaml:"read_timeout" split_words:"true"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" split_words:"true"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Cache struct {
		Mode       string        `yaml:"mode"` // memory | redis | layered
		ReportTTL  time.Duration `yaml:"report_ttl" split_words:"true"`
		MemorySize int           `yaml:"memory_size" split_words:"true"`
		MemoryTTL  time.Duration `yaml:"memory_ttl" split_words:"true"`
	} `yaml:"cache"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks" split_words:"true"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" split_words:"true"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes" split_words:"true"`
			BatchSize    int           `yaml:"batch_size" split_words:"true"`
			WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true"`
			ReadTimeout  time.Duration `yaml:"read_timeout" split_words:"true"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" split_words:"true"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size" split_words:"true"`
			RetryMax   int           `yaml:"retry_max" split_words:"true"`
			BackoffMin time.Duration `yaml:"backoff_min" split_words:"true"`
			BackoffMax time.Duration `yaml:"backoff_max" split_words:"true"`
			DLQTopic   string        `yaml:"dlq_topic" split_words:"true"`
			MinBytes   int           `yaml:"min_bytes" split_words:"true"`
			MaxBytes   int           `yaml:"max_bytes" split_words:"true"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Queue struct {
		Enabled        bool          `yaml:"enabled"`
		Workers        int           `yaml:"workers"`
		PollTimeout    time.Duration `yaml:"poll_timeout" split_words:"true"`
		RetryLimit     int           `yaml:"retry_limit" split_words:"true"`
		RetryDelay     time.Duration `yaml:"retry_delay" split_words:"true"`
		CoalesceWindow time.Duration `yaml:"coalesce_window" split_words:"true"`
	} `yaml:"queue"`
	Report struct {
		Concurrency     int           `yaml:"concurrency"`
		MaxIntervalDay  int           `yaml:"max_interval_day" split_words:"true"`
		BuildTimeout    time.Duration `yaml:"build_timeout" split_words:"true"`
		SpikeMultiple   float64       `yaml:"spike_multiple" split_words:"true"`
		SpikeLookback   int           `yaml:"spike_lookback" split_words:"true"`
		SpikeMinHistory int           `yaml:"spike_min_history" split_words:"true"`
		WarmCategories  []string      `yaml:"warm_categories" split_words:"true"`
	} `yaml:"report"`
	Scraper struct {
		Enabled  bool               `yaml:"enabled"`
		BaseURL  string             `yaml:"base_url" split_words:"true"`
		Version  string             `yaml:"version"`
		Region   string             `yaml:"region"`
		Endpoint string             `yaml:"endpoint"`
		Interval time.Duration      `yaml:"interval"`
		RPS      float64            `yaml:"rps"`
		Burst    int                `yaml:"burst"`
		Timeout  time.Duration      `yaml:"timeout"`
		Dispatch string             `yaml:"dispatch"`
		Tracked  map[string][]int64 `yaml:"tracked" ignored:"true"`
	} `yaml:"scraper"`
	API struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"api"`
}

// Load reads and parses a YAML configuration file, then applies defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, then applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides it with MARKETLENS_*
// environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "postgres"
	}
	if c.Storage.LatestLookback == 0 {
		c.Storage.LatestLookback = 7 * 24 * time.Hour
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MigrationsPath == "" {
		c.Postgres.MigrationsPath = "migrations"
	}
	if c.ClickHouse.Port == 0 {
		c.ClickHouse.Port = 9000
	}
	if c.Cache.Mode == "" {
		c.Cache.Mode = "memory"
	}
	if c.Cache.ReportTTL == 0 {
		c.Cache.ReportTTL = 5 * time.Minute
	}
	if c.Cache.MemorySize == 0 {
		c.Cache.MemorySize = 1024
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "marketlens.scrapes"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "marketlens-ingestor"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Report.Concurrency == 0 {
		c.Report.Concurrency = 8
	}
	if c.Report.BuildTimeout == 0 {
		c.Report.BuildTimeout = 30 * time.Second
	}
	if c.Report.MaxIntervalDay == 0 {
		c.Report.MaxIntervalDay = 90
	}
	if c.Scraper.Interval == 0 {
		c.Scraper.Interval = 15 * time.Minute
	}
	if c.Scraper.Timeout == 0 {
		c.Scraper.Timeout = 10 * time.Second
	}
	if c.Scraper.Dispatch == "" {
		c.Scraper.Dispatch = "direct"
	}
	if c.API.Burst == 0 {
		c.API.Burst = 20
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "postgres":
		if c.Postgres.Host == "" {
			errs = append(errs, fmt.Errorf("postgres.host is required"))
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			errs = append(errs, fmt.Errorf("clickhouse.host is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be 'postgres' or 'clickhouse', got '%s'", c.Storage.Backend))
	}
	switch c.Cache.Mode {
	case "memory":
	case "redis", "layered":
		if !c.Redis.Enabled || c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("cache.mode %q requires redis.enabled and redis.addr", c.Cache.Mode))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.mode must be memory, redis or layered, got '%s'", c.Cache.Mode))
	}
	if c.Queue.Enabled && (!c.Redis.Enabled || c.Redis.Addr == "") {
		errs = append(errs, fmt.Errorf("queue.enabled requires redis"))
	}
	if c.Report.MaxIntervalDay < 1 {
		errs = append(errs, fmt.Errorf("report.max_interval_day must be positive"))
	}
	if c.Scraper.Dispatch != "kafka" && c.Scraper.Dispatch != "direct" {
		errs = append(errs, fmt.Errorf("scraper.dispatch must be 'kafka' or 'direct', got '%s'", c.Scraper.Dispatch))
	}
	if c.Scraper.Enabled {
		if c.Scraper.BaseURL == "" {
			errs = append(errs, fmt.Errorf("scraper.base_url is required"))
		}
		if len(c.Scraper.Tracked) == 0 {
			errs = append(errs, fmt.Errorf("scraper.tracked cannot be empty"))
		}
	}
	if c.Scraper.Dispatch == "kafka" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka.brokers is required for kafka dispatch"))
	}
	return errors.Join(errs...)
}
