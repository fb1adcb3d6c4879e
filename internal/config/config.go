package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// ByteSize accepts human-readable sizes in YAML ("10 GiB", "500MB", "1024").
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", raw, err)
	}
	*b = ByteSize(n)
	return nil
}

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
	Media      MediaConfig      `yaml:"media"`
	Capacity   CapacityConfig   `yaml:"capacity"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Fetcher    FetcherConfig    `yaml:"fetcher"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Eviction   EvictionConfig   `yaml:"eviction"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// RedisConfig holds the metadata cache connection settings. When Host is
// empty the services fall back to an in-process cache.
type RedisConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MediaConfig holds artifact storage locations and the public serving surface.
// Root and ScratchDir must live on the same filesystem so the publish step
// can promote artifacts with a rename.
type MediaConfig struct {
	Root        string `yaml:"root"`
	ScratchDir  string `yaml:"scratch_dir"`
	PublicBase  string `yaml:"public_base"`
	SigningKey  string `yaml:"signing_key"`
	MetricsPath string `yaml:"metrics_path"`
}

// TenantLimitConfig is a per-tenant capacity override.
type TenantLimitConfig struct {
	SoftBytes ByteSize `yaml:"soft"`
	HardBytes ByteSize `yaml:"hard"`
}

// CapacityConfig holds the admission-control limits.
type CapacityConfig struct {
	GlobalSoftBytes  ByteSize                     `yaml:"global_soft"`
	GlobalHardBytes  ByteSize                     `yaml:"global_hard"`
	TenantSoftBytes  ByteSize                     `yaml:"tenant_soft"`
	TenantHardBytes  ByteSize                     `yaml:"tenant_hard"`
	TenantOverrides  map[string]TenantLimitConfig `yaml:"tenant_overrides"`
	WarnFraction     float64                      `yaml:"warn_fraction"`
	CriticalFraction float64                      `yaml:"critical_fraction"`
}

// PipelineConfig holds ingestion policy knobs.
type PipelineConfig struct {
	DurationCapSeconds float64       `yaml:"duration_cap_seconds"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay"`
}

// FetcherConfig holds downloader settings.
type FetcherConfig struct {
	CookiesPath      string        `yaml:"cookies_path"`
	ClientIdentities []string      `yaml:"client_identities"`
	FormatChain      []string      `yaml:"format_chain"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	MetadataTTL      time.Duration `yaml:"metadata_ttl"`
}

// TranscoderConfig holds encoder settings.
type TranscoderConfig struct {
	SegmentSeconds int           `yaml:"segment_seconds"`
	Preset         string        `yaml:"preset"`
	EncodeTimeout  time.Duration `yaml:"encode_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
}

// EvictionConfig holds sweeper settings. LowWaterFraction applies to the
// global soft cap when LowWaterBytes is zero.
type EvictionConfig struct {
	LowWaterBytes    ByteSize      `yaml:"low_water"`
	LowWaterFraction float64       `yaml:"low_water_fraction"`
	Interval         time.Duration `yaml:"interval"`
	MaxDeletions     int           `yaml:"max_deletions_per_run"`
}

// LowWater resolves the target the sweeper drains usage down to.
func (e *EvictionConfig) LowWater(globalSoft int64) int64 {
	if e.LowWaterBytes > 0 {
		return int64(e.LowWaterBytes)
	}
	frac := e.LowWaterFraction
	if frac <= 0 || frac >= 1 {
		frac = 0.85
	}
	return int64(float64(globalSoft) * frac)
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the fields the API service depends on.
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Media.PublicBase == "" {
		return fmt.Errorf("media public_base is required")
	}

	return nil
}

// ValidateWorkerConfig checks the fields the worker service depends on.
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Media.Root == "" {
		return fmt.Errorf("media root is required")
	}

	if c.Media.ScratchDir == "" {
		return fmt.Errorf("media scratch_dir is required")
	}

	if err := c.validateCapacity(); err != nil {
		return err
	}

	if c.Pipeline.DurationCapSeconds <= 0 {
		return fmt.Errorf("pipeline duration_cap_seconds must be greater than 0")
	}

	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline max_retries must not be negative")
	}

	if c.Eviction.MaxDeletions <= 0 {
		return fmt.Errorf("eviction max_deletions_per_run must be greater than 0")
	}

	return nil
}

func (c *Config) validateCapacity() error {
	cap := &c.Capacity

	if cap.GlobalSoftBytes <= 0 || cap.GlobalHardBytes <= 0 {
		return fmt.Errorf("capacity global_soft and global_hard are required")
	}

	if cap.GlobalHardBytes < cap.GlobalSoftBytes {
		return fmt.Errorf("capacity global_hard must be at least global_soft")
	}

	if cap.TenantSoftBytes <= 0 || cap.TenantHardBytes <= 0 {
		return fmt.Errorf("capacity tenant_soft and tenant_hard are required")
	}

	if cap.TenantHardBytes < cap.TenantSoftBytes {
		return fmt.Errorf("capacity tenant_hard must be at least tenant_soft")
	}

	for tenant, limits := range cap.TenantOverrides {
		if limits.SoftBytes <= 0 || limits.HardBytes < limits.SoftBytes {
			return fmt.Errorf("capacity override for tenant %q is invalid", tenant)
		}
	}

	if cap.WarnFraction <= 0 || cap.WarnFraction >= 1 {
		return fmt.Errorf("capacity warn_fraction must be between 0 and 1")
	}

	if cap.CriticalFraction <= cap.WarnFraction || cap.CriticalFraction >= 1 {
		return fmt.Errorf("capacity critical_fraction must be between warn_fraction and 1")
	}

	return nil
}
