// Package triggerconfig loads cmd/queuetrigger-demo's YAML configuration
// with viper: SetConfigFile, ReadInConfig, Unmarshal into a plain struct.
// Parsing configuration is an
// external, demo-only concern — internal/trigger itself only ever takes a
// plain trigger.Options struct literal.
package triggerconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"queuetrigger/internal/trigger"
)

// Config is the top-level shape of the demo's YAML file.
type Config struct {
	App   AppConfig   `mapstructure:"app"`
	Queue QueueConfig `mapstructure:"queue"`
	AWS   AWSConfig   `mapstructure:"aws"`
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
	Retry RetryConfig `mapstructure:"retry"`
}

// AppConfig names the process for logging and the listener's Descriptor.
type AppConfig struct {
	FunctionID string `mapstructure:"function_id"`
	LogLevel   string `mapstructure:"log_level"`
}

// QueueConfig holds the trigger.Options fields that make sense to expose as
// config, plus which concrete QueueClient backend to construct.
type QueueConfig struct {
	Backend                          string        `mapstructure:"backend"` // "sqs" or "memqueue"
	Name                             string        `mapstructure:"name"`
	VisibilityTimeout                time.Duration `mapstructure:"visibility_timeout"`
	MinimumVisibilityRenewalInterval time.Duration `mapstructure:"minimum_visibility_renewal_interval"`
	MinPollingInterval               time.Duration `mapstructure:"min_polling_interval"`
	NumberOfSamplesToConsider        int           `mapstructure:"number_of_samples_to_consider"`
	PollTimeout                      time.Duration `mapstructure:"poll_timeout"` // a GetMessages call running longer than this logs a warning
}

// AWSConfig configures the SQS backend; ignored when Queue.Backend is
// "memqueue".
type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// MySQLConfig configures pkg/poisonlog.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig configures pkg/notify.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RetryConfig configures pkg/retrypolicy.
type RetryConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	NewBatchThreshold  int           `mapstructure:"new_batch_threshold"`
	MaxPollingInterval time.Duration `mapstructure:"max_polling_interval"`
	MaxDequeueCount    int64         `mapstructure:"max_dequeue_count"`
	PoisonQueueName    string        `mapstructure:"poison_queue_name"`
	BackoffStrategy    string        `mapstructure:"backoff_strategy"` // "fixed", "linear", "exponential"
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	Jitter             time.Duration `mapstructure:"jitter"`
}

// Load reads configPath as YAML and unmarshals it into a Config.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields every backend needs regardless of which queue
// backend is selected.
func (c *Config) Validate() error {
	if c.App.FunctionID == "" {
		return fmt.Errorf("app.function_id is required")
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("queue.name is required")
	}
	switch c.Queue.Backend {
	case "sqs", "memqueue":
	default:
		return fmt.Errorf("queue.backend must be \"sqs\" or \"memqueue\", got %q", c.Queue.Backend)
	}
	return nil
}

// Options converts the YAML-sourced QueueConfig into the core's
// trigger.Options, filling in defaults for anything left zero.
func (c *Config) Options() trigger.Options {
	opts := trigger.DefaultOptions()
	opts.FunctionID = c.App.FunctionID
	opts.QueueName = c.Queue.Name

	if c.Queue.VisibilityTimeout > 0 {
		opts.VisibilityTimeout = c.Queue.VisibilityTimeout
	}
	if c.Queue.MinimumVisibilityRenewalInterval > 0 {
		opts.MinimumVisibilityRenewalInterval = c.Queue.MinimumVisibilityRenewalInterval
	}
	if c.Queue.MinPollingInterval > 0 {
		opts.MinPollingInterval = c.Queue.MinPollingInterval
	}
	if c.Queue.NumberOfSamplesToConsider > 0 {
		opts.NumberOfSamplesToConsider = c.Queue.NumberOfSamplesToConsider
	}
	if c.Queue.PollTimeout > 0 {
		opts.PollTimeout = c.Queue.PollTimeout
	}
	return opts
}
