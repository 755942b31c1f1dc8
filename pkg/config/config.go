// Package config loads and validates the engine configuration file and
// topology documents.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/orchis-io/orchis/pkg/engine"
	"github.com/orchis-io/orchis/pkg/events"
	"github.com/orchis-io/orchis/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the root engine configuration document.
type Config struct {
	// Engine holds execution tunables.
	Engine EngineConfig `yaml:"engine"`

	// Inventory points at the backend target inventory.
	Inventory InventoryConfig `yaml:"inventory"`

	// Store configures the persistent deployment store.
	Store StoreConfig `yaml:"store"`

	// Events configures the event publisher and its sinks.
	Events EventsConfig `yaml:"events"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// EngineConfig holds the executor tunables.
type EngineConfig struct {
	// MaxParallelPlans bounds concurrently executing plans process-wide.
	// Zero means unbounded.
	MaxParallelPlans int `yaml:"max_parallel_plans" validate:"gte=0"`

	// MaxParallelTasks bounds concurrent adapter calls per plan.
	MaxParallelTasks int `yaml:"max_parallel_tasks" validate:"gt=0"`

	// MaxAttempts is the per-task adapter call budget, including the first.
	MaxAttempts int `yaml:"max_attempts" validate:"gt=0"`

	// BackoffBase is the initial retry delay.
	BackoffBase Duration `yaml:"backoff_base" validate:"gt=0"`

	// BackoffMax caps the retry delay.
	BackoffMax Duration `yaml:"backoff_max" validate:"gtefield=BackoffBase"`

	// TaskTimeout bounds each adapter provision call.
	TaskTimeout Duration `yaml:"task_timeout" validate:"gt=0"`

	// TeardownTimeout bounds each rollback teardown call.
	TeardownTimeout Duration `yaml:"teardown_timeout" validate:"gt=0"`

	// ResourceKinds lists the resource kinds topologies may use. Empty
	// means the kinds come from the registered adapters.
	ResourceKinds []string `yaml:"resource_kinds"`
}

// ExecutorConfig converts the tunables into the executor's form.
func (c EngineConfig) ExecutorConfig() engine.ExecutorConfig {
	return engine.ExecutorConfig{
		MaxParallelTasks: c.MaxParallelTasks,
		MaxAttempts:      c.MaxAttempts,
		BackoffBase:      time.Duration(c.BackoffBase),
		BackoffMax:       time.Duration(c.BackoffMax),
		TaskTimeout:      time.Duration(c.TaskTimeout),
		TeardownTimeout:  time.Duration(c.TeardownTimeout),
	}
}

// InventoryConfig points at the inventory document.
type InventoryConfig struct {
	// Path is the inventory YAML file.
	Path string `yaml:"path" validate:"required"`

	// Watch enables hot reload of the inventory file.
	Watch bool `yaml:"watch"`
}

// StoreConfig configures the SQLite deployment store.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `yaml:"path"`
}

// EventsConfig configures the publisher and the optional AMQP sink.
type EventsConfig struct {
	// Publisher tunes queueing and delivery retry.
	Publisher PublisherConfig `yaml:"publisher"`

	// AMQP, when enabled, publishes events to a RabbitMQ exchange.
	AMQP AMQPConfig `yaml:"amqp"`
}

// PublisherConfig mirrors the publisher tunables in file form.
type PublisherConfig struct {
	QueueSoftLimit int      `yaml:"queue_soft_limit" validate:"gte=0"`
	RetryBase      Duration `yaml:"retry_base" validate:"gte=0"`
	RetryMax       Duration `yaml:"retry_max" validate:"gte=0"`
	MaxAttempts    int      `yaml:"max_attempts" validate:"gte=0"`
}

// PublisherConfig converts the tunables into the publisher's form.
func (c EventsConfig) PublisherConfig() events.Config {
	return events.Config{
		QueueSoftLimit: c.Publisher.QueueSoftLimit,
		RetryBase:      time.Duration(c.Publisher.RetryBase),
		RetryMax:       time.Duration(c.Publisher.RetryMax),
		MaxAttempts:    c.Publisher.MaxAttempts,
	}
}

// AMQPConfig wraps the sink settings with an enable switch.
type AMQPConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true"`

	// DialAttempts is how many times to try connecting at startup.
	DialAttempts int `yaml:"dial_attempts" validate:"gte=0"`
}

// SinkConfig converts the settings into the AMQP sink's form.
func (c AMQPConfig) SinkConfig() events.AMQPConfig {
	return events.AMQPConfig{
		URL:          c.URL,
		DialAttempts: c.DialAttempts,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxParallelPlans: 4,
			MaxParallelTasks: 10,
			MaxAttempts:      3,
			BackoffBase:      Duration(time.Second),
			BackoffMax:       Duration(time.Minute),
			TaskTimeout:      Duration(5 * time.Minute),
			TeardownTimeout:  Duration(time.Minute),
		},
		Inventory: InventoryConfig{
			Path:  "inventory.yaml",
			Watch: false,
		},
		Store: StoreConfig{
			Path: "orchis.db",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads a configuration file, layering it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return c.Telemetry.Validate()
}
