package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration. It is read from an optional YAML file
// and then overridden from the environment.
type Config struct {
	RunLocal bool   `yaml:"run_local"`
	LogLevel string `yaml:"log_level"`

	HTTP     HTTP     `yaml:"http"`
	AWS      AWS      `yaml:"aws"`
	Postgres Postgres `yaml:"postgres"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	Realtime Realtime `yaml:"realtime"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type AWS struct {
	Region             string        `yaml:"region"`
	EndpointOverride   string        `yaml:"endpoint_override"`
	OrdersTable        string        `yaml:"orders_table"`
	KitchenOrdersTable string        `yaml:"kitchen_orders_table"`
	IdempotencyTable   string        `yaml:"idempotency_table"`
	IdempotencyTTL     time.Duration `yaml:"idempotency_ttl"`
	EventsQueueURL     string        `yaml:"events_queue_url"`
	MetricsNamespace   string        `yaml:"metrics_namespace"`
	MetricsInterval    time.Duration `yaml:"metrics_interval"`
}

type Postgres struct {
	URL string `yaml:"url"`
}

type RabbitMQ struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type Realtime struct {
	CancelTimeout time.Duration `yaml:"cancel_timeout"`
	ClientBuffer  int           `yaml:"client_buffer"`
	RelayBuffer   int           `yaml:"relay_buffer"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// Default returns the configuration used when neither file nor env say otherwise.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP:     HTTP{Addr: ":8080"},
		AWS: AWS{
			Region:          "us-east-1",
			IdempotencyTTL:  48 * time.Hour,
			MetricsInterval: time.Minute,
		},
		RabbitMQ: RabbitMQ{Exchange: "order_events"},
		Realtime: Realtime{
			CancelTimeout: 2 * time.Minute,
			ClientBuffer:  64,
			RelayBuffer:   256,
			PingInterval:  30 * time.Second,
			WriteTimeout:  10 * time.Second,
		},
	}
}

// Load reads path (skipped when empty) on top of the defaults and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.AWS.Region, "AWS_REGION")
	setString(&c.AWS.EndpointOverride, "AWS_ENDPOINT_OVERRIDE")
	setString(&c.AWS.OrdersTable, "ORDERS_TABLE")
	setString(&c.AWS.KitchenOrdersTable, "KITCHEN_ORDERS_TABLE")
	setString(&c.AWS.IdempotencyTable, "IDEMPOTENCY_TABLE")
	setString(&c.AWS.EventsQueueURL, "EVENTS_QUEUE_URL")
	setString(&c.AWS.MetricsNamespace, "METRICS_NAMESPACE")
	setString(&c.Postgres.URL, "DATABASE_URL")
	setString(&c.RabbitMQ.URL, "RABBITMQ_URL")
	setString(&c.RabbitMQ.Exchange, "EVENTS_EXCHANGE")
	if v := os.Getenv("RUN_LOCAL"); v != "" {
		c.RunLocal = v == "true"
	}
	if v := os.Getenv("CANCEL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CANCEL_TIMEOUT: %w", err)
		}
		c.Realtime.CancelTimeout = d
	}
	return nil
}

// Validate reports settings without which no state machine can run.
func (c *Config) Validate() error {
	var errs []error
	if c.AWS.OrdersTable == "" {
		errs = append(errs, errors.New("orders table is required (ORDERS_TABLE)"))
	}
	if c.AWS.KitchenOrdersTable == "" {
		errs = append(errs, errors.New("kitchen orders table is required (KITCHEN_ORDERS_TABLE)"))
	}
	if c.Realtime.CancelTimeout < 0 {
		errs = append(errs, errors.New("cancel timeout must not be negative"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
