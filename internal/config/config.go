// Package config loads runtime configuration: defaults, then an optional YAML
// file, then environment variables. Configuration is read once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the service.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`
	// Node identifier stamped on exported envelopes; hostname when empty
	NodeID string `yaml:"node_id"`

	// Readings kept per sensor (N)
	Retention int `yaml:"retention"`
	// Buffered envelopes waiting for export
	ExportQueueSize int `yaml:"export_queue_size"`

	Rules   []RuleConfig  `yaml:"rules"`
	Threat  ThreatConfig  `yaml:"threat"`
	Storage StorageConfig `yaml:"storage"`
	Hub     HubConfig     `yaml:"hub"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// RuleConfig is the on-disk form of an alert rule.
type RuleConfig struct {
	Name       string  `yaml:"name"`
	Metric     string  `yaml:"metric"`
	Comparator string  `yaml:"comparator"`
	Threshold  float64 `yaml:"threshold"`
	Severity   string  `yaml:"severity"`
	// Optional template; {metric} {value} {threshold} {comparator} {sensor}
	Message string `yaml:"message"`
}

// ThreatConfig toggles the composite coastal-threat score.
type ThreatConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StorageConfig selects the alert log backend.
type StorageConfig struct {
	// Storage backend: sqlite or postgres
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// HubConfig configures live fan-out.
type HubConfig struct {
	QueueSize int `yaml:"queue_size"`
	// drop_oldest or disconnect
	Overflow     string        `yaml:"overflow"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig configures event export and the upstream readings feed.
// Export and consumption are disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers       []string       `yaml:"brokers"`
	Topic         string         `yaml:"topic"`
	ReadingsTopic string         `yaml:"readings_topic"`
	GroupID       string         `yaml:"group_id"`
	Producer      ProducerConfig `yaml:"producer"`
}

// ProducerConfig tunes the Kafka writer pool.
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// MQTTConfig configures sensor ingestion over MQTT. Disabled when BrokerURL is empty.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Topic     string `yaml:"topic"`
	QoS       byte   `yaml:"qos"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// NotifyConfig configures the webhook notifier. Disabled when WebhookURL is empty.
type NotifyConfig struct {
	WebhookURL  string        `yaml:"webhook_url"`
	MinSeverity string        `yaml:"min_severity"`
	Timeout     time.Duration `yaml:"timeout"`
	// Signs bodies with HMAC-SHA256 in X-Tidewatch-Signature when set
	Secret string `yaml:"secret"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		Retention:       500,
		ExportQueueSize: 1000,
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "tidewatch.db",
		},
		Hub: HubConfig{
			QueueSize:    256,
			Overflow:     "drop_oldest",
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:         "tidewatch.events",
			ReadingsTopic: "tidewatch.readings",
			GroupID:       "tidewatch",
			Producer: ProducerConfig{
				PoolSize:     4,
				BatchSize:    100,
				BatchTimeout: 100 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		MQTT: MQTTConfig{
			ClientID: "tidewatch",
			Topic:    "tidewatch/readings/#",
			QoS:      1,
		},
		Notify: NotifyConfig{
			MinSeverity: "high",
			Timeout:     5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and environment variables, in that order of precedence.
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings the service cannot start without. Individual
// rules are not checked here; a bad rule is logged and skipped at startup.
func (c *Config) Validate() error {
	if c.Retention <= 0 {
		return errors.New("retention must be positive")
	}
	if c.Hub.QueueSize <= 0 {
		return errors.New("hub queue_size must be positive")
	}
	switch c.Hub.Overflow {
	case "drop_oldest", "disconnect":
	default:
		return fmt.Errorf("unknown hub overflow policy %q", c.Hub.Overflow)
	}
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage sqlite_path is required")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage postgres_dsn is required")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getenv("TIDEWATCH_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.NodeID = getenv("TIDEWATCH_NODE_ID", c.NodeID)
	c.Storage.Backend = getenv("TIDEWATCH_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.SQLitePath = getenv("TIDEWATCH_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.PostgresDSN = getenv("TIDEWATCH_POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Hub.Overflow = getenv("TIDEWATCH_HUB_OVERFLOW", c.Hub.Overflow)
	c.Notify.WebhookURL = getenv("TIDEWATCH_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.Secret = getenv("TIDEWATCH_WEBHOOK_SECRET", c.Notify.Secret)

	var err error
	if c.Retention, err = getenvInt("TIDEWATCH_RETENTION", c.Retention); err != nil {
		return err
	}
	if c.Hub.QueueSize, err = getenvInt("TIDEWATCH_HUB_QUEUE_SIZE", c.Hub.QueueSize); err != nil {
		return err
	}
	if v := os.Getenv("TIDEWATCH_THREAT_ENABLED"); v != "" {
		enabled, perr := strconv.ParseBool(v)
		if perr != nil {
			return fmt.Errorf("TIDEWATCH_THREAT_ENABLED: %w", perr)
		}
		c.Threat.Enabled = enabled
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.Topic = getenv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.ReadingsTopic = getenv("KAFKA_READINGS_TOPIC", c.Kafka.ReadingsTopic)
	c.Kafka.GroupID = getenv("KAFKA_GROUP_ID", c.Kafka.GroupID)

	c.MQTT.BrokerURL = getenv("MQTT_BROKER_URL", c.MQTT.BrokerURL)
	c.MQTT.ClientID = getenv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Topic = getenv("MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.Username = getenv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getenv("MQTT_PASSWORD", c.MQTT.Password)
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
