package kafka

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	DefaultFlushTimeout = 15 * time.Second
	DefaultBufferSize   = 1024
)

// ReportConfig holds the configuration for the error report producer.
// An empty Topic disables queue reporting.
type ReportConfig struct {
	BootstrapServers  string        `env:"KAFKA_BOOTSTRAP_SERVERS"         envDefault:"localhost:9092"`   // Kafka broker addresses
	Topic             string        `env:"KAFKA_REPORT_TOPIC"`                                            // Topic receiving migration error reports
	ClientID          string        `env:"KAFKA_CLIENT_ID"                 envDefault:"history-migrator"` // client.id sent to the brokers
	Partitions        int           `env:"KAFKA_REPORT_PARTITIONS"         envDefault:"1"`                // Partitions used when the topic is created
	ReplicationFactor int           `env:"KAFKA_REPORT_REPLICATION_FACTOR" envDefault:"1"`                // Replication factor used when the topic is created
	BufferSize        int           `env:"KAFKA_REPORT_BUFFER_SIZE"        envDefault:"1024"`             // Reports held in memory before new ones are dropped
	FlushTimeout      time.Duration `env:"KAFKA_FLUSH_TIMEOUT"             envDefault:"15s"`              // Upper bound on flushing queued reports at shutdown
	EnableLogs        bool          `env:"KAFKA_ENABLE_LOGS"               envDefault:"false"`            // Forward librdkafka client logs to the logger
}

// LoadReportConfig loads the report producer configuration from environment variables.
func LoadReportConfig() (ReportConfig, error) {
	var cfg ReportConfig
	if err := env.Parse(&cfg); err != nil {
		return ReportConfig{}, fmt.Errorf("failed to parse kafka report config: %w", err)
	}
	return cfg, nil
}

// Enabled reports whether a report topic is configured.
func (c ReportConfig) Enabled() bool {
	return c.Topic != ""
}

// TopicConfig returns the topic settings used by EnsureTopic.
func (c ReportConfig) TopicConfig() TopicConfig {
	return TopicConfig{
		Name:              c.Topic,
		NumPartitions:     c.Partitions,
		ReplicationFactor: c.ReplicationFactor,
	}
}

// WithDefaults returns a copy of the config with zero-valued limits filled in.
func (c ReportConfig) WithDefaults() ReportConfig {
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Partitions <= 0 {
		c.Partitions = 1
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	return c
}

// ProducerConfigMap builds the librdkafka settings for the report producer.
// Reports are small and infrequent, so the producer favors delivery over throughput.
func (c ReportConfig) ProducerConfigMap() *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":      c.BootstrapServers,
		"client.id":              c.ClientID,
		"acks":                   "all",
		"enable.idempotence":     true,
		"linger.ms":              5,
		"go.logs.channel.enable": c.EnableLogs,
	}
}

// AdminConfigMap builds the settings for the admin client used by EnsureTopic.
func (c ReportConfig) AdminConfigMap() *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers": c.BootstrapServers,
		"client.id":         c.ClientID + "-admin",
	}
}
