package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const metadataTimeout = 10 * time.Second

// Admin is the subset of *kafka.AdminClient used for topic management.
type Admin interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
	CreatePartitions(ctx context.Context, partitions []kafka.PartitionsSpecification, options ...kafka.CreatePartitionsAdminOption) ([]kafka.TopicResult, error)
}

var _ Admin = (*kafka.AdminClient)(nil)

// TopicConfig describes the report topic to create or validate.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

// Validate checks if the TopicConfig is usable for topic creation.
func (tc TopicConfig) Validate() error {
	if tc.Name == "" {
		return errors.New("topic name cannot be empty")
	}
	if tc.NumPartitions <= 0 {
		return fmt.Errorf("number of partitions must be > 0, got %d", tc.NumPartitions)
	}
	if tc.ReplicationFactor <= 0 {
		return fmt.Errorf("replication factor must be > 0, got %d", tc.ReplicationFactor)
	}
	return nil
}

// TopicExists returns the topic metadata, or nil when the topic does not exist.
func TopicExists(admin Admin, topicName string) (*kafka.TopicMetadata, error) {
	metadata, err := admin.GetMetadata(&topicName, false, int(metadataTimeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for topic %q: %w", topicName, err)
	}

	topicMetadata, exists := metadata.Topics[topicName]
	if !exists || topicMetadata.Error.Code() == kafka.ErrUnknownTopicOrPart {
		return nil, nil
	}
	if topicMetadata.Error.Code() != kafka.ErrNoError {
		return nil, fmt.Errorf("topic %q has error: %w", topicName, topicMetadata.Error)
	}

	return &topicMetadata, nil
}

// CreateTopic creates the topic. A topic that already exists is not an error.
func CreateTopic(ctx context.Context, admin Admin, config TopicConfig, log *zap.SugaredLogger) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             config.Name,
		NumPartitions:     config.NumPartitions,
		ReplicationFactor: config.ReplicationFactor,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", config.Name, err)
	}

	for _, result := range results {
		switch result.Error.Code() {
		case kafka.ErrNoError:
			log.Infow("created report topic",
				"topic", result.Topic,
				"partitions", config.NumPartitions,
				"replicationFactor", config.ReplicationFactor)
		case kafka.ErrTopicAlreadyExists:
			log.Infow("report topic already exists", "topic", result.Topic)
		default:
			return fmt.Errorf("failed to create topic %q: %w", result.Topic, result.Error)
		}
	}
	return nil
}

// EnsureTopic makes sure the report topic exists with at least the configured
// partition count. Extra partitions and a differing replication factor are
// logged and left alone since the admin API cannot shrink or reassign them.
func EnsureTopic(ctx context.Context, admin Admin, config TopicConfig, log *zap.SugaredLogger) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	topicMetadata, err := TopicExists(admin, config.Name)
	if err != nil {
		return fmt.Errorf("failed to check topic existence: %w", err)
	}
	if topicMetadata == nil {
		return CreateTopic(ctx, admin, config, log)
	}

	currentPartitions := len(topicMetadata.Partitions)
	currentRF := replicationFactor(topicMetadata)

	if currentRF != config.ReplicationFactor {
		log.Warnw("report topic replication factor differs from config",
			"topic", config.Name,
			"current", currentRF,
			"desired", config.ReplicationFactor)
	}

	switch {
	case currentPartitions < config.NumPartitions:
		log.Infow("increasing report topic partitions",
			"topic", config.Name,
			"from", currentPartitions,
			"to", config.NumPartitions)
		return increasePartitions(ctx, admin, config.Name, config.NumPartitions, log)
	case currentPartitions > config.NumPartitions:
		log.Warnw("report topic has more partitions than configured",
			"topic", config.Name,
			"current", currentPartitions,
			"desired", config.NumPartitions)
	}
	return nil
}

// EnsureReportTopic dials an admin client for cfg and runs EnsureTopic with it.
func EnsureReportTopic(ctx context.Context, cfg ReportConfig, log *zap.SugaredLogger) error {
	admin, err := kafka.NewAdminClient(cfg.AdminConfigMap())
	if err != nil {
		return fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	defer admin.Close()

	return EnsureTopic(ctx, admin, cfg.WithDefaults().TopicConfig(), log)
}

func increasePartitions(ctx context.Context, admin Admin, topicName string, count int, log *zap.SugaredLogger) error {
	results, err := admin.CreatePartitions(ctx, []kafka.PartitionsSpecification{{
		Topic:      topicName,
		IncreaseTo: count,
	}})
	if err != nil {
		return fmt.Errorf("failed to increase partitions for topic %q: %w", topicName, err)
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError {
			return fmt.Errorf("failed to increase partitions for topic %q: %w", result.Topic, result.Error)
		}
		log.Infow("increased partitions", "topic", result.Topic, "partitions", count)
	}
	return nil
}

func replicationFactor(metadata *kafka.TopicMetadata) int {
	if len(metadata.Partitions) == 0 {
		return 0
	}
	return len(metadata.Partitions[0].Replicas)
}
