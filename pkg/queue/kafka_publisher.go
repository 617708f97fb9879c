package queue

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	kafkacfg "github.com/walletkit/history-migrator/pkg/kafka"
)

// producer is the subset of *kafka.Producer the publisher drives.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Logs() chan kafka.LogEvent
	Flush(timeoutMs int) int
	Close()
}

var (
	_ producer        = (*kafka.Producer)(nil)
	_ Publisher       = (*KafkaPublisher)(nil)
	_ FailureNotifier = (*KafkaPublisher)(nil)
)

const queueFullRetryDelay = time.Second

// KafkaPublisher publishes messages synchronously to Kafka. A background
// goroutine drains producer events and, when enabled, librdkafka logs.
type KafkaPublisher struct {
	producer     producer
	log          *zap.SugaredLogger
	flushTimeout time.Duration
	logs         bool

	errCh    chan error
	closedCh chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewKafkaPublisher creates a publisher for the report producer settings in cfg.
// ctx bounds the lifetime of the background goroutine.
func NewKafkaPublisher(ctx context.Context, cfg kafkacfg.ReportConfig, log *zap.SugaredLogger) (*KafkaPublisher, error) {
	cfg = cfg.WithDefaults()
	p, err := kafka.NewProducer(cfg.ProducerConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newKafkaPublisher(ctx, p, cfg.FlushTimeout, cfg.EnableLogs, log), nil
}

func newKafkaPublisher(ctx context.Context, p producer, flushTimeout time.Duration, logs bool, log *zap.SugaredLogger) *KafkaPublisher {
	q := &KafkaPublisher{
		producer:     p,
		log:          log,
		flushTimeout: flushTimeout,
		logs:         logs,
		errCh:        make(chan error, 1),
		closedCh:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	go q.watch(ctx)
	return q
}

// Publish produces msg and waits for its delivery receipt. A full local queue
// is retried after a delay; broker, size, topic and auth errors are returned.
// If ctx is done first, ctx.Err() is returned and the message may still be
// delivered later.
func (q *KafkaPublisher) Publish(ctx context.Context, msg Msg) error {
	kMsg := toKafkaMessage(msg)
	deliveryCh := make(chan kafka.Event, 1)

	if err := q.produceWithRetry(ctx, kMsg, deliveryCh); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryCh:
		return handleDeliveryEvent(q.log, kMsg, e)
	}
}

// Close stops the background goroutine and flushes queued messages until the
// flush timeout elapses or ctx is done. Calling Close again does nothing.
func (q *KafkaPublisher) Close(ctx context.Context) {
	q.once.Do(func() {
		q.log.Info("closing kafka publisher")
		defer close(q.errCh)

		close(q.closedCh)
		<-q.done

		deadline := time.Now().Add(q.flushTimeout)
		for pending := q.producer.Flush(100); pending > 0; pending = q.producer.Flush(100) {
			if ctx.Err() != nil || time.Now().After(deadline) {
				q.log.Warnw("flush incomplete, reports will be lost", "pending", pending)
				break
			}
		}

		q.producer.Close()
		q.log.Info("kafka publisher closed")
	})
}

// Errors receives at most one fatal producer error and is closed by Close.
func (q *KafkaPublisher) Errors() <-chan error {
	return q.errCh
}

func (q *KafkaPublisher) produceWithRetry(ctx context.Context, msg *kafka.Message, deliveryCh chan kafka.Event) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := q.producer.Produce(msg, deliveryCh)
		if err == nil {
			return nil
		}

		kafkaErr, ok := err.(kafka.Error)
		if !ok {
			return fmt.Errorf("failed to produce: %w", err)
		}

		switch kafkaErr.Code() {
		case kafka.ErrQueueFull:
			q.log.Warnw("producer queue full, retrying", "delay", queueFullRetryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(queueFullRetryDelay):
			}
		case kafka.ErrBrokerNotAvailable:
			return fmt.Errorf("broker not available: %w", err)
		case kafka.ErrInvalidMsgSize:
			return fmt.Errorf("invalid message size: %w", err)
		case kafka.ErrInvalidMsg:
			return fmt.Errorf("invalid message: %w", err)
		case kafka.ErrUnknownTopicOrPart:
			return fmt.Errorf("unknown topic or partition: %w", err)
		case kafka.ErrAuthentication:
			return fmt.Errorf("authentication error: %w", err)
		default:
			return fmt.Errorf("failed to produce: %w", err)
		}
	}
}

func (q *KafkaPublisher) watch(ctx context.Context) {
	defer close(q.done)

	var logs chan kafka.LogEvent
	if q.logs {
		logs = q.producer.Logs()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closedCh:
			return
		case l, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			q.log.Debugw("librdkafka", "level", l.Level, "tag", l.Tag, "message", l.Message)
		case ev, ok := <-q.producer.Events():
			if !ok {
				q.fatal(fmt.Errorf("kafka producer event channel closed"))
				return
			}
			switch e := ev.(type) {
			case kafka.Error:
				if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
					q.fatal(fmt.Errorf("fatal err or ErrAllBrokersDown: %#x, %w", e.Code(), e))
					return
				}
				q.log.Warnw("ignoring kafka error", "code", e.Code(), "error", e)
			case *kafka.Message:
				q.log.Warnw("unexpected delivery receipt on events channel", "topic", e.TopicPartition.Topic)
			default:
				q.log.Debugw("kafka event", "event", e.String())
			}
		}
	}
}

func (q *KafkaPublisher) fatal(err error) {
	select {
	case q.errCh <- err:
	default:
		q.log.Warnw("error channel is full", "error", err)
	}
}

func toKafkaMessage(msg Msg) *kafka.Message {
	topic := msg.Topic
	kMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            msg.Key,
		Value:          msg.Value,
	}

	if len(msg.Headers) > 0 {
		keys := make([]string, 0, len(msg.Headers))
		for k := range msg.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kMsg.Headers = make([]kafka.Header, 0, len(keys))
		for _, k := range keys {
			kMsg.Headers = append(kMsg.Headers, kafka.Header{Key: k, Value: []byte(msg.Headers[k])})
		}
	}
	return kMsg
}

func handleDeliveryEvent(log *zap.SugaredLogger, msg *kafka.Message, ev kafka.Event) error {
	switch e := ev.(type) {
	case *kafka.Message:
		if err := e.TopicPartition.Error; err != nil {
			return fmt.Errorf("delivery failed: %w", err)
		}
		if !slices.Equal(e.Value, msg.Value) {
			return fmt.Errorf("delivery receipt for topic %s did not match the published value", *msg.TopicPartition.Topic)
		}
		log.Debugw("delivered",
			"topic", *msg.TopicPartition.Topic,
			"partition", e.TopicPartition.Partition,
			"offset", e.TopicPartition.Offset)
		return nil
	case kafka.Error:
		return fmt.Errorf("kafka error: code=%d fatal=%t: %w", e.Code(), e.IsFatal(), e)
	default:
		return fmt.Errorf("unexpected delivery event: %T", ev)
	}
}
