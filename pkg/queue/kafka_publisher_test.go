package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProducer struct {
	mu        sync.Mutex
	produced  []*kafka.Message
	produceFn func(msg *kafka.Message, deliveryChan chan kafka.Event) error
	events    chan kafka.Event
	logs      chan kafka.LogEvent
	pending   int
	closed    bool
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{
		events: make(chan kafka.Event, 4),
		logs:   make(chan kafka.LogEvent, 4),
	}
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	f.mu.Lock()
	f.produced = append(f.produced, msg)
	fn := f.produceFn
	f.mu.Unlock()
	if fn != nil {
		return fn(msg, deliveryChan)
	}
	deliveryChan <- msg
	return nil
}

func (f *fakeProducer) Events() chan kafka.Event { return f.events }
func (f *fakeProducer) Logs() chan kafka.LogEvent { return f.logs }

func (f *fakeProducer) Flush(int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
	}
	return f.pending
}

func (f *fakeProducer) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeProducer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestPublisher(t *testing.T, p *fakeProducer) *KafkaPublisher {
	t.Helper()
	q := newKafkaPublisher(t.Context(), p, time.Second, true, zap.NewNop().Sugar())
	t.Cleanup(func() { q.Close(context.Background()) })
	return q
}

func TestToKafkaMessage(t *testing.T) {
	msg := toKafkaMessage(Msg{
		Topic:   "migration-reports",
		Key:     []byte("acc-1"),
		Value:   []byte(`{"stage":"build"}`),
		Headers: map[string]string{"stage": "build", "content-type": "application/json"},
	})

	require.NotNil(t, msg.TopicPartition.Topic)
	assert.Equal(t, "migration-reports", *msg.TopicPartition.Topic)
	assert.Equal(t, kafka.PartitionAny, msg.TopicPartition.Partition)
	assert.Equal(t, []byte("acc-1"), msg.Key)
	assert.Equal(t, []kafka.Header{
		{Key: "content-type", Value: []byte("application/json")},
		{Key: "stage", Value: []byte("build")},
	}, msg.Headers)
}

func TestToKafkaMessage_NoHeaders(t *testing.T) {
	msg := toKafkaMessage(Msg{Topic: "t", Value: []byte("v")})
	assert.Nil(t, msg.Headers)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	p := newFakeProducer()
	q := newTestPublisher(t, p)

	err := q.Publish(t.Context(), Msg{Topic: "reports", Value: []byte("payload")})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.produced, 1)
	assert.Equal(t, []byte("payload"), p.produced[0].Value)
}

func TestKafkaPublisher_DeliveryFailure(t *testing.T) {
	p := newFakeProducer()
	p.produceFn = func(msg *kafka.Message, ch chan kafka.Event) error {
		failed := *msg
		failed.TopicPartition.Error = kafka.NewError(kafka.ErrMsgTimedOut, "timed out", false)
		ch <- &failed
		return nil
	}
	q := newTestPublisher(t, p)

	err := q.Publish(t.Context(), Msg{Topic: "reports", Value: []byte("x")})
	require.ErrorContains(t, err, "delivery failed")
}

func TestKafkaPublisher_ProduceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"broker", kafka.NewError(kafka.ErrBrokerNotAvailable, "down", false), "broker not available"},
		{"size", kafka.NewError(kafka.ErrInvalidMsgSize, "big", false), "invalid message size"},
		{"topic", kafka.NewError(kafka.ErrUnknownTopicOrPart, "nope", false), "unknown topic or partition"},
		{"auth", kafka.NewError(kafka.ErrAuthentication, "denied", false), "authentication error"},
		{"other kafka", kafka.NewError(kafka.ErrFail, "boom", false), "failed to produce"},
		{"non kafka", errors.New("boom"), "failed to produce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProducer()
			p.produceFn = func(*kafka.Message, chan kafka.Event) error { return tt.err }
			q := newTestPublisher(t, p)

			err := q.Publish(t.Context(), Msg{Topic: "reports", Value: []byte("x")})
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestKafkaPublisher_QueueFullHonorsContext(t *testing.T) {
	p := newFakeProducer()
	p.produceFn = func(*kafka.Message, chan kafka.Event) error {
		return kafka.NewError(kafka.ErrQueueFull, "full", false)
	}
	q := newTestPublisher(t, p)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	err := q.Publish(ctx, Msg{Topic: "reports", Value: []byte("x")})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKafkaPublisher_CanceledBeforeDelivery(t *testing.T) {
	p := newFakeProducer()
	p.produceFn = func(*kafka.Message, chan kafka.Event) error { return nil }
	q := newTestPublisher(t, p)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := q.Publish(ctx, Msg{Topic: "reports", Value: []byte("x")})
	require.ErrorIs(t, err, context.Canceled)
}

func TestKafkaPublisher_FatalEvent(t *testing.T) {
	p := newFakeProducer()
	q := newTestPublisher(t, p)

	p.events <- kafka.NewError(kafka.ErrAllBrokersDown, "all brokers down", false)

	select {
	case err := <-q.Errors():
		require.ErrorContains(t, err, "all brokers down")
	case <-time.After(2 * time.Second):
		t.Fatal("expected fatal error")
	}
}

func TestKafkaPublisher_CloseFlushesAndIsIdempotent(t *testing.T) {
	p := newFakeProducer()
	p.pending = 3
	q := newKafkaPublisher(t.Context(), p, time.Second, false, zap.NewNop().Sugar())

	q.Close(t.Context())
	q.Close(t.Context())

	assert.True(t, p.isClosed())
	assert.Zero(t, p.pending)

	_, open := <-q.Errors()
	assert.False(t, open)
}

func TestKafkaPublisher_CloseStopsOnCanceledContext(t *testing.T) {
	p := newFakeProducer()
	p.pending = 1000
	q := newKafkaPublisher(t.Context(), p, time.Minute, false, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	q.Close(ctx)

	assert.True(t, p.isClosed())
	assert.Equal(t, 999, p.pending)
}

func TestHandleDeliveryEvent(t *testing.T) {
	topic := "reports"
	sent := &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic}, Value: []byte("a")}
	log := zap.NewNop().Sugar()

	require.NoError(t, handleDeliveryEvent(log, sent, sent))

	other := &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic}, Value: []byte("b")}
	require.ErrorContains(t, handleDeliveryEvent(log, sent, other), "did not match")

	require.ErrorContains(t, handleDeliveryEvent(log, sent, kafka.NewError(kafka.ErrFail, "x", true)), "fatal=true")
	require.ErrorContains(t, handleDeliveryEvent(log, sent, kafka.Stats{}), "unexpected delivery event")
}
