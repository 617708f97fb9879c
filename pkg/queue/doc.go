// Package queue publishes migration error reports to a durable queue.
//
// Publisher is the seam used by the report package; KafkaPublisher is the
// Kafka-backed implementation. Publishers require Close to be called once to
// flush in-flight messages and release resources.
package queue
