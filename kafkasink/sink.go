// Package kafkasink forwards feed events to a Kafka topic.
package kafkasink

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/velmie/atomfeed"
)

// Header keys attached to every message.
const (
	HeaderEventID = "event_id"
	HeaderTitle   = "event_title"
	HeaderFeedURI = "feed_uri"
)

// ErrBrokersRequired is returned when no broker address is configured.
var ErrBrokersRequired = errors.New("atomfeed kafka: brokers are required")

// MessageWriter is the subset of *kafka.Writer used by Worker.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Worker implements atomfeed.EventWorker by publishing each event as one
// message. Messages are keyed by feed URI so a topic partition keeps feed order.
type Worker struct {
	writer  MessageWriter
	topic   string
	feedURI string
}

var _ atomfeed.EventWorker = (*Worker)(nil)

// NewWorker constructs a Worker publishing events of feedURI. An empty topic
// leaves the topic to the writer.
func NewWorker(writer MessageWriter, topic, feedURI string) *Worker {
	if writer == nil {
		panic("atomfeed kafka: nil MessageWriter")
	}

	return &Worker{writer: writer, topic: topic, feedURI: feedURI}
}

// Process writes the event and waits for the broker acknowledgement.
func (w *Worker) Process(ctx context.Context, event atomfeed.Event) error {
	msg := kafka.Message{
		Topic: w.topic,
		Key:   []byte(w.feedURI),
		Value: []byte(event.Content),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(event.ID)},
			{Key: HeaderTitle, Value: []byte(event.Title)},
			{Key: HeaderFeedURI, Value: []byte(w.feedURI)},
		},
	}

	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("atomfeed kafka: write event %s: %w", event.ID, err)
	}

	return nil
}

// NewWriter returns a synchronous writer that waits for all in-sync replicas.
// The topic is left unset so that Worker can choose it per message.
func NewWriter(brokers []string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, ErrBrokersRequired
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, nil
}
