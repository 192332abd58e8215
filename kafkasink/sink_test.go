package kafkasink

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/velmie/atomfeed"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)

	return nil
}

func TestWorkerPublishesEvent(t *testing.T) {
	writer := &fakeWriter{}
	worker := NewWorker(writer, "orders", "https://orders.example.com/feed/recent")

	err := worker.Process(context.Background(), atomfeed.Event{ID: "e1", Title: "order-created", Content: `{"order":"1"}`})
	require.NoError(t, err)

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	require.Equal(t, "orders", msg.Topic)
	require.Equal(t, "https://orders.example.com/feed/recent", string(msg.Key))
	require.Equal(t, `{"order":"1"}`, string(msg.Value))
	require.Equal(t, []kafka.Header{
		{Key: HeaderEventID, Value: []byte("e1")},
		{Key: HeaderTitle, Value: []byte("order-created")},
		{Key: HeaderFeedURI, Value: []byte("https://orders.example.com/feed/recent")},
	}, msg.Headers)
}

func TestWorkerWrapsWriteError(t *testing.T) {
	cause := errors.New("leader not available")
	worker := NewWorker(&fakeWriter{err: cause}, "orders", "/feed")

	err := worker.Process(context.Background(), atomfeed.Event{ID: "e1"})
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "e1")
}

func TestNewWriter(t *testing.T) {
	_, err := NewWriter(nil)
	require.ErrorIs(t, err, ErrBrokersRequired)

	writer, err := NewWriter([]string{"kafka-1:9092", "kafka-2:9092"})
	require.NoError(t, err)
	require.Equal(t, kafka.RequireAll, writer.RequiredAcks)
	require.Contains(t, writer.Addr.String(), "kafka-1:9092")
}
