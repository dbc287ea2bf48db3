package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducerSend(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, "notification.requested", zerolog.Nop())

	err := p.Send(context.Background(), []byte("u-1"), []byte(`{}`), EventHeaders("NotificationRequested", 1)...)
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	v, ok := HeaderValue(w.msgs[0], HeaderEventType)
	assert.True(t, ok)
	assert.Equal(t, "NotificationRequested", v)
	assert.Equal(t, "u-1", string(w.msgs[0].Key))
}

func TestProducerSendError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := NewProducerWithWriter(w, "notification.requested", zerolog.Nop())

	err := p.Send(context.Background(), nil, []byte(`{}`))
	assert.ErrorContains(t, err, "leader not available")
}

func TestProducerCloseClosesWriter(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, "notification.requested", zerolog.Nop())
	assert.Equal(t, "notification.requested", p.Topic())

	require.NoError(t, p.Send(context.Background(), []byte("a"), []byte("1")))
	p.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.msgs, 1)
	assert.True(t, w.closed)
}

type sliceReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
}

func (r *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *sliceReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *sliceReader) Close() error { return nil }

func (r *sliceReader) committedOffsets(partition int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, m := range r.committed {
		if m.Partition == partition {
			out = append(out, m.Offset)
		}
	}
	return out
}

func startConsumer(t *testing.T, c *Consumer, h Handler) {
	t.Helper()
	c.retryBackoff = time.Millisecond
	c.maxRetryBackoff = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestConsumerRetriesFailedMessageBeforeCommittingLaterOffsets(t *testing.T) {
	r := &sliceReader{msgs: []kafka.Message{
		{Partition: 0, Offset: 10, Key: []byte("flaky")},
		{Partition: 0, Offset: 11, Key: []byte("ok")},
	}}
	c := NewConsumerWithReader(r, 1, zerolog.Nop())

	var mu sync.Mutex
	var calls []int64
	startConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, m.Offset)
		if m.Offset == 10 && len(calls) <= 3 {
			return errors.New("insert notification: connection reset")
		}
		return nil
	})

	assert.Eventually(t, func() bool { return len(r.committedOffsets(0)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{10, 11}, r.committedOffsets(0))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{10, 10, 10, 10, 11}, calls)
}

func TestConsumerNeverCommitsPastAStuckOffset(t *testing.T) {
	r := &sliceReader{msgs: []kafka.Message{
		{Partition: 0, Offset: 10, Key: []byte("fail")},
		{Partition: 0, Offset: 11, Key: []byte("ok")},
		{Partition: 1, Offset: 4, Key: []byte("ok")},
	}}
	c := NewConsumerWithReader(r, 2, zerolog.Nop())

	startConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		if string(m.Key) == "fail" {
			return errors.New("handler failed")
		}
		return nil
	})

	// the other partition keeps flowing
	assert.Eventually(t, func() bool { return len(r.committedOffsets(1)) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.committedOffsets(0))
}

func TestUnwrapPayload(t *testing.T) {
	type payload struct {
		RecipientID string `json:"recipient_id"`
	}
	got, err := UnwrapPayload[payload](json.RawMessage(`{"recipient_id":"u-9"}`))
	require.NoError(t, err)
	assert.Equal(t, "u-9", got.RecipientID)

	_, err = UnwrapPayload[payload](json.RawMessage(`{`))
	assert.Error(t, err)
}
