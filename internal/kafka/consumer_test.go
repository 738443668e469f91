package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

var errFatal = errors.New("unresolvable")

func newTestConsumer(dlq *Producer, fatal func(error) bool) *Consumer {
	return &Consumer{
		workers:     1,
		maxAttempts: 3,
		backoff:     time.Millisecond,
		fatal:       fatal,
		dlq:         dlq,
	}
}

func drainDLQ(t *testing.T, dlq *Producer) (kafka.Message, bool) {
	t.Helper()
	select {
	case m := <-dlq.inbox:
		return m, true
	default:
		return kafka.Message{}, false
	}
}

func TestProcess_SuccessFirstAttempt(t *testing.T) {
	dlq := NewProducer(nil, "dead.letter", 4)
	c := newTestConsumer(dlq, nil)

	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		return nil
	}
	c.process(context.Background(), h, kafka.Message{Topic: "payment.callback"})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if _, ok := drainDLQ(t, dlq); ok {
		t.Error("success must not dead-letter")
	}
}

func TestProcess_RetriesThenSucceeds(t *testing.T) {
	dlq := NewProducer(nil, "dead.letter", 4)
	c := newTestConsumer(dlq, nil)

	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}
	c.process(context.Background(), h, kafka.Message{Topic: "payment.callback"})

	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if _, ok := drainDLQ(t, dlq); ok {
		t.Error("recovered message must not dead-letter")
	}
}

func TestProcess_RetryExhaustionDeadLetters(t *testing.T) {
	dlq := NewProducer(nil, "dead.letter", 4)
	c := newTestConsumer(dlq, nil)

	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		return errors.New("still broken")
	}
	msg := kafka.Message{Topic: "payment.callback", Key: []byte("CHK-1"), Value: []byte("{}")}
	c.process(context.Background(), h, msg)

	if calls != c.maxAttempts {
		t.Errorf("expected %d attempts, got %d", c.maxAttempts, calls)
	}
	dead, ok := drainDLQ(t, dlq)
	if !ok {
		t.Fatal("expected a dead-lettered message")
	}
	if string(dead.Key) != "CHK-1" || string(dead.Value) != "{}" {
		t.Errorf("dead letter must carry the original key/value, got %q %q", dead.Key, dead.Value)
	}
	assertHeader(t, dead, "x-dead-letter-reason", "still broken")
	assertHeader(t, dead, "x-origin-topic", "payment.callback")
}

func TestProcess_FatalSkipsRetries(t *testing.T) {
	dlq := NewProducer(nil, "dead.letter", 4)
	c := newTestConsumer(dlq, func(err error) bool { return errors.Is(err, errFatal) })

	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		return errFatal
	}
	c.process(context.Background(), h, kafka.Message{Topic: "payment.callback"})

	if calls != 1 {
		t.Errorf("fatal error must not be retried, got %d attempts", calls)
	}
	if _, ok := drainDLQ(t, dlq); !ok {
		t.Error("fatal error must dead-letter on the first attempt")
	}
}

func assertHeader(t *testing.T, m kafka.Message, key, want string) {
	t.Helper()
	for _, h := range m.Headers {
		if h.Key == key {
			if string(h.Value) != want {
				t.Errorf("header %s = %q, want %q", key, h.Value, want)
			}
			return
		}
	}
	t.Errorf("missing header %s", key)
}
