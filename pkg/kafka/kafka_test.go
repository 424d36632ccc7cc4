package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) committedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func TestStartBatchFlushesOnSizeAndTimeout(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 3)}
	for i := int64(0); i < 3; i++ {
		r.msgs <- kafka.Message{Offset: i, Value: []byte("{}")}
	}
	c := newConsumer(r, "document-ingest")

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var sizes []int
	done := make(chan error)
	go func() {
		done <- c.StartBatch(ctx, 2, 20*time.Millisecond, func(_ context.Context, msgs []Message) error {
			mu.Lock()
			sizes = append(sizes, len(msgs))
			mu.Unlock()
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for len(r.committedOffsets()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out, committed %v", r.committedOffsets())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("StartBatch returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 || sizes[0] != 2 || sizes[1] != 1 {
		t.Fatalf("unexpected batch sizes %v", sizes)
	}
}

func TestStartBatchRetriesFailedBatch(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 1)}
	r.msgs <- kafka.Message{Offset: 9}
	c := newConsumer(r, "document-ingest")
	c.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int
	done := make(chan error)
	go func() {
		done <- c.StartBatch(ctx, 1, time.Millisecond, func(_ context.Context, msgs []Message) error {
			calls++
			if calls == 1 {
				return errors.New("index busy")
			}
			cancel()
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StartBatch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
	if got := r.committedOffsets(); len(got) != 1 || got[0] != 9 {
		t.Fatalf("unexpected commits %v", got)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestProducerPublishesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "index-complete")
	err := p.PublishBatch(context.Background(), []Event{
		{Key: "a", Value: map[string]int{"docs": 2}},
		{Key: "b", Value: []string{"x"}},
	})
	if err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}
	if len(w.msgs) != 2 || string(w.msgs[0].Value) != `{"docs":2}` || string(w.msgs[1].Key) != "b" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}

	w.err = errors.New("broker down")
	if err := p.Publish(context.Background(), Event{Key: "c", Value: 1}); !errors.Is(err, w.err) {
		t.Fatalf("expected broker error, got %v", err)
	}

	decoded, err := DecodeJSON[map[string]int](w.msgs[0].Value)
	if err != nil || decoded["docs"] != 2 {
		t.Fatalf("DecodeJSON: %v %v", decoded, err)
	}
}
