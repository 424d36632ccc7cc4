package reloader

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/BScong/text-indexing/internal/ingestion"
)

type fakeIndex struct {
	reloads int
	err     error
}

func (f *fakeIndex) Reload() error {
	f.reloads++
	return f.err
}

type fakeCache struct{ invalidations int }

func (f *fakeCache) Invalidate(context.Context) error {
	f.invalidations++
	return nil
}

func TestHandleMessage(t *testing.T) {
	idx := &fakeIndex{}
	c := &fakeCache{}
	rl := New(idx, c)

	payload, _ := json.Marshal(ingestion.IndexCompleteEvent{DocsIndexed: 4})
	if err := rl.HandleMessage(context.Background(), []byte("index"), payload); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if err := rl.HandleMessage(context.Background(), nil, []byte("garbage")); err != nil {
		t.Fatalf("HandleMessage with garbage payload: %v", err)
	}
	if idx.reloads != 2 || c.invalidations != 2 {
		t.Fatalf("reloads=%d invalidations=%d, want 2 and 2", idx.reloads, c.invalidations)
	}

	idx.err = errors.New("corrupt posting list")
	if err := rl.HandleMessage(context.Background(), nil, payload); !errors.Is(err, idx.err) {
		t.Fatalf("expected reload error, got %v", err)
	}
	if c.invalidations != 2 {
		t.Fatalf("cache invalidated after failed reload")
	}
}

func TestNilCache(t *testing.T) {
	idx := &fakeIndex{}
	if err := New(idx, nil).HandleMessage(context.Background(), nil, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if idx.reloads != 1 {
		t.Fatalf("reloads = %d", idx.reloads)
	}
}
