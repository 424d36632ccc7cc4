package tracing

import (
	"context"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		in   []time.Duration
		want DurationStats
	}{
		{"empty", nil, DurationStats{}},
		{"odd", []time.Duration{3, 1, 2}, DurationStats{Count: 3, Total: 6, Min: 1, Max: 3, Mean: 2, Median: 2}},
		{"even", []time.Duration{4, 1, 2, 8}, DurationStats{Count: 4, Total: 15, Min: 1, Max: 8, Mean: 3, Median: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.in); got != tt.want {
				t.Errorf("Summarize(%v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestChildSpans(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "run", "trace-1")
	for i := 0; i < 3; i++ {
		_, child := StartChildSpan(ctx, "batch")
		if child.TraceID != "trace-1" {
			t.Fatalf("child did not inherit trace id: %q", child.TraceID)
		}
		child.End()
	}
	_, open := StartChildSpan(ctx, "unfinished")
	_ = open
	root.End()

	if got := len(root.ChildDurations()); got != 3 {
		t.Fatalf("expected 3 ended children, got %d", got)
	}
	if SpanFromContext(ctx) != root {
		t.Fatal("SpanFromContext did not return the root span")
	}
}
