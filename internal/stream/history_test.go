package stream

import (
	"context"
	"testing"
	"time"
)

func TestMemoryHistory_ReadReturnsChronologicalOrder(t *testing.T) {
	h := NewMemoryHistory(10)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := h.Append(ctx, "s1", StreamEvent{LineNumber: i, Timestamp: time.Now()}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := h.Read(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	for i, e := range events {
		if e.LineNumber != i+1 {
			t.Fatalf("events not chronological: index %d has LineNumber %d", i, e.LineNumber)
		}
	}
}

func TestMemoryHistory_TrimsToMaxLines(t *testing.T) {
	h := NewMemoryHistory(3)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_ = h.Append(ctx, "s1", StreamEvent{LineNumber: i})
	}

	n, err := h.Len(ctx, "s1")
	if err != nil || n != 3 {
		t.Fatalf("got len=%d err=%v, want 3", n, err)
	}

	events, _ := h.Read(ctx, "s1", 10)
	if events[0].LineNumber != 3 || events[len(events)-1].LineNumber != 5 {
		t.Fatalf("expected newest 3 retained oldest-first, got %+v", events)
	}
}

func TestMemoryHistory_ClearRemovesAll(t *testing.T) {
	h := NewMemoryHistory(10)
	ctx := context.Background()
	_ = h.Append(ctx, "s1", StreamEvent{LineNumber: 1})
	_ = h.Clear(ctx, "s1")

	n, _ := h.Len(ctx, "s1")
	if n != 0 {
		t.Fatalf("got len=%d after clear, want 0", n)
	}
}

func TestMemoryHistory_ReadSafeNeverErrors(t *testing.T) {
	h := NewMemoryHistory(10)
	events := h.ReadSafe(context.Background(), "missing", 10)
	if len(events) != 0 {
		t.Fatalf("got %d events for missing session, want 0", len(events))
	}
}
