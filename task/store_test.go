package task

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "taskforce-results-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_AppendAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Now().Add(-time.Second).UTC().Truncate(time.Millisecond)
	end := start.Add(750 * time.Millisecond)
	r := Succeeded("task-1", "agent-1", Map(map[string]Value{
		"freed_mb": Int(512),
		"paths":    List(String("/tmp/a"), String("/tmp/b")),
	}), start, end)

	if err := store.Append(ctx, r); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want agent-1", got.AgentID)
	}
	if got.Status != ResultSuccess {
		t.Errorf("Status = %q, want success", got.Status)
	}
	if !got.Output.Equal(r.Output) {
		t.Errorf("Output = %s, want %s", got.Output, r.Output)
	}
	if got.Metrics.Duration() != 750*time.Millisecond {
		t.Errorf("Duration = %v, want 750ms", got.Metrics.Duration())
	}
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_FailureKeepsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Append(ctx, Failed("task-2", "agent-2", errors.New("disk busy"), now, now)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := store.Get(ctx, "task-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OK() {
		t.Error("expected failure result")
	}
	if got.Error != "disk busy" {
		t.Errorf("Error = %q, want disk busy", got.Error)
	}
	if !got.Output.IsNull() {
		t.Errorf("Output = %s, want null", got.Output)
	}
}

func TestSQLiteStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	results := []Result{
		Succeeded("t1", "agent-1", Null(), base, base.Add(1*time.Second)),
		Failed("t2", "agent-2", errors.New("boom"), base, base.Add(2*time.Second)),
		Succeeded("t3", "agent-1", Null(), base, base.Add(3*time.Second)),
	}
	for _, r := range results {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List all: got %d, want 3", len(all))
	}
	if all[0].TaskID != "t3" || all[2].TaskID != "t1" {
		t.Errorf("List order = [%s %s %s], want newest first", all[0].TaskID, all[1].TaskID, all[2].TaskID)
	}

	byAgent, err := store.List(ctx, Filter{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("List agent-1: %v", err)
	}
	if len(byAgent) != 2 {
		t.Errorf("List agent-1: got %d, want 2", len(byAgent))
	}

	failure := ResultFailure
	failed, err := store.List(ctx, Filter{Status: &failure})
	if err != nil {
		t.Fatalf("List failures: %v", err)
	}
	if len(failed) != 1 || failed[0].TaskID != "t2" {
		t.Errorf("List failures = %v, want [t2]", failed)
	}

	limited, err := store.List(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List limit 2: got %d, want 2", len(limited))
	}
}
