package core

import (
	"context"
	"errors"
	"testing"
)

func newRunContextForTest(t *testing.T) (*RunContext, *memStore, chan Event) {
	t.Helper()
	store := newMemStore()
	thread, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	emit := make(chan Event, 10)
	return NewRunContext(context.Background(), thread, "turn-1", store, emit, nil), store, emit
}

func TestRunContext_EmitEventStampsIdentifiers(t *testing.T) {
	rc, _, emit := newRunContextForTest(t)
	rc = rc.ForAgent("enhancer")

	if err := rc.EmitEvent(NewDeltaEvent("", "hi")); err != nil {
		t.Fatalf("EmitEvent error: %v", err)
	}
	ev := <-emit
	if ev.ThreadID != rc.ThreadID || ev.TurnID != "turn-1" {
		t.Fatalf("identifiers not stamped: %+v", ev)
	}
	if ev.Agent != "enhancer" {
		t.Fatalf("agent = %q", ev.Agent)
	}
}

func TestRunContext_EmitEventCancelled(t *testing.T) {
	store := newMemStore()
	thread, _ := store.Create(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rc := NewRunContext(ctx, thread, "turn", store, make(chan Event), nil)

	if err := rc.EmitEvent(NewEvent(EventTurnEnd, "")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunContext_CommitSharedAcrossAgents(t *testing.T) {
	rc, store, _ := newRunContextForTest(t)
	sup := rc.ForAgent("supervisor")
	enh := rc.ForAgent("enhancer")

	if err := sup.Commit(NewAssistantMessage("supervisor", "refine the request")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := len(enh.Messages()); got != 1 {
		t.Fatalf("enhancer sees %d messages, want 1", got)
	}

	stored, _ := store.Load(context.Background(), rc.ThreadID)
	if len(stored.Messages) != 1 || stored.Messages[0].Name != "supervisor" {
		t.Fatalf("store not updated: %+v", stored.Messages)
	}
}

func TestRunContext_CommitFailureLeavesSnapshot(t *testing.T) {
	rc, store, _ := newRunContextForTest(t)
	store.appendErr = errors.New("disk full")

	if err := rc.Commit(NewUserMessage("hello")); err == nil {
		t.Fatal("expected error")
	}
	if len(rc.Messages()) != 0 {
		t.Fatal("snapshot must not change when the store rejects a batch")
	}
}

func TestRunContext_MessagesReturnsCopy(t *testing.T) {
	rc, _, _ := newRunContextForTest(t)
	_ = rc.Commit(NewUserMessage("hello"))

	msgs := rc.Messages()
	msgs[0].Content = "mutated"

	if rc.Messages()[0].Content != "hello" {
		t.Fatal("Messages must return a copy")
	}
}
