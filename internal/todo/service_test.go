package todo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	xerrors "TaskPilot/internal/errors"
	"TaskPilot/internal/events"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *events.MemoryPublisher) {
	t.Helper()
	store := NewMemoryStore()
	pub := events.NewMemoryPublisher(32)
	t.Cleanup(func() { _ = pub.Close() })
	return NewService(store, WithPublisher(pub)), store, pub
}

func nextEvent(t *testing.T, pub *events.MemoryPublisher) events.Event {
	t.Helper()
	select {
	case ev := <-pub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("expected an event")
		return events.Event{}
	}
}

func TestServiceCreateAndList(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	task, err := svc.Create(ctx, user, "  Buy milk ", "for the party", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Title != "Buy milk" || task.Priority != PriorityMedium || task.ID == uuid.Nil {
		t.Fatalf("unexpected task: %+v", task)
	}
	if ev := nextEvent(t, pub); ev.Type != events.TaskCreated || ev.TaskID != task.ID || ev.UserID != user {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if _, err := svc.Create(ctx, user, "", "", PriorityHigh); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error for empty title, got %v", err)
	}
	if _, err := svc.Create(ctx, user, "x", "", "urgent"); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error for priority, got %v", err)
	}
	if _, err := svc.Create(ctx, uuid.Nil, "x", "", ""); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument without user, got %v", err)
	}

	list, err := svc.List(ctx, user, 0, StatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != task.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
	if other, _ := svc.List(ctx, uuid.New(), 0, StatusAll); len(other) != 0 {
		t.Fatalf("tasks must be scoped to their owner: %+v", other)
	}
}

func TestServiceResolveNewestTitleWins(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	user := uuid.New()
	base := time.Now().UTC()

	older := &Task{ID: uuid.New(), UserID: user, Title: "Buy milk", Priority: PriorityLow, CreatedAt: base}
	newer := &Task{ID: uuid.New(), UserID: user, Title: "Buy milk", Priority: PriorityLow, CreatedAt: base.Add(time.Minute)}
	for _, task := range []*Task{older, newer} {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := svc.Resolve(ctx, "Buy milk")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != newer.ID {
		t.Fatalf("expected most recently created task, got %s", got.ID)
	}

	byID, err := svc.Resolve(ctx, older.ID.String())
	if err != nil || byID.ID != older.ID {
		t.Fatalf("resolve by id: %v %+v", err, byID)
	}

	if _, err := svc.Resolve(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Resolve(ctx, uuid.NewString()); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestServiceResolveTieBreaksOnID(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	user := uuid.New()
	created := time.Now().UTC()

	low := &Task{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), UserID: user, Title: "Same", Priority: PriorityLow, CreatedAt: created}
	high := &Task{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), UserID: user, Title: "Same", Priority: PriorityLow, CreatedAt: created}
	for _, task := range []*Task{low, high} {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	got, err := svc.Resolve(ctx, "Same")
	if err != nil || got.ID != high.ID {
		t.Fatalf("expected greatest id on tie, got %v %+v", err, got)
	}
}

func TestServiceResolveHonoursOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	aliceTask, err := svc.Create(ctx, alice, "Buy milk", "", PriorityLow)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	bobCtx := WithOwner(ctx, bob)
	if _, err := svc.Resolve(bobCtx, "Buy milk"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("bob must not resolve alice's task by title: %v", err)
	}
	if _, err := svc.Resolve(bobCtx, aliceTask.ID.String()); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("bob must not resolve alice's task by id: %v", err)
	}
	if got, err := svc.Resolve(WithOwner(ctx, alice), "Buy milk"); err != nil || got.ID != aliceTask.ID {
		t.Fatalf("alice should resolve her task: %v", err)
	}
	if OwnerFrom(ctx) != uuid.Nil {
		t.Fatalf("owner must be empty by default")
	}
}

func TestServiceUpdateAndCompletion(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	task, err := svc.Create(ctx, user, "Buy milk", "", PriorityHigh)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	nextEvent(t, pub)

	outcome, err := svc.SetCompletion(ctx, "Buy milk", true)
	if err != nil {
		t.Fatalf("set completion: %v", err)
	}
	if !outcome.Success || outcome.TaskID != task.ID || !outcome.Task.IsCompleted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if ev := nextEvent(t, pub); ev.Type != events.TaskCompleted {
		t.Fatalf("expected completed event, got %s", ev.Type)
	}

	title := "Updated Title"
	low := PriorityLow
	outcome, err = svc.Update(ctx, task.ID.String(), Patch{Title: &title, Priority: &low})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome.Task.Title != "Updated Title" || outcome.Task.Priority != PriorityLow || !outcome.Task.IsCompleted {
		t.Fatalf("unexpected updated task: %+v", outcome.Task)
	}
	if ev := nextEvent(t, pub); ev.Type != events.TaskUpdated {
		t.Fatalf("expected updated event, got %s", ev.Type)
	}

	reopen := false
	if _, err := svc.Update(ctx, "Updated Title", Patch{IsCompleted: &reopen}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if ev := nextEvent(t, pub); ev.Type != events.TaskReopened {
		t.Fatalf("expected reopened event, got %s", ev.Type)
	}

	if _, err := svc.Update(ctx, "Updated Title", Patch{}); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("empty patch should be rejected: %v", err)
	}
	blank := " "
	if _, err := svc.Update(ctx, "Updated Title", Patch{Title: &blank}); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("blank title should be rejected: %v", err)
	}
}

func TestServiceSearchAndDelete(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	if _, err := svc.Create(ctx, user, "Buy milk", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, user, "Call mom", "about the MILK", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	nextEvent(t, pub)
	nextEvent(t, pub)

	found, err := svc.Search(ctx, user, "milk")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected two matches, got %+v", found)
	}
	if _, err := svc.Search(ctx, user, "  "); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("empty query should be rejected: %v", err)
	}

	outcome, err := svc.Delete(ctx, "Buy milk")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !outcome.Success || !strings.Contains(outcome.Message, "Buy milk") {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if ev := nextEvent(t, pub); ev.Type != events.TaskDeleted || ev.TaskID != outcome.TaskID {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if _, err := svc.Delete(ctx, "Buy milk"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found on second delete: %v", err)
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, events.Event) error {
	f.calls++
	return errors.New("broker down")
}

func (f *failingPublisher) Close() error { return nil }

func TestServicePublishFailureDoesNotFailMutation(t *testing.T) {
	pub := &failingPublisher{}
	svc := NewService(NewMemoryStore(), WithPublisher(pub))

	if _, err := svc.Create(context.Background(), uuid.New(), "Buy milk", "", ""); err != nil {
		t.Fatalf("create should succeed despite publish failure: %v", err)
	}
	if pub.calls != 1 {
		t.Fatalf("expected one publish attempt, got %d", pub.calls)
	}
}

func TestTaskJSONUsesTextFields(t *testing.T) {
	id := uuid.MustParse("6f1c1a43-9d55-4f5e-8f1a-2b0c6d3e4f50")
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	body, err := json.Marshal(&Task{ID: id, Title: "Buy milk", Priority: PriorityHigh, CreatedAt: created})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	text := string(body)
	for _, want := range []string{`"id":"` + id.String() + `"`, `"priority":"high"`, `"created_at":"2026-03-01T09:30:00Z"`} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %s in %s", want, text)
		}
	}

	var decoded Task
	if err := json.Unmarshal([]byte(`{"priority":"urgent"}`), &decoded); err == nil {
		t.Fatalf("unknown priority should fail to decode")
	}
}
