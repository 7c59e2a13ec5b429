package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"TaskPilot/internal/todo"
)

func newExecutor(t *testing.T) (*Executor, *todo.Service, uuid.UUID) {
	t.Helper()
	svc := todo.NewService(todo.NewMemoryStore())
	user := uuid.New()
	return NewExecutor(svc, user), svc, user
}

func TestExecuteAddTaskInjectsUser(t *testing.T) {
	exec, svc, user := newExecutor(t)
	ctx := context.Background()

	res := exec.Execute(ctx, AddTask, map[string]any{"title": "Buy milk", "priority": "high"})
	if msg, failed := res.Err(); failed {
		t.Fatalf("unexpected error result: %s", msg)
	}
	if res["title"] != "Buy milk" || res["priority"] != todo.PriorityHigh {
		t.Fatalf("unexpected record: %+v", res)
	}

	tasks, err := svc.List(ctx, user, 0, todo.StatusAll)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].UserID != user {
		t.Fatalf("task should belong to the bound user: %+v", tasks)
	}
}

func TestExecuteDoesNotMutateCallerArgs(t *testing.T) {
	exec, _, _ := newExecutor(t)
	in := map[string]any{"title": "Buy milk"}
	exec.Execute(context.Background(), AddTask, in)
	if _, ok := in[UserIDKey]; ok {
		t.Fatalf("caller's argument map must not be modified: %+v", in)
	}
}

func TestExecuteRejectsForeignUserID(t *testing.T) {
	exec, _, _ := newExecutor(t)
	res := exec.Execute(context.Background(), ListTasks, map[string]any{UserIDKey: uuid.NewString()})
	if msg, failed := res.Err(); !failed || !strings.Contains(msg, "user_id") {
		t.Fatalf("expected user mismatch error, got %+v", res)
	}
}

func TestExecuteAcceptsUserIDInAnyCase(t *testing.T) {
	exec, svc, user := newExecutor(t)
	res := exec.Execute(context.Background(), AddTask, map[string]any{
		"title":   "Buy milk",
		UserIDKey: strings.ToUpper(user.String()),
	})
	if msg, failed := res.Err(); failed {
		t.Fatalf("same user in upper case should be accepted: %s", msg)
	}
	tasks, err := svc.List(context.Background(), user, 0, todo.StatusAll)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("task should be created for the bound user: %v %+v", err, tasks)
	}

	res = exec.Execute(context.Background(), ListTasks, map[string]any{UserIDKey: "not-a-uuid"})
	if msg, failed := res.Err(); !failed || !strings.Contains(msg, "invalid user_id") {
		t.Fatalf("malformed user_id should be an error result, got %+v", res)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	exec, _, _ := newExecutor(t)
	res := exec.Execute(context.Background(), "launch_rocket", nil)
	if msg, _ := res.Err(); msg != "Unknown tool" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteDeleteByTitle(t *testing.T) {
	exec, svc, user := newExecutor(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, user, "Buy milk", "", todo.PriorityHigh); err != nil {
		t.Fatalf("create: %v", err)
	}

	res := exec.Execute(ctx, DeleteTask, map[string]any{"task_id": "Buy milk"})
	if _, failed := res.Err(); failed {
		t.Fatalf("delete by title should succeed: %+v", res)
	}
	if res["success"] != true {
		t.Fatalf("expected success outcome: %+v", res)
	}

	res = exec.Execute(ctx, DeleteTask, map[string]any{"task_id": "Buy milk"})
	if msg, failed := res.Err(); !failed || !strings.Contains(msg, "not found") {
		t.Fatalf("expected not found error result, got %+v", res)
	}
}

func TestExecuteStatusUpdateAndEdit(t *testing.T) {
	exec, svc, user := newExecutor(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, user, "Buy milk", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res := exec.Execute(ctx, UpdateTaskStatus, map[string]any{"task_id": task.ID.String(), "is_completed": "true"})
	if _, failed := res.Err(); failed {
		t.Fatalf("status update failed: %+v", res)
	}
	if rec := res["task"].(Result); rec["is_completed"] != true {
		t.Fatalf("task should be completed: %+v", rec)
	}

	res = exec.Execute(ctx, UpdateTaskStatus, map[string]any{"task_id": "Buy milk"})
	if msg, _ := res.Err(); !strings.Contains(msg, "is_completed") {
		t.Fatalf("missing flag should be reported: %+v", res)
	}

	res = exec.Execute(ctx, UpdateTask, map[string]any{"task_id": "Buy milk", "title": "Buy oat milk", "priority": "low"})
	if _, failed := res.Err(); failed {
		t.Fatalf("edit failed: %+v", res)
	}
	rec := res["task"].(Result)
	if rec["title"] != "Buy oat milk" || rec["priority"] != todo.PriorityLow {
		t.Fatalf("unexpected edit result: %+v", rec)
	}

	res = exec.Execute(ctx, UpdateTask, map[string]any{"task_id": "Buy oat milk", "priority": "urgent"})
	if msg, failed := res.Err(); !failed || !strings.Contains(msg, "priority") {
		t.Fatalf("invalid priority should be an error result: %+v", res)
	}
}

func TestExecuteListAndSearch(t *testing.T) {
	exec, svc, user := newExecutor(t)
	ctx := context.Background()
	for _, title := range []string{"Buy milk", "Call mom", "Milk the cow"} {
		if _, err := svc.Create(ctx, user, title, "", ""); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	res := exec.Execute(ctx, ListTasks, map[string]any{"limit": json.Number("2"), "status": "pending"})
	if res["count"] != 2 {
		t.Fatalf("expected limit to apply: %+v", res)
	}

	res = exec.Execute(ctx, ListTasks, map[string]any{"limit": 1.5})
	if _, failed := res.Err(); !failed {
		t.Fatalf("fractional limit should fail: %+v", res)
	}
	res = exec.Execute(ctx, ListTasks, map[string]any{"status": "archived"})
	if _, failed := res.Err(); !failed {
		t.Fatalf("unknown status should fail: %+v", res)
	}

	res = exec.Execute(ctx, SearchTasks, map[string]any{"query": "MILK"})
	if res["count"] != 2 {
		t.Fatalf("expected two matches: %+v", res)
	}
	res = exec.Execute(ctx, SearchTasks, map[string]any{})
	if msg, _ := res.Err(); !strings.Contains(msg, "query") {
		t.Fatalf("missing query should be reported: %+v", res)
	}
}

type panickingService struct{ TaskService }

func (panickingService) Delete(context.Context, string) (todo.Outcome, error) {
	panic("boom")
}

func (panickingService) List(context.Context, uuid.UUID, int, todo.Status) ([]*todo.Task, error) {
	return nil, errors.New("database is down")
}

func TestExecuteConvertsFailuresToData(t *testing.T) {
	exec := NewExecutor(panickingService{}, uuid.New())
	ctx := context.Background()

	res := exec.Execute(ctx, DeleteTask, map[string]any{"task_id": "x"})
	if msg, failed := res.Err(); !failed || !strings.Contains(msg, "boom") {
		t.Fatalf("panic should become an error result: %+v", res)
	}

	res = exec.Execute(ctx, ListTasks, nil)
	if msg, _ := res.Err(); msg != "database is down" {
		t.Fatalf("service error should become an error result: %+v", res)
	}

	res = NewExecutor(nil, uuid.New()).Execute(ctx, ListTasks, nil)
	if _, failed := res.Err(); !failed {
		t.Fatalf("missing service should be an error result: %+v", res)
	}
}

func TestEncodeTaskRecord(t *testing.T) {
	id := uuid.MustParse("6f1c1a43-9d55-4f5e-8f1a-2b0c6d3e4f50")
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	text, err := Encode(taskRecord(&todo.Task{ID: id, Title: "<Buy milk>", Priority: todo.PriorityHigh, CreatedAt: created}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["id"] != id.String() {
		t.Fatalf("id should be text: %v", decoded["id"])
	}
	if decoded["priority"] != "high" {
		t.Fatalf("priority should be the bare value: %v", decoded["priority"])
	}
	if decoded["created_at"] != "2026-03-01T09:30:00+01:00" {
		t.Fatalf("created_at should be ISO-8601: %v", decoded["created_at"])
	}
	if !strings.Contains(text, "<Buy milk>") || strings.HasSuffix(text, "\n") {
		t.Fatalf("unexpected encoding: %q", text)
	}
}

func TestParseArguments(t *testing.T) {
	args, err := ParseArguments(json.RawMessage(`{"title":"Buy milk","limit":3}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if args["title"] != "Buy milk" || args["limit"] != json.Number("3") {
		t.Fatalf("unexpected args: %#v", args)
	}

	double, err := ParseArguments(json.RawMessage(`"{\"task_id\":\"Buy milk\"}"`))
	if err != nil || double["task_id"] != "Buy milk" {
		t.Fatalf("double-encoded payload should be unwrapped: %v %#v", err, double)
	}

	for _, raw := range []string{"", "null", "  "} {
		empty, err := ParseArguments(json.RawMessage(raw))
		if err != nil || len(empty) != 0 {
			t.Fatalf("empty payload %q should give empty args: %v", raw, err)
		}
	}

	if _, err := ParseArguments(json.RawMessage(`{"title":`)); err == nil {
		t.Fatalf("malformed payload should fail")
	}
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	want := []string{ListTasks, AddTask, UpdateTaskStatus, SearchTasks, UpdateTask, DeleteTask}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected catalogue: %v", names)
	}
	for _, name := range want {
		if _, ok := handlers[name]; !ok {
			t.Fatalf("tool %s has no handler", name)
		}
	}

	defs[0].Parameters.Properties["status"] = defs[0].Parameters.Properties["limit"]
	defs[1].Parameters.Required[0] = "mutated"
	again, _ := Lookup(ListTasks)
	if len(again.Parameters.Properties["status"].Enum) != 3 {
		t.Fatalf("registry must not be mutable through Definitions")
	}
	add, _ := Lookup(AddTask)
	if add.Parameters.Required[0] != "title" {
		t.Fatalf("required list must not be shared")
	}

	status, ok := Lookup(UpdateTaskStatus)
	if !ok || strings.Join(status.Parameters.Required, ",") != "task_id,is_completed" {
		t.Fatalf("unexpected update_task_status schema: %+v", status)
	}
	if _, ok := Lookup("missing"); ok {
		t.Fatalf("unknown tool should not be found")
	}

	body, _ := json.Marshal(defs[0])
	if !strings.Contains(string(body), `"required":[]`) {
		t.Fatalf("empty required list should encode as []: %s", body)
	}
}
