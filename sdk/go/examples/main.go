package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"TaskPilot/sdk/go/taskpilot"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(taskpilot.ChatReply{
			ConversationID: "8f14e45f-ceea-4e6b-9a2f-0c1d2e3f4a5b",
			Message:        "I've added 'Buy milk' with high priority.",
			Model:          "openai/gpt-4o-mini",
			ToolCalls: []taskpilot.ToolCall{{
				ID:     "call_1",
				Name:   "add_task",
				Result: map[string]any{"title": "Buy milk", "priority": "high"},
			}},
		})
	})
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(taskpilot.TaskList{
			Tasks: []taskpilot.Task{{Title: "Buy milk", Priority: "high", CreatedAt: time.Now().UTC()}},
			Count: 1,
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := taskpilot.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAccessToken("demo-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Chat(ctx, "", "Add a task called 'Buy milk' with high priority")
	if err != nil {
		panic(err)
	}
	fmt.Printf("assistant (%s): %s\n", reply.Model, reply.Message)
	for _, call := range reply.ToolCalls {
		fmt.Printf("  tool %s -> %v\n", call.Name, call.Result)
	}

	list, err := client.ListTasks(ctx, "pending", 10)
	if err != nil {
		panic(err)
	}
	fmt.Printf("%d pending task(s)\n", list.Count)
}
