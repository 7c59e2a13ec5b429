package taskpilot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAccessToken("token")
	return client
}

func TestChatSendsMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["message"] != "hi" || body["conversation_id"] != "conv-1" {
			t.Fatalf("unexpected body: %v", body)
		}
		_ = json.NewEncoder(w).Encode(ChatReply{
			ConversationID: "conv-1",
			Message:        "Hello!",
			Model:          "m1",
			ToolCalls:      []ToolCall{{ID: "call_1", Name: "list_tasks", Result: map[string]any{"count": 0}}},
		})
	})

	reply, err := client.Chat(context.Background(), "conv-1", "hi")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply.Message != "Hello!" || len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Name != "list_tasks" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestListTasksQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("status") != "pending" || r.URL.Query().Get("limit") != "5" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(TaskList{Tasks: []Task{{Title: "Buy milk", Priority: "high"}}, Count: 1})
	})

	list, err := client.ListTasks(context.Background(), "pending", 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Count != 1 || list.Tasks[0].Title != "Buy milk" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"conversation not found"}`))
	})

	_, err := client.Messages(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "conversation not found" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestRequestsRequireToken(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:1", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.ListConversations(context.Background()); err == nil {
		t.Fatal("expected missing token error")
	}
}
