// Package tools declares the task-management tools offered to the model and
// executes the calls it requests against the todo service.
package tools

import "TaskPilot/internal/llm"

// Tool names.
const (
	ListTasks        = "list_tasks"
	AddTask          = "add_task"
	UpdateTaskStatus = "update_task_status"
	SearchTasks      = "search_tasks"
	UpdateTask       = "update_task"
	DeleteTask       = "delete_task"
)

var priorityEnum = []string{"low", "medium", "high"}

var definitions = []llm.ToolDefinition{
	{
		Name:        ListTasks,
		Description: "List my tasks, optionally filtering by status (completed/pending).",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"limit":  {Type: "integer", Description: "Number of tasks to return"},
				"status": {Type: "string", Enum: []string{"all", "completed", "pending"}},
			},
			Required: []string{},
		},
	},
	{
		Name:        AddTask,
		Description: "Add a new task to my todo list.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"title":       {Type: "string", Description: "The task title"},
				"description": {Type: "string", Description: "Optional details"},
				"priority":    {Type: "string", Enum: priorityEnum},
			},
			Required: []string{"title"},
		},
	},
	{
		Name:        UpdateTaskStatus,
		Description: "Mark a task as completed or pending.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"task_id":      {Type: "string", Description: "The UUID or the exact Title of the task"},
				"is_completed": {Type: "boolean", Description: "True for completed, False for pending"},
			},
			Required: []string{"task_id", "is_completed"},
		},
	},
	{
		Name:        SearchTasks,
		Description: "Search for tasks by keyword.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"query": {Type: "string", Description: "Search text"},
			},
			Required: []string{"query"},
		},
	},
	{
		Name:        UpdateTask,
		Description: "Edit an existing task (title, description, priority, etc).",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"task_id":      {Type: "string", Description: "The UUID or the exact Title of the task"},
				"title":        {Type: "string", Description: "New title"},
				"description":  {Type: "string", Description: "New description"},
				"priority":     {Type: "string", Enum: priorityEnum},
				"is_completed": {Type: "boolean"},
			},
			Required: []string{"task_id"},
		},
	},
	{
		Name:        DeleteTask,
		Description: "Remove a task from the list.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"task_id": {Type: "string", Description: "The UUID or the exact Title of the task to delete"},
			},
			Required: []string{"task_id"},
		},
	},
}

// Definitions returns the tool catalogue in a stable order. The returned
// slice and its schemas are copies.
func Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(definitions))
	for i, def := range definitions {
		out[i] = cloneDefinition(def)
	}
	return out
}

// Lookup returns the definition registered under name.
func Lookup(name string) (llm.ToolDefinition, bool) {
	for _, def := range definitions {
		if def.Name == name {
			return cloneDefinition(def), true
		}
	}
	return llm.ToolDefinition{}, false
}

func cloneDefinition(def llm.ToolDefinition) llm.ToolDefinition {
	props := make(map[string]llm.Property, len(def.Parameters.Properties))
	for name, prop := range def.Parameters.Properties {
		prop.Enum = append([]string(nil), prop.Enum...)
		props[name] = prop
	}
	def.Parameters.Properties = props
	def.Parameters.Required = append([]string{}, def.Parameters.Required...)
	return def
}
