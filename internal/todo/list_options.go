package todo

import (
	"strings"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListOptions controls how tasks are selected when querying the store.
type ListOptions struct {
	UserID uuid.UUID
	Status Status
	Limit  int
	// Query performs a case-insensitive substring match on title and description.
	Query string
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	switch opts.Status {
	case StatusCompleted, StatusPending:
	default:
		opts.Status = StatusAll
	}
	opts.Query = strings.TrimSpace(opts.Query)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of tasks returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithStatus filters tasks by completion state.
func WithStatus(status Status) ListOption {
	return func(opts *ListOptions) {
		opts.Status = status
	}
}

// WithQuery filters tasks by substring over title and description.
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) {
		opts.Query = query
	}
}

func buildListOptions(userID uuid.UUID, opts []ListOption) ListOptions {
	options := ListOptions{UserID: userID}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func (opts ListOptions) matches(task *Task) bool {
	if opts.UserID != uuid.Nil && task.UserID != opts.UserID {
		return false
	}
	if !task.Matches(opts.Status) {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		if !strings.Contains(strings.ToLower(task.Title), q) && !strings.Contains(strings.ToLower(task.Description), q) {
			return false
		}
	}
	return true
}
