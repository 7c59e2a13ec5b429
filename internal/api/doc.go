// Package api exposes the chat endpoint, conversation history and a plain
// task listing over HTTP, together with health and metrics endpoints.
package api
