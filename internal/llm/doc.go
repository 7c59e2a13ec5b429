// Package llm contains the provider-neutral chat message model, the
// ChatCompleter boundary to model providers, and the ordered fallback
// cascade that walks candidate model identifiers on transient failures.
package llm
