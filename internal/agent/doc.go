// Package agent contains the conversation orchestrator. A turn sends the
// system prompt, prior history and the new utterance to the model cascade
// with the task tools attached, executes any requested tool calls in the
// order the model returned them, and asks the model once more, without
// tools, for the final reply.
package agent
