// Package llm defines the boundary between Fern and the upstream LLM
// client. The client itself is out of scope — prompts go in, tokenised
// events come out — so this package only declares the interface every
// other component drives: create-session, send-prompt, subscribe-events,
// list-messages, list-tools.
package llm

import "context"

// Message mirrors the external, LLM-owned row described in the data
// model: {id, sessionID, role, time, parts[], tokens?}.
type Message struct {
	ID        string
	SessionID string
	Role      string // "user" | "assistant" | "system"
	Time      int64  // unix millis
	Parts     []Part
	Tokens    *TokenUsage
}

// Part is one of text | tool | reasoning | step-start | step-finish.
type Part struct {
	Type string
	Text string
	Tool *ToolCallState
}

// ToolCallState carries a tool call's status, input, output and timing.
type ToolCallState struct {
	Tool   string
	Status string // pending | running | completed | error
	Input  interface{}
	Output interface{}
	Error  string
	Start  int64
	End    int64
}

// TokenUsage is per-message reported token accounting.
type TokenUsage struct {
	Input     int
	Output    int
	Reasoning int
}

// Event is the tagged-union event type replacing the upstream client's
// untyped event bag. Exactly one
// of the pointer fields is populated, matching Kind.
type Event struct {
	Kind EventKind

	ToolStart    *ToolStartEvent
	ToolComplete *ToolCompleteEvent
	ToolError    *ToolErrorEvent
	Text         *TextEvent
	Thinking     *ThinkingEvent
	SessionIdle  *SessionIdleEvent
	SessionError *SessionErrorEvent
}

// EventKind discriminates Event's variant.
type EventKind string

const (
	EventToolStart    EventKind = "tool_start"
	EventToolComplete EventKind = "tool_complete"
	EventToolError    EventKind = "tool_error"
	EventText         EventKind = "text"
	EventThinking     EventKind = "thinking"
	EventSessionIdle  EventKind = "session_idle"
	EventSessionError EventKind = "session_error"
)

type ToolStartEvent struct{ Tool string }
type ToolCompleteEvent struct {
	Tool   string
	Output interface{}
}
type ToolErrorEvent struct {
	Tool  string
	Error string
}
type TextEvent struct{ Delta string }
type ThinkingEvent struct{ Delta string }
type SessionIdleEvent struct{ FinalText string }
type SessionErrorEvent struct{ Error string }

// CreateSessionResult is returned by CreateSession.
type CreateSessionResult struct {
	SessionID string
	ShareURL  string // empty when the client does not expose sharing
}

// Tool describes one entry of ListTools.
type Tool struct {
	Name        string
	Description string
}

// Runner is the black-box LLM client boundary. Every component that needs
// to drive a reasoning turn (the webhook handler, the scheduler, the
// sub-agent executor) depends on this interface, never a concrete client.
type Runner interface {
	CreateSession(ctx context.Context, title string) (CreateSessionResult, error)
	SendPrompt(ctx context.Context, sessionID, prompt string) error
	SubscribeEvents(ctx context.Context, sessionID string) (<-chan Event, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	ListTools(ctx context.Context) ([]Tool, error)
}
