// Package tokenizer provides a heuristic, deterministic token estimator
// for messages and message parts. It is pure and side-effect free: the
// same input always yields the same count.
package tokenizer

import "encoding/json"

// Part mirrors one entry of a Message's parts array.
type Part struct {
	Type string    `json:"type"` // text | tool | reasoning | step-start | step-finish
	Text string    `json:"text,omitempty"`
	Tool *ToolPart `json:"tool,omitempty"`
}

// ToolPart carries a tool call's input/output for estimation purposes.
type ToolPart struct {
	Input  interface{} `json:"input,omitempty"`
	Output interface{} `json:"output,omitempty"`
}

// TokenUsage is the metadata block that, when present and non-zero,
// overrides the heuristic estimate.
type TokenUsage struct {
	Input     int `json:"input,omitempty"`
	Output    int `json:"output,omitempty"`
	Reasoning int `json:"reasoning,omitempty"`
}

// Message is the minimal shape Estimate needs from an LLM-client message.
type Message struct {
	Parts  []Part      `json:"parts"`
	Tokens *TokenUsage `json:"tokens,omitempty"`
}

// Estimate returns the token count for a single message: the reported
// usage when present and non-zero, else an approximation of
// ceil(text_bytes / 4) summed across text parts plus the JSON-serialised
// size of tool inputs and outputs.
func Estimate(msg Message) int {
	if msg.Tokens != nil {
		sum := msg.Tokens.Input + msg.Tokens.Output + msg.Tokens.Reasoning
		if sum != 0 {
			return sum
		}
	}

	total := 0
	for _, p := range msg.Parts {
		switch p.Type {
		case "text", "reasoning":
			total += approxTokens(len(p.Text))
		case "tool":
			if p.Tool == nil {
				continue
			}
			if p.Tool.Input != nil {
				if b, err := json.Marshal(p.Tool.Input); err == nil {
					total += approxTokens(len(b))
				}
			}
			if p.Tool.Output != nil {
				if b, err := json.Marshal(p.Tool.Output); err == nil {
					total += approxTokens(len(b))
				}
			}
		}
	}
	return total
}

// EstimateMessages sums Estimate across a slice of messages.
func EstimateMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += Estimate(m)
	}
	return total
}

// approxTokens implements ceil(byteLen / 4).
func approxTokens(byteLen int) int {
	if byteLen == 0 {
		return 0
	}
	return (byteLen + 3) / 4
}
