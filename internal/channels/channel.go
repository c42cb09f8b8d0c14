// Package channels declares the interface boundary between Fern's webhook
// ingestion and the per-platform channel gateways. The gateways themselves
// (send/validate per channel) are out of scope for this module — Fern only
// specifies the interface every inbound/outbound message flows through,
// plus the bot/ignore-list filtering applied before a message
// reaches the bus.
package channels

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/fern/internal/bus"
)

// Channel is what a concrete per-platform gateway implements to exchange
// messages with Fern. Only Send is exercised inside this module (to
// deliver an agent turn's reply, or an error message, back to the
// originating channel); Start/Stop model the gateway's own connection
// lifecycle.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// BotFilter decides whether an inbound event should be dropped before it
// ever reaches the bus — bot-originated traffic and anything on an
// explicit ignore list never becomes agent work.
type BotFilter struct {
	ignoreSenders map[string]bool
	ignoreBots    bool
}

// NewBotFilter builds a BotFilter from a configured ignore list.
// ignoreBots, when true, drops any sender id prefixed "bot:" (the
// convention channel gateways use to mark bot-originated senders).
func NewBotFilter(ignoreList []string, ignoreBots bool) *BotFilter {
	f := &BotFilter{ignoreSenders: make(map[string]bool), ignoreBots: ignoreBots}
	for _, id := range ignoreList {
		f.ignoreSenders[id] = true
	}
	return f
}

// Allow reports whether a message from senderID should be processed.
func (f *BotFilter) Allow(senderID string) bool {
	if f.ignoreBots && strings.HasPrefix(senderID, "bot:") {
		return false
	}
	return !f.ignoreSenders[senderID]
}

// Registry maps channel name to its concrete gateway implementation, so
// the webhook layer can look up where to deliver a reply without knowing
// about any specific platform.
type Registry struct {
	channels map[string]Channel
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds a channel under its own Name().
func (r *Registry) Register(c Channel) {
	r.channels[c.Name()] = c
}

// Get looks up a channel by name.
func (r *Registry) Get(name string) (Channel, bool) {
	c, ok := r.channels[name]
	return c, ok
}
