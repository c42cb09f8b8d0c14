// Package throttle implements the status throttler: it coalesces a
// stream of text/thinking fragments into infrequent, bounded-length
// status flushes so a channel gateway isn't asked to edit a message on
// every token.
package throttle

import (
	"strings"
	"sync"
	"time"
)

// maxFlushLen is the truncation bound for flushed content.
const maxFlushLen = 150

// FlushFunc delivers one flushed status string.
type FlushFunc func(content string)

// Throttler accumulates text and thinking fragments and flushes at most
// once per minInterval, with a single trailing timer covering whatever
// arrives between flushes.
type Throttler struct {
	mu          sync.Mutex
	minInterval time.Duration
	flush       FlushFunc

	text      strings.Builder
	thinking  strings.Builder
	lastFlush time.Time
	timer     *time.Timer
	destroyed bool
}

// New builds a Throttler that calls flush with coalesced content no more
// often than once per minInterval.
func New(minInterval time.Duration, flush FlushFunc) *Throttler {
	if minInterval <= 0 {
		minInterval = 1500 * time.Millisecond
	}
	return &Throttler{minInterval: minInterval, flush: flush, lastFlush: time.Now()}
}

// AppendText accumulates a text delta.
func (t *Throttler) AppendText(delta string) {
	t.mu.Lock()
	t.text.WriteString(delta)
	t.mu.Unlock()
	t.scheduleOrFlush()
}

// AppendThinking accumulates a thinking delta.
func (t *Throttler) AppendThinking(delta string) {
	t.mu.Lock()
	t.thinking.WriteString(delta)
	t.mu.Unlock()
	t.scheduleOrFlush()
}

// scheduleOrFlush flushes immediately if minInterval has elapsed since the
// last flush, else arms a single timer for the remaining interval,
// coalescing any appends that land before it fires.
func (t *Throttler) scheduleOrFlush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}

	now := time.Now()
	if now.Sub(t.lastFlush) >= t.minInterval {
		t.flushLocked(now)
		return
	}
	if t.timer != nil {
		return // a flush is already scheduled; it will pick up this append
	}
	remaining := t.minInterval - now.Sub(t.lastFlush)
	t.timer = time.AfterFunc(remaining, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.destroyed {
			return
		}
		t.timer = nil
		t.flushLocked(time.Now())
	})
}

// Flush forces an immediate flush of whatever is pending, cancelling any
// scheduled timer. Safe to call after Destroy to drain remaining content.
func (t *Throttler) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.flushLocked(time.Now())
}

// flushLocked emits the preferred content and resets both buffers. Callers
// must hold t.mu.
func (t *Throttler) flushLocked(now time.Time) {
	content := preferredContent(t.text.String(), t.thinking.String())
	t.text.Reset()
	t.thinking.Reset()
	t.lastFlush = now
	if content == "" || t.flush == nil {
		return
	}
	t.flush(truncate(content, maxFlushLen))
}

// Destroy cancels any scheduled timer without flushing. An explicit Flush
// call afterward still drains whatever was pending.
func (t *Throttler) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destroyed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// preferredContent prefers accumulated text over thinking.
func preferredContent(text, thinking string) string {
	if text != "" {
		return text
	}
	return thinking
}

// truncate bounds s to max chars (runes), breaking at the last sentence
// boundary if one falls within range, else the last word boundary,
// appending an ellipsis when it had to cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	cut := string(runes[:max])
	if idx := lastSentenceBoundary(cut); idx > 0 {
		return cut[:idx]
	}
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > 0 {
		return cut[:idx] + "…"
	}
	return cut + "…"
}

func lastSentenceBoundary(s string) int {
	best := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(s, sep); idx > best {
			best = idx + len(sep) - 1 // keep the punctuation, drop the trailing space
		}
	}
	return best
}
