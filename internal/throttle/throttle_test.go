package throttle

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAppendText_FlushesImmediatelyWhenIntervalElapsed(t *testing.T) {
	var mu sync.Mutex
	var flushed []string
	th := New(time.Hour, func(content string) {
		mu.Lock()
		flushed = append(flushed, content)
		mu.Unlock()
	})
	th.lastFlush = time.Now().Add(-2 * time.Hour) // simulate the interval having already elapsed

	th.AppendText("hello")

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 || flushed[0] != "hello" {
		t.Fatalf("flushed = %v, want [hello]", flushed)
	}
}

func TestAppendText_CoalescesWithinInterval(t *testing.T) {
	var mu sync.Mutex
	var flushed []string
	th := New(50*time.Millisecond, func(content string) {
		mu.Lock()
		flushed = append(flushed, content)
		mu.Unlock()
	})

	th.AppendText("a")
	th.AppendText("b")
	th.AppendText("c")

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 {
		t.Fatalf("flushed %d times, want exactly 1 coalesced flush: %v", len(flushed), flushed)
	}
	if flushed[0] != "abc" {
		t.Errorf("flushed content = %q, want %q", flushed[0], "abc")
	}
}

func TestPreferTextOverThinking(t *testing.T) {
	var got string
	th := New(0, func(content string) { got = content })

	th.AppendThinking("thinking about it")
	th.Flush()
	if got != "thinking about it" {
		t.Errorf("got = %q, want thinking fallback", got)
	}

	got = ""
	th.AppendThinking("more thinking")
	th.AppendText("final answer")
	th.Flush()
	if got != "final answer" {
		t.Errorf("got = %q, want text to win over thinking", got)
	}
}

func TestTruncate_SentenceBoundary(t *testing.T) {
	s := strings.Repeat("a", 100) + ". " + strings.Repeat("b", 100)
	got := truncate(s, 150)
	if !strings.HasSuffix(got, ".") {
		t.Errorf("truncate = %q, want to end at a sentence boundary", got)
	}
	if len([]rune(got)) > 150 {
		t.Errorf("truncated length = %d, want <= 150", len([]rune(got)))
	}
}

func TestTruncate_WordBoundaryFallback(t *testing.T) {
	s := strings.Repeat("word ", 50)
	got := truncate(s, 40)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncate = %q, want an ellipsis when falling back to a word boundary", got)
	}
}

func TestDestroy_ThenFlush_Drains(t *testing.T) {
	var got string
	th := New(time.Hour, func(content string) { got = content })

	th.AppendText("pending content")
	th.Destroy()
	if got != "" {
		t.Fatalf("got = %q, want no flush yet (Destroy must not flush)", got)
	}

	th.Flush()
	if got != "pending content" {
		t.Errorf("got = %q, want explicit Flush after Destroy to drain", got)
	}
}

// Continuous appends over a window must flush at most window/interval+1
// times, plus one more for the timer armed by the last append, which fires
// during the trailing sleep.
func TestFlushBound_UnderContinuousAppends(t *testing.T) {
	const window = 500 * time.Millisecond
	const interval = 100 * time.Millisecond

	var mu sync.Mutex
	flushes := 0
	th := New(interval, func(string) {
		mu.Lock()
		flushes++
		mu.Unlock()
	})
	defer th.Destroy()

	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		th.AppendText("x")
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(interval) // let a final armed timer fire

	maxFlushes := int(window/interval) + 1 + 1 // +1 for the trailing timer drain
	mu.Lock()
	defer mu.Unlock()
	if flushes > maxFlushes {
		t.Errorf("%d flushes over %v with interval %v, want ≤ %d", flushes, window, interval, maxFlushes)
	}
	if flushes == 0 {
		t.Error("no flushes at all under continuous appends")
	}
}
