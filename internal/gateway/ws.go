package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nextlevelbuilder/fern/internal/llm"
	"github.com/nextlevelbuilder/fern/internal/throttle"
)

type wsFrame struct {
	Type      string `json:"type"` // "status" | "response" | "error"
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content"`
}

// handleChatWS is the dev-mode streaming variant of /chat: each inbound
// frame runs one turn, with throttled status updates pushed as the LLM
// streams and the final text sent as a closing "response" frame. This is
// the interactive way to watch the status throttler's flush cadence.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	threadID := "chat_" + ulid.Make().String()
	writeFrame := func(f wsFrame) {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(f); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
		}
	}

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Message == "" {
			writeFrame(wsFrame{Type: "error", Content: "message is required"})
			continue
		}
		if req.SessionID != "" {
			threadID = req.SessionID
		}
		s.streamTurn(r.Context(), threadID, req.Message, writeFrame)
	}
}

// streamTurn runs one turn against the runner directly (rather than through
// the loop) so text/thinking deltas can feed the status throttler.
func (s *Server) streamTurn(parent context.Context, threadID, prompt string, writeFrame func(wsFrame)) {
	ctx, cancel := context.WithTimeout(parent, s.turnTimeout)
	defer cancel()

	sessionID, _, err := s.registry.GetOrCreateSession(ctx, threadID, "Chat")
	if err != nil {
		writeFrame(wsFrame{Type: "error", Content: err.Error()})
		return
	}

	thr := throttle.New(0, func(content string) {
		writeFrame(wsFrame{Type: "status", SessionID: threadID, Content: content})
	})
	defer thr.Destroy()

	if err := s.runner.SendPrompt(ctx, sessionID, prompt); err != nil {
		writeFrame(wsFrame{Type: "error", Content: err.Error()})
		return
	}
	events, err := s.runner.SubscribeEvents(ctx, sessionID)
	if err != nil {
		writeFrame(wsFrame{Type: "error", Content: err.Error()})
		return
	}

	for {
		select {
		case <-ctx.Done():
			writeFrame(wsFrame{Type: "error", Content: "turn timed out"})
			return
		case ev, ok := <-events:
			if !ok {
				writeFrame(wsFrame{Type: "error", Content: "session closed without an idle event"})
				return
			}
			switch ev.Kind {
			case llm.EventText:
				thr.AppendText(ev.Text.Delta)
			case llm.EventThinking:
				thr.AppendThinking(ev.Thinking.Delta)
			case llm.EventToolStart:
				thr.AppendText("[" + ev.ToolStart.Tool + "] ")
			case llm.EventSessionIdle:
				thr.Flush()
				writeFrame(wsFrame{Type: "response", SessionID: threadID, Content: ev.SessionIdle.FinalText})
				return
			case llm.EventSessionError:
				writeFrame(wsFrame{Type: "error", Content: ev.SessionError.Error})
				return
			}
		}
	}
}
