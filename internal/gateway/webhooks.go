package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/fern/internal/bus"
	"github.com/nextlevelbuilder/fern/internal/ferrors"
	"github.com/nextlevelbuilder/fern/internal/sessions"
)

// handleChannelWebhook ingests a form-encoded channel delivery. The channel
// gateway times out within seconds, so the agent turn always runs in the
// background — the 202 only means "accepted", never "answered".
func (s *Server) handleChannelWebhook(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	if from == "" || body == "" {
		writeError(w, http.StatusBadRequest, "From and Body are required")
		return
	}

	// Signature verification is enforced whenever the public URL is
	// configured; without one (local dev) there is nothing for the channel
	// library to have signed.
	if s.cfg.Server.WebhookBaseURL != "" {
		publicURL := strings.TrimRight(s.cfg.Server.WebhookBaseURL, "/") + "/webhooks/" + channel
		provided := r.Header.Get("X-Channel-Signature")
		if !verifyChannelSignature(s.cfg.Server.ChannelAuthToken, publicURL, r.PostForm, provided) {
			s.logger.Warn("channel webhook signature rejected", "channel", channel, "has_signature", provided != "")
			writeError(w, http.StatusForbidden, "signature verification failed")
			return
		}
	}

	if s.filter != nil && !s.filter.Allow(from) {
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "Sender ignored"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Processing"})

	threadID := sessions.ThreadID(channel, from)
	go s.runBackgroundTurn(uuid.NewString(), channel, from, threadID, body)
}

// runBackgroundTurn executes a turn detached from the originating request
// and delivers the result — or a user-facing error — back over the channel.
// deliveryID correlates the log lines of one webhook delivery across the
// accept, turn, and channel-send stages.
func (s *Server) runBackgroundTurn(deliveryID, channel, chatID, threadID, prompt string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("background turn panicked", "delivery_id", deliveryID, "thread_id", threadID, "panic", rec)
		}
	}()

	ctx := context.Background()
	response, err := s.runTurn(ctx, threadID, "", prompt)
	if err != nil {
		s.logger.Error("background turn failed", "delivery_id", deliveryID, "thread_id", threadID, "error", err)
		if ferrors.Is(err, ferrors.Timeout) {
			response = "[Fern] Error: the request timed out. Try again."
		} else {
			response = fmt.Sprintf("[Fern] Error: %s. Try again.", err.Error())
		}
	}
	s.deliver(ctx, channel, chatID, response)
}

// deliver sends content back over the originating channel: directly when a
// gateway is registered, else onto the outbound bus for whoever consumes it.
func (s *Server) deliver(ctx context.Context, channel, chatID, content string) {
	if content == "" {
		return
	}
	out := bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content}
	if s.channels != nil {
		if ch, ok := s.channels.Get(channel); ok {
			if err := ch.Send(ctx, out); err != nil {
				s.logger.Error("channel send failed", "channel", channel, "error", err)
			}
			return
		}
	}
	if s.msgBus != nil {
		s.msgBus.PublishOutbound(out)
	}
}

type githubPushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
	HeadCommit struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"head_commit"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// handleGitHubWebhook ingests a source-control push event. Only pushes to
// the default branch become agent work; everything else is acknowledged and
// ignored.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if s.cfg.Server.GitHubWebhookSecret != "" {
		if !verifyGitHubSignature(s.cfg.Server.GitHubWebhookSecret, rawBody, r.Header.Get("X-Hub-Signature-256")) {
			writeError(w, http.StatusForbidden, "signature verification failed")
			return
		}
	}

	if r.Header.Get("X-GitHub-Event") != "push" {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Event ignored"})
		return
	}

	var payload githubPushPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	defaultBranch := payload.Repository.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = s.cfg.Server.GitHubDefaultBranch
	}
	if payload.Ref != "refs/heads/"+defaultBranch {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Non-default branch push ignored"})
		return
	}
	if s.filter != nil && !s.filter.Allow(payload.Pusher.Name) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Pusher ignored"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Processing"})

	prompt := fmt.Sprintf("A push landed on %s (%s): %q by %s. Review the change and follow up if needed.",
		payload.Repository.FullName, defaultBranch, payload.HeadCommit.Message, payload.HeadCommit.Author.Name)
	threadID := sessions.ThreadID("github", payload.Repository.FullName)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("github turn panicked", "thread_id", threadID, "panic", rec)
			}
		}()
		if _, err := s.runTurn(context.Background(), threadID, payload.Repository.FullName, prompt); err != nil {
			s.logger.Error("github turn failed", "thread_id", threadID, "error", err)
		}
	}()
}
