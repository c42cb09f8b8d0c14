// Package gateway is Fern's message boundary: the HTTP surface that
// accepts channel webhooks, source-control pushes, and dev /chat requests,
// verifies their signatures, filters bot traffic, and hands accepted work
// to the reasoning loop in the background so the HTTP response never waits
// on an agent turn.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/nextlevelbuilder/fern/internal/agent"
	"github.com/nextlevelbuilder/fern/internal/bus"
	"github.com/nextlevelbuilder/fern/internal/channels"
	"github.com/nextlevelbuilder/fern/internal/config"
	"github.com/nextlevelbuilder/fern/internal/ferrors"
	"github.com/nextlevelbuilder/fern/internal/llm"
	"github.com/nextlevelbuilder/fern/internal/memory"
	"github.com/nextlevelbuilder/fern/internal/search"
	"github.com/nextlevelbuilder/fern/internal/sessions"
	"github.com/nextlevelbuilder/fern/internal/store"
	"github.com/nextlevelbuilder/fern/internal/watchdog"
)

// Server is the HTTP gateway.
type Server struct {
	cfg       *config.Config
	loop      *agent.Loop
	registry  *sessions.Registry
	st        *store.Store
	runner    llm.Runner
	searchEng *search.Engine
	memories  *memory.Store
	channels  *channels.Registry
	filter    *channels.BotFilter
	msgBus    *bus.MessageBus
	dog       *watchdog.Watchdog
	chunkDir  string

	turnTimeout time.Duration
	logger      *slog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux
}

// Deps bundles the components the gateway routes work to. Optional fields
// (Channels, Filter, Bus, Watchdog) may be nil; the code paths that use them
// skip them. Memories and SearchEng are not nil-checked: the
// /internal memory list and search endpoints call them directly.
type Deps struct {
	Loop      *agent.Loop
	Registry  *sessions.Registry
	Store     *store.Store
	Runner    llm.Runner
	SearchEng *search.Engine
	Memories  *memory.Store
	Channels  *channels.Registry
	Filter    *channels.BotFilter
	Bus       *bus.MessageBus
	Watchdog  *watchdog.Watchdog
	ChunkDir  string
}

// NewServer builds the gateway.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.Watchdog.AgentTurnTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 8 * time.Minute
	}
	s := &Server{
		cfg:       cfg,
		loop:      deps.Loop,
		registry:  deps.Registry,
		st:        deps.Store,
		runner:    deps.Runner,
		searchEng: deps.SearchEng,
		memories:  deps.Memories,
		channels:  deps.Channels,
		filter:    deps.Filter,
		msgBus:    deps.Bus,
		dog:       deps.Watchdog,
		chunkDir:  deps.ChunkDir,

		turnTimeout: timeout,
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true }, // dev surface only
	}
	return s
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /chat/ws", s.handleChatWS)
	mux.HandleFunc("POST /webhooks/github", s.handleGitHubWebhook)
	mux.HandleFunc("POST /webhooks/{channel}", s.handleChannelWebhook)

	// Dashboard read APIs.
	mux.HandleFunc("GET /internal/sessions", s.handleListSessions)
	mux.HandleFunc("GET /internal/sessions/{thread}", s.handleGetSession)
	mux.HandleFunc("GET /internal/memories", s.handleListMemories)
	mux.HandleFunc("GET /internal/memories/search", s.handleSearchMemories)
	mux.HandleFunc("GET /internal/archives", s.handleListArchives)
	mux.HandleFunc("GET /internal/archives/{chunk}", s.handleReadArchive)
	mux.HandleFunc("GET /internal/jobs", s.handleListJobs)
	mux.HandleFunc("GET /internal/tools", s.handleListTools)

	s.mux = mux
	return mux
}

// Start listens on the configured address until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.BuildMux()}

	s.logger.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string   `json:"sessionId"`
	Response  string   `json:"response"`
	ToolCalls []string `json:"toolCalls,omitempty"`
}

// handleChat is the CLI/dev surface: unlike the webhook endpoints it runs
// the turn synchronously, since its caller is a developer terminal, not a
// channel gateway with a short delivery timeout.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	threadID := req.SessionID
	if threadID == "" {
		threadID = "chat_" + ulid.Make().String()
	}

	response, err := s.runTurn(r.Context(), threadID, "Chat", req.Message)
	if err != nil {
		s.logger.Error("chat turn failed", "thread_id", threadID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{SessionID: threadID, Response: response})
}

// runTurn drives one reasoning turn under the configured hard timeout,
// converting a deadline expiry into a typed timeout error carrying the
// elapsed duration, and keeping the watchdog's LLM failure counter honest.
func (s *Server) runTurn(ctx context.Context, threadID, title, prompt string) (string, error) {
	turnCtx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	start := time.Now()
	response, err := s.loop.Execute(turnCtx, threadID, title, prompt)
	if err != nil {
		if turnCtx.Err() == context.DeadlineExceeded {
			err = ferrors.Wrap(ferrors.Timeout, err, "agent turn exceeded %dms budget (elapsed %dms)",
				s.turnTimeout.Milliseconds(), time.Since(start).Milliseconds())
		}
		if s.dog != nil {
			s.dog.RecordLLMFailure(err.Error())
		}
		return "", err
	}
	if s.dog != nil {
		s.dog.ResetLLMFailures()
	}
	return response, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
