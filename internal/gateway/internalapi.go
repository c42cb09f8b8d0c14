package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nextlevelbuilder/fern/internal/search"
	"github.com/nextlevelbuilder/fern/internal/store"
)

// Dashboard read APIs. Responses are JSON objects keyed on the entity name
// plural so the dashboard client can unwrap them uniformly.

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.st.ListThreadSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessionsJSON(rows)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ts, err := s.st.GetThreadSession(r.Context(), r.PathValue("thread"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ts == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": sessionJSON(*ts)})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	memType := store.MemoryType(r.URL.Query().Get("type"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.memories.List(r.Context(), memType, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": memoriesJSON(rows)})
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	opts := search.DefaultOptions()
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	}
	opts.ThreadID = r.URL.Query().Get("thread")

	results, err := s.searchEng.SearchMemory(r.Context(), query, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "thread is required")
		return
	}
	rows, err := s.st.ListSummariesByThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"archives": summariesJSON(rows)})
}

// handleReadArchive resolves a chunk id through the summaries table to find
// its owning thread, then streams the chunk file from disk.
func (s *Server) handleReadArchive(w http.ResponseWriter, r *http.Request) {
	chunkID := r.PathValue("chunk")
	row, err := s.st.GetSummary(r.Context(), chunkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "archive chunk not found")
		return
	}

	path := filepath.Join(s.chunkDir, row.ThreadID, chunkID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "chunk file missing on disk")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"archive": json.RawMessage(data)})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.st.ListJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobsJSON(jobs)})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.runner.ListTools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

// JSON shaping for rows whose store types carry non-JSON-friendly fields
// (embeddings, zero times).

func sessionJSON(ts store.ThreadSession) map[string]interface{} {
	return map[string]interface{}{
		"threadId":  ts.ThreadID,
		"sessionId": ts.SessionID,
		"shareUrl":  ts.ShareURL,
		"createdAt": ts.CreatedAt.UnixMilli(),
		"updatedAt": ts.UpdatedAt.UnixMilli(),
	}
}

func sessionsJSON(rows []store.ThreadSession) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, ts := range rows {
		out = append(out, sessionJSON(ts))
	}
	return out
}

func memoriesJSON(rows []store.Memory) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, m := range rows {
		out = append(out, map[string]interface{}{
			"id":        m.ID,
			"type":      m.Type,
			"content":   m.Content,
			"tags":      m.Tags,
			"createdAt": m.CreatedAt.UnixMilli(),
			"updatedAt": m.UpdatedAt.UnixMilli(),
		})
	}
	return out
}

func summariesJSON(rows []store.SummaryRow) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		out = append(out, map[string]interface{}{
			"chunkId":      r.ID,
			"threadId":     r.ThreadID,
			"sessionId":    r.SessionID,
			"summary":      r.Summary,
			"tokenCount":   r.TokenCount,
			"messageCount": r.MessageCount,
			"timeRange":    map[string]int64{"first": r.FirstTS, "last": r.LastTS},
			"createdAt":    r.CreatedAt.UnixMilli(),
		})
	}
	return out
}

func jobsJSON(rows []store.Job) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, j := range rows {
		entry := map[string]interface{}{
			"id":          j.ID,
			"type":        j.Type,
			"status":      j.Status,
			"prompt":      j.Prompt,
			"scheduledAt": j.ScheduledAt.UnixMilli(),
			"cronExpr":    j.CronExpr,
			"createdAt":   j.CreatedAt.UnixMilli(),
			"updatedAt":   j.UpdatedAt.UnixMilli(),
			"lastError":   j.LastError,
		}
		if j.CompletedAt != nil {
			entry["completedAt"] = j.CompletedAt.UnixMilli()
		}
		out = append(out, entry)
	}
	return out
}
