package store

import "time"

// SummaryRow is one archived chunk's searchable shadow: the chunk body
// itself lives in a content-addressed file on disk (owned by the archival
// observer), this row is what hybrid search and the dashboard query.
type SummaryRow struct {
	ID             string
	ThreadID       string
	SessionID      string
	Summary        string
	TokenCount     int
	MessageCount   int
	FirstMessageID string
	LastMessageID  string
	FirstTS        int64
	LastTS         int64
	Embedding      []float32
	CreatedAt      time.Time
}

// Watermark is a thread's archival cursor.
type Watermark struct {
	ThreadID              string
	LastArchivedIndex     int
	LastArchivedMessageID string
	TotalArchivedTokens   int
	TotalChunks           int
	LastArchivedAt        time.Time
	SessionID             string
}

// MemoryType enumerates the Persistent Memory kinds.
type MemoryType string

const (
	MemoryFact       MemoryType = "fact"
	MemoryPreference MemoryType = "preference"
	MemoryLearning   MemoryType = "learning"
)

// Memory is one persistent fact/preference/learning row.
type Memory struct {
	ID        string
	Type      MemoryType
	Content   string
	Tags      []string
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobType distinguishes one-shot from recurring scheduled jobs.
type JobType string

const (
	JobOneShot   JobType = "one_shot"
	JobRecurring JobType = "recurring"
)

// JobStatus is a scheduled job's lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is one row of the durable job scheduler's queue.
type Job struct {
	ID              string
	Type            JobType
	Status          JobStatus
	Prompt          string
	ScheduledAt     time.Time
	CronExpr        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	LastRunResponse string
	LastError       string
	Metadata        map[string]string
}

// AgentType enumerates sub-agent task kinds.
type AgentType string

const (
	AgentExplore  AgentType = "explore"
	AgentResearch AgentType = "research"
	AgentGeneral  AgentType = "general"
)

// TaskStatus is a sub-agent task's lifecycle state. The same vocabulary as
// JobStatus minus the scheduling-only "pending" semantics, but kept as a
// distinct type since the two tables evolve independently.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is one row of the sub-agent executor's task table.
type Task struct {
	ID              string
	AgentType       AgentType
	Status          TaskStatus
	Prompt          string
	ParentSessionID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	Result          string
	Error           string
}

// ThreadSession is the durable twin of an in-memory Session entry.
type ThreadSession struct {
	ThreadID  string
	SessionID string
	ShareURL  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scored pairs a row's identity and text with one search stage's score:
// the store's vector and FTS searches fill in VectorScore or TextScore, and
// the hybrid search engine merges rows by ID and adds recency when
// computing the final blended relevance.
type Scored struct {
	ID          string
	Source      string // "archive" | "memory"
	Text        string
	ThreadID    string
	Timestamp   time.Time
	VectorScore float64
	TextScore   float64
}
