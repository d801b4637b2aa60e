// Package domain holds the shared record types that flow between the Task
// Queue, the Ingestion Pipeline, and the Retrieval Pipeline. These are plain
// structs; persistence and wire concerns live in internal/store and
// internal/taskqueue respectively.
package domain

import "time"

// EntityType enumerates the KnowledgeEntity.Type values the pipeline emits.
type EntityType string

const (
	EntityIdea        EntityType = "Idea"
	EntityProject     EntityType = "Project"
	EntityDocument    EntityType = "Document"
	EntityPage        EntityType = "Page"
	EntityTextSnippet EntityType = "TextSnippet"
)

// TextContent is the normalized form of any ingested payload.
type TextContent struct {
	ID        string
	UserID    string
	Text      string
	Category  string
	Context   string
	File      *FileInfo
	URL       *URLInfo
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FileInfo describes an uploaded file attachment.
type FileInfo struct {
	Name     string
	MIME     string
	ObjectID string
}

// URLInfo describes a fetched URL's metadata.
type URLInfo struct {
	URL          string
	Title        string
	ScreenshotID string
}

// KnowledgeEntity is a semantic object extracted from a TextContent.
type KnowledgeEntity struct {
	ID          string
	SourceID    string
	UserID      string
	Name        string
	Description string
	Type        EntityType
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EntityEmbedding is the 1:1 embedding sibling of a KnowledgeEntity.
type EntityEmbedding struct {
	ID       string
	EntityID string
	UserID   string
	Vector   []float32
}

// TextChunk is a bounded-length slice of a TextContent.
type TextChunk struct {
	ID        string
	SourceID  string
	UserID    string
	Text      string
	Index     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChunkEmbedding is the 1:1 embedding sibling of a TextChunk.
type ChunkEmbedding struct {
	ID      string
	ChunkID string
	UserID  string
	Vector  []float32
}

// RelatesTo is the single edge type in the knowledge graph.
type RelatesTo struct {
	ID     string
	InID   string // KnowledgeEntity.ID
	OutID  string // KnowledgeEntity.ID
	UserID string
	// SourceID is the TextContent whose enrichment proposed this edge.
	SourceID         string
	RelationshipType string
}

// TaskState enumerates IngestionTask lifecycle states (spec.md §4.1).
type TaskState string

const (
	TaskPending    TaskState = "Pending"
	TaskReserved   TaskState = "Reserved"
	TaskProcessing TaskState = "Processing"
	TaskSucceeded  TaskState = "Succeeded"
	TaskFailed     TaskState = "Failed"
	TaskDeadLetter TaskState = "DeadLetter"
	TaskCancelled  TaskState = "Cancelled"
)

// Terminal reports whether the state accepts no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskCancelled, TaskDeadLetter:
		return true
	default:
		return false
	}
}

// PayloadKind discriminates the IngestionPayload tagged union.
type PayloadKind string

const (
	PayloadText PayloadKind = "Text"
	PayloadURL  PayloadKind = "Url"
	PayloadFile PayloadKind = "File"
)

// IngestionPayload is the tagged union persisted on an IngestionTask row and
// read back by any worker implementation (spec.md §6, "Task-row payload").
type IngestionPayload struct {
	Kind     PayloadKind `json:"type"`
	UserID   string      `json:"user_id"`
	Text     string      `json:"text,omitempty"`
	Context  string      `json:"context,omitempty"`
	Category string      `json:"category,omitempty"`

	URL string `json:"url,omitempty"`

	FileName string `json:"file_name,omitempty"`
	FileMIME string `json:"file_mime,omitempty"`
	ObjectID string `json:"object_id,omitempty"`
}

// IngestionTask is a durable row in the Task Queue.
type IngestionTask struct {
	ID             string
	UserID         string
	Payload        IngestionPayload
	State          TaskState
	Attempts       int
	MaxAttempts    int
	ScheduledAt    time.Time
	LeaseExpiresAt *time.Time
	WorkerID       string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SystemSettings is the process-wide singleton row (spec.md §3, §4.6).
type SystemSettings struct {
	EmbeddingModel     string
	EmbeddingDimension int
	ProcessingModel    string
	QueryModel         string
	FeatureFlags       map[string]bool
}

// SystemSettingsID is the well-known key SystemSettings is stored under
// (spec.md §9, "Global singletons ... fetched fresh per operation").
const SystemSettingsID = "current"
