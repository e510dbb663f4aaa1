package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// SessionIngest is the fixed session that owns all documents created
// through /agenttic-ingest, as opposed to caller-scoped sessions on
// /ingest and /query.
const SessionIngest = "agenttic-ingest-fixed-session"

// Source is one logical document root. A recursive family of URLs
// shares a single Source: descendants append their chunks under the
// parent's id.
type Source struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is one token-bounded fragment of a Source, the unit of
// embedding and retrieval.
type Chunk struct {
	ID        int64  `json:"id"`
	ChunkID   string `json:"chunk_id"`
	Content   string `json:"content"`
	SourceID  int64  `json:"source_id"`
	SessionID string `json:"session_id"`
}

// ScoredChunk pairs a chunk with a retrieval or rerank score.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// ChunkDigest derives the stable content-addressed chunk id. The digest
// is part of the external vector-store contract and must not change:
// md5_hex(session|url|ordinal), with an extra "html" segment for the
// raw-HTML variant.
func ChunkDigest(sessionID, url string, ordinal int, html bool) string {
	var s string
	if html {
		s = fmt.Sprintf("%s|%s|html|%d", sessionID, url, ordinal)
	} else {
		s = fmt.Sprintf("%s|%s|%d", sessionID, url, ordinal)
	}
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Workflow execution states for outstanding sub-document discovery
// requests.
const (
	WorkflowRunning = "running"
	WorkflowSuccess = "success"
	WorkflowError   = "error"
)

// WorkflowExecution tracks one outbound discovery request by its
// request_id; the webhook callback flips it to success or error.
type WorkflowExecution struct {
	RequestID    string    `json:"request_id"`
	Status       string    `json:"status"`
	DocumentName string    `json:"document_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IngestRequest is the client body of POST /agenttic-ingest.
type IngestRequest struct {
	URL                 string `json:"url"`
	EmbeddingModel      string `json:"embedding_model,omitempty"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	WebhookURL          string `json:"webhook_url,omitempty"`
	RecursiveDepth      *int   `json:"recursive_depth,omitempty"`
	IsRecursive         bool   `json:"is_recursive,omitempty"`
	DocumentName        string `json:"document_name,omitempty"`
	CollectionName      string `json:"collection_name,omitempty"`
	ParentSourceID      int64  `json:"parent_source_id,omitempty"`
}

type IngestResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	DocumentName   string `json:"document_name"`
	CollectionName string `json:"collection_name"`
	TotalChunks    int    `json:"total_chunks"`
	SourceID       int64  `json:"source_id"`
}

// CallbackOutput is one item of the discovery callback's output list.
type CallbackOutput struct {
	Response struct {
		SubDocs []string `json:"sub_docs"`
	} `json:"response"`
}

// CallbackRequest is the body the discovery workflow posts back. It is
// discriminated from a client IngestRequest by the presence of
// task_name, and may arrive wrapped in a {"body": {...}} envelope.
type CallbackRequest struct {
	TaskName       string           `json:"task_name"`
	DocumentName   string           `json:"document_name"`
	CollectionName string           `json:"collection_name"`
	URL            string           `json:"url"`
	Output         []CallbackOutput `json:"output"`
	RequestID      string           `json:"request_id"`
	RecursiveDepth int              `json:"recursive_depth"`
}

type CallbackResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	TaskName          string `json:"task_name"`
	DocumentName      string `json:"document_name"`
	TotalSubDocs      int    `json:"total_sub_docs"`
	SubDocsProcessing int    `json:"sub_docs_processing"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Query               string  `json:"query"`
	TopK                int     `json:"top_k,omitempty"`
	EmbeddingModel      string  `json:"embedding_model,omitempty"`
	EmbeddingDimensions int     `json:"embedding_dimensions,omitempty"`
	DocumentIDs         []int64 `json:"document_ids,omitempty"`
	UseHybrid           bool    `json:"use_hybrid,omitempty"`
	Stream              bool    `json:"stream,omitempty"`
}

// SourceRef is one entry of a query response's source list.
type SourceRef struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	ChunkID string  `json:"chunk_id"`
}

type QueryResponse struct {
	Answer  string      `json:"answer"`
	Sources []SourceRef `json:"sources"`
	Success bool        `json:"success"`
}

// ToolSchema declares a tool to the LLM.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolMetadata carries per-tool execution policy.
type ToolMetadata struct {
	Timeout        time.Duration `json:"timeout"`
	MaxRetries     int           `json:"max_retries"`
	MaxConcurrency int           `json:"max_concurrency"`
	CacheTTL       time.Duration `json:"cache_ttl"`
	CacheEnabled   bool          `json:"cache_enabled"`
}

// ToolCall is a parsed request from the LLM to run one tool.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the structured outcome of one tool execution.
type ToolResult struct {
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Retries   int    `json:"retries"`
	Cached    bool   `json:"cached,omitempty"`
}

// ToolMode selects the tool-dispatch strategy for a run.
type ToolMode string

const (
	ToolModeOff     ToolMode = "off"
	ToolModeAuto    ToolMode = "auto"
	ToolModeJSON    ToolMode = "json"
	ToolModeReact   ToolMode = "react"
	ToolModeHarmony ToolMode = "harmony"
)

// RunConfig bounds one orchestrated run.
type RunConfig struct {
	ToolMode    ToolMode                `json:"tool_mode"`
	Tools       []string                `json:"tools"`
	StepTimeout time.Duration           `json:"step_timeout"`
	RunTimeout  time.Duration           `json:"run_timeout"`
	PerTool     map[string]ToolMetadata `json:"per_tool,omitempty"`
	Model       string                  `json:"model"`
	MaxSteps    int                     `json:"max_steps"`
}

// ToolAllowed reports whether name is on the run's allow-list.
func (rc RunConfig) ToolAllowed(name string) bool {
	for _, t := range rc.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// StepKind discriminates execution steps.
type StepKind string

const (
	StepReasoning   StepKind = "reasoning"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
	StepFinalAnswer StepKind = "final_answer"
)

// Step is one entry of an execution log.
type Step struct {
	Kind       StepKind    `json:"kind"`
	Content    string      `json:"content"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ExecutionContext is the append-only log of a run: the question, the
// retrieved passages, and every step taken so far.
type ExecutionContext struct {
	Question string   `json:"question"`
	Passages []string `json:"passages"`
	Steps    []Step   `json:"steps"`
}

func (ec *ExecutionContext) AddStep(s Step) { ec.Steps = append(ec.Steps, s) }

// Observations returns the contents of all observation steps, the raw
// material for a forced final answer.
func (ec *ExecutionContext) Observations() []string {
	var out []string
	for _, s := range ec.Steps {
		if s.Kind == StepObservation {
			out = append(out, s.Content)
		}
	}
	return out
}

// Message is one conversation turn. ToolCallID is set on tool-role
// messages; ToolCalls on assistant turns that requested tools.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}
