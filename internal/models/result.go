package models

// SearchResult is a single ranked hit. The shape is the same for vector and hybrid queries;
// VectorScore and KeywordScore are only populated by hybrid queries.
type SearchResult struct {
	Chunk        Chunk   `json:"chunk"`
	Score        float64 `json:"score"`
	VectorScore  float64 `json:"vector_score,omitempty"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
	Rank         int     `json:"rank"`
}

// QueryResponse is the response for a query request.
type QueryResponse struct {
	Question    string          `json:"question"`
	K           int             `json:"k"`
	Mode        string          `json:"mode"`
	Results     []*SearchResult `json:"results"`
	QueryTimeMs int64           `json:"query_time_ms"`
}

// Answer is a generated answer with the chunks it was grounded on.
type Answer struct {
	Question string          `json:"question"`
	Answer   string          `json:"answer"`
	Sources  []*SearchResult `json:"sources"`
}

// AnswerSource is one retrieved chunk as shown next to an answer.
type AnswerSource struct {
	Source     string  `json:"source"`
	StartIndex int     `json:"start_index"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// AnswerView is the client-facing form of an Answer: sources are cut down to a snippet.
type AnswerView struct {
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Sources  []AnswerSource `json:"sources"`
}

// Stage names used in IngestReport.FailedStage.
const (
	StageLoad    = "load"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageIndex   = "index"
	StagePersist = "persist"
)

// IngestReport tells the caller how far an ingestion got. Counts are exact per stage so
// a failed ingestion can be retried: cached embeddings and index dedup make retries idempotent.
type IngestReport struct {
	IngestID        string    `json:"ingest_id"`
	Locator         string    `json:"locator,omitempty"`
	DocumentsLoaded int       `json:"documents_loaded"`
	ChunksAdded     int       `json:"chunks_added"`
	EmbeddingsAdded int       `json:"embeddings_added"`
	IndexAdded      int       `json:"index_added"`
	Persisted       bool      `json:"persisted"`
	Pending         int       `json:"pending"`
	FailedStage     string    `json:"failed_stage,omitempty"`
	Error           string    `json:"error,omitempty"`
	ErrorKind       ErrorKind `json:"error_kind,omitempty"`
	DurationMs      int64     `json:"duration_ms"`
}

// Fail records err against stage.
func (r *IngestReport) Fail(stage string, err error) {
	r.FailedStage = stage
	r.Error = err.Error()
	r.ErrorKind = KindOf(err)
}

// Status is a snapshot of the pipeline state.
type Status struct {
	ModelID        string `json:"model_id"`
	Dimension      int    `json:"dimension"`
	Entries        int    `json:"entries"`
	CachedVectors  int    `json:"cached_vectors"`
	NextChunkID    int64  `json:"next_chunk_id"`
	PendingChunks  int    `json:"pending_chunks"`
	IndexDir       string `json:"index_dir"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
}
