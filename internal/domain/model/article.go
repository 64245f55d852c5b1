package model

// ArticleRef is the slice of an article the queue needs to address it.
type ArticleRef struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// ArticleContent is what the worker reads before chunking.
type ArticleContent struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Chunk is one overlapping segment of an article body with its heading context.
type Chunk struct {
	Index       int    `json:"chunkIndex"`
	HeadingPath string `json:"headingPath"`
	Text        string `json:"text"`
	TokenCount  int    `json:"tokenCount"`
}

// ArticleTaskState summarises the task history of one article.
type ArticleTaskState struct {
	ArticleID       string
	LastStatus      TaskStatus
	LastAttempts    int
	LastMaxAttempts int
	LastError       string
	HasCompleted    bool
}

// LastTerminallyFailed reports whether the newest task gave up.
func (s ArticleTaskState) LastTerminallyFailed() bool {
	return s.LastStatus == TaskStatusFailed && s.LastAttempts >= s.LastMaxAttempts
}

type EmbeddingNeedReason string

const (
	ReasonNoCompletedTask  EmbeddingNeedReason = "no_completed_task"
	ReasonFailedEmbedding  EmbeddingNeedReason = "failed_embedding"
	ReasonMissingEmbedding EmbeddingNeedReason = "missing_embedding"
)

type ArticleNeedingEmbedding struct {
	ArticleID      string              `json:"articleId"`
	Slug           string              `json:"slug"`
	Title          string              `json:"title"`
	Reason         EmbeddingNeedReason `json:"reason"`
	LastTaskStatus *TaskStatus         `json:"lastTaskStatus,omitempty"`
	LastError      string              `json:"lastError,omitempty"`
}
