package respond

import "time"

type MemoryRespond struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Tags           []string  `json:"tags"`
	EmbeddingState string    `json:"embedding_state"`
	EmbeddingError string    `json:"embedding_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type MemoryListRespond struct {
	Memories   []MemoryRespond `json:"memories"`
	Pagination Pagination      `json:"pagination"`
}

type DeleteMemoryRespond struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
	// VectorCleanupPending 向量删除失败，已登记由对账任务清理
	VectorCleanupPending bool `json:"vector_cleanup_pending"`
}
