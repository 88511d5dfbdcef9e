package respond

import "time"

// ReferenceRespond 回答引用的记忆，按相关度排序
type ReferenceRespond struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	Score     float32   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

type AnswerQueryRespond struct {
	QueryID    string             `json:"query_id"`
	Query      string             `json:"query"`
	Answer     string             `json:"answer"`
	References []ReferenceRespond `json:"references"`
	Fallback   bool               `json:"fallback"`    // 模型未返回文本，使用了固定回答
	TotalHits  int                `json:"total_hits"`  // 向量检索命中数（回表过滤前）
	DurationMs int64              `json:"duration_ms"`
}
