package request

// AnswerQueryRequest 基于记忆的问答
type AnswerQueryRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"` // 参与回答的记忆数量上限（默认 5，范围 1-20）
}
