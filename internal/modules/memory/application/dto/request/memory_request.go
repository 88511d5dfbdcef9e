package request

// CreateMemoryRequest 新建记忆
type CreateMemoryRequest struct {
	Content string   `json:"content" binding:"required"` // 正文（必填，最长 10000 字符）
	Title   string   `json:"title"`                      // 标题（可选，最长 200 字符）
	Tags    []string `json:"tags"`                       // 标签（最多 10 个，每个最长 50 字符）
}

// UpdateMemoryRequest 部分更新，未出现的字段保持不变
type UpdateMemoryRequest struct {
	Content *string   `json:"content"`
	Title   *string   `json:"title"`
	Tags    *[]string `json:"tags"`
}

// ListMemoriesRequest 分页列表查询参数
type ListMemoriesRequest struct {
	Page   int    `form:"page"`   // 默认 1
	Limit  int    `form:"limit"`  // 默认 20，最大 100
	Tags   string `form:"tags"`   // 逗号分隔，命中任一即可
	Search string `form:"search"` // 标题与正文的子串匹配
}
