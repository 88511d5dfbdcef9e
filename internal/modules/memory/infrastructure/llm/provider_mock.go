package llm

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockChatModel 离线摘录模型：把用户消息中第一段 Content 原样作为回答
type MockChatModel struct{}

func NewMockChatModel() *MockChatModel { return &MockChatModel{} }

func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return schema.AssistantMessage(m.answer(input), nil), nil
}

func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *MockChatModel) answer(input []*schema.Message) string {
	var user string
	for i := len(input) - 1; i >= 0; i-- {
		if input[i] != nil && input[i].Role == schema.User {
			user = input[i].Content
			break
		}
	}
	for _, line := range strings.Split(user, "\n") {
		if rest, ok := strings.CutPrefix(line, "Content: "); ok && strings.TrimSpace(rest) != "" {
			return "Based on your memories: " + strings.TrimSpace(rest)
		}
	}
	return "I could not find any relevant memories to answer this question."
}

var _ model.BaseChatModel = (*MockChatModel)(nil)
