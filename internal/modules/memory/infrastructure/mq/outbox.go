package mq

import (
	"context"
	"encoding/json"

	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
)

// OutboxPublisher 把消息写入发件箱表，由 queue.OutboxRelay 异步投递到 Kafka
type OutboxPublisher struct {
	repo repository.EventOutboxRepository
}

func NewOutboxPublisher(repo repository.EventOutboxRepository) *OutboxPublisher {
	return &OutboxPublisher{repo: repo}
}

// Publish 入队成功即返回；Partition/Offset 在投递前未知，固定为 -1
func (p *OutboxPublisher) Publish(ctx context.Context, msg Message) (PublishResult, error) {
	headers := ""
	if len(msg.Headers) > 0 {
		b, err := json.Marshal(msg.Headers)
		if err != nil {
			return PublishResult{}, err
		}
		headers = string(b)
	}
	row := &entity.EventOutbox{
		Topic:      msg.Topic,
		MessageKey: string(msg.Key),
		Payload:    string(msg.Value),
		Headers:    headers,
		EventType:  msg.Headers[headerEventType],
	}
	if err := p.repo.Enqueue(ctx, row); err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Partition: -1, Offset: -1}, nil
}

func (p *OutboxPublisher) Close() error { return nil }

// OutboxMessage 从发件箱行还原消息
func OutboxMessage(row *entity.EventOutbox) (Message, error) {
	msg := Message{
		Topic: row.Topic,
		Value: []byte(row.Payload),
	}
	if row.MessageKey != "" {
		msg.Key = []byte(row.MessageKey)
	}
	if row.Headers != "" {
		if err := json.Unmarshal([]byte(row.Headers), &msg.Headers); err != nil {
			return Message{}, err
		}
	}
	return msg, nil
}
