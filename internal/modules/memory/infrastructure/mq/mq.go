package mq

import (
	"context"
	"encoding/json"
	"time"
)

type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type PublishResult struct {
	Partition int32
	Offset    int64
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) (PublishResult, error)
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

type Consumer interface {
	Run(ctx context.Context, handler Handler) error
	Close() error
}

// 记忆生命周期事件类型
const (
	EventSyncRequested   = "memory.sync_requested"
	EventEmbeddingFailed = "memory.embedding_failed"
	EventVectorOrphaned  = "memory.vector_orphaned"
)

const headerEventType = "event_type"

// MemoryEvent 事件载荷，Key 使用 memory_id 保证同一记录落在同一分区
type MemoryEvent struct {
	Type        string    `json:"type"`
	MemoryID    string    `json:"memory_id"`
	OwnerID     string    `json:"owner_id"`
	ContentHash string    `json:"content_hash,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (e MemoryEvent) ToMessage(topic string) (Message, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic:   topic,
		Key:     []byte(e.MemoryID),
		Value:   b,
		Headers: map[string]string{headerEventType: e.Type},
	}, nil
}

func ParseMemoryEvent(msg Message) (MemoryEvent, error) {
	var ev MemoryEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return MemoryEvent{}, err
	}
	if ev.Type == "" {
		ev.Type = msg.Headers[headerEventType]
	}
	return ev, nil
}

// EventEmitter 向固定 topic 发布记忆事件；publisher 为 nil 时不做任何事
type EventEmitter struct {
	pub   Publisher
	topic string
}

func NewEventEmitter(pub Publisher, topic string) *EventEmitter {
	return &EventEmitter{pub: pub, topic: topic}
}

func (e *EventEmitter) Enabled() bool {
	return e != nil && e.pub != nil && e.topic != ""
}

func (e *EventEmitter) Emit(ctx context.Context, ev MemoryEvent) error {
	if !e.Enabled() {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	msg, err := ev.ToMessage(e.topic)
	if err != nil {
		return err
	}
	_, err = e.pub.Publish(ctx, msg)
	return err
}
