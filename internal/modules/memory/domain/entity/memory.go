package entity

import (
	"database/sql"
	"time"
)

// EmbeddingState 记忆向量同步状态
type EmbeddingState string

const (
	EmbeddingStatePending EmbeddingState = "PENDING"
	EmbeddingStateSynced  EmbeddingState = "SYNCED"
	EmbeddingStateFailed  EmbeddingState = "FAILED"
)

func (s EmbeddingState) Valid() bool {
	switch s {
	case EmbeddingStatePending, EmbeddingStateSynced, EmbeddingStateFailed:
		return true
	}
	return false
}

// MemoryRecord 记忆主记录，权威数据源
//
// CreatedAt/UpdatedAt 由仓储显式维护（关闭 gorm 自动时间戳），状态回写不推进 UpdatedAt。
type MemoryRecord struct {
	Id             string         `gorm:"column:id;type:varchar(40);primaryKey"`
	OwnerId        string         `gorm:"column:owner_id;type:varchar(64);not null;index:idx_memory_owner_created,priority:1"`
	Title          string         `gorm:"column:title;type:varchar(200);not null"`
	Content        string         `gorm:"column:content;type:mediumtext;not null"`
	Tags           []string       `gorm:"column:tags;type:json;serializer:json"`
	ContentHash    string         `gorm:"column:content_hash;type:char(64);not null"`
	EmbeddingState EmbeddingState `gorm:"column:embedding_state;type:varchar(16);not null;index:idx_memory_state"`
	EmbeddingError string         `gorm:"column:embedding_error;type:varchar(255)"`
	SyncAttempts   int            `gorm:"column:sync_attempts;type:int;not null"`
	EmbeddedAt     sql.NullTime   `gorm:"column:embedded_at"`
	// NextSyncAt FAILED 记录下一次允许对账重试的时间，NULL 表示立即可重试
	NextSyncAt sql.NullTime `gorm:"column:next_sync_at"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_memory_owner_created,priority:2"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (MemoryRecord) TableName() string { return "memory_record" }

// MemoryTag 标签反查表，用于 list 的标签过滤
type MemoryTag struct {
	Id       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	MemoryId string `gorm:"column:memory_id;type:varchar(40);not null;uniqueIndex:uniq_memory_tag"`
	OwnerId  string `gorm:"column:owner_id;type:varchar(64);not null;index:idx_memory_tag_owner_tag,priority:1"`
	Tag      string `gorm:"column:tag;type:varchar(50);not null;uniqueIndex:uniq_memory_tag;index:idx_memory_tag_owner_tag,priority:2"`
}

func (MemoryTag) TableName() string { return "memory_tag" }

// VectorOrphan 记录删除失败、待清理的向量
type VectorOrphan struct {
	Id          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	MemoryId    string    `gorm:"column:memory_id;type:varchar(40);not null;uniqueIndex:uniq_vector_orphan_memory"`
	OwnerId     string    `gorm:"column:owner_id;type:varchar(64);not null"`
	Reason      string    `gorm:"column:reason;type:varchar(255)"`
	RetryCount  int       `gorm:"column:retry_count;type:int;not null"`
	NextRetryAt time.Time `gorm:"column:next_retry_at;not null;index:idx_vector_orphan_next_retry"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

func (VectorOrphan) TableName() string { return "vector_orphan" }

// MemoryPatch 部分更新，nil 字段不修改
type MemoryPatch struct {
	Content *string
	Title   *string
	Tags    *[]string
}

func (p MemoryPatch) IsEmpty() bool {
	return p.Content == nil && p.Title == nil && p.Tags == nil
}

// 事件投递状态
const (
	OutboxPending    = "pending"
	OutboxPublishing = "publishing"
	OutboxPublished  = "published"
	OutboxFailed     = "failed"
)

// EventOutbox 待投递到 Kafka 的记忆事件，与业务写入同库持久化
type EventOutbox struct {
	Id            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Topic         string     `gorm:"column:topic;type:varchar(255);not null"`
	MessageKey    string     `gorm:"column:message_key;type:varchar(128)"`
	Payload       string     `gorm:"column:payload;type:text;not null"`
	Headers       string     `gorm:"column:headers;type:text"`
	EventType     string     `gorm:"column:event_type;type:varchar(64)"`
	PublishStatus string     `gorm:"column:publish_status;type:varchar(20);not null;index:idx_event_outbox_status_retry,priority:1"`
	RetryCount    int        `gorm:"column:retry_count;type:int;not null"`
	NextRetryAt   time.Time  `gorm:"column:next_retry_at;not null;index:idx_event_outbox_status_retry,priority:2"`
	LastError     string     `gorm:"column:last_error;type:varchar(500)"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	PublishedAt   *time.Time `gorm:"column:published_at"`
}

func (EventOutbox) TableName() string { return "event_outbox" }
