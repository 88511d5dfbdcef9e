package persistence

import (
	"MemoLink/internal/modules/memory/domain/entity"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventOutboxClaimAndPublish(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewEventOutboxRepository(db, time.Second)

	for _, key := range []string{"M1", "M2", "M3"} {
		require.NoError(t, repo.Enqueue(ctx, &entity.EventOutbox{
			Topic:      "memolink.memory.events",
			MessageKey: key,
			Payload:    `{"memory_id":"` + key + `"}`,
			EventType:  "memory.embedding_failed",
		}))
	}

	now := time.Now().Add(time.Second)
	claimed, err := repo.ClaimForPublish(ctx, now, time.Minute, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "M1", claimed[0].MessageKey)
	assert.Equal(t, "M2", claimed[1].MessageKey)

	// 已认领的事件在租约内不会被再次认领
	again, err := repo.ClaimForPublish(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "M3", again[0].MessageKey)

	require.NoError(t, repo.MarkPublished(ctx, claimed[0].Id, now))
	require.NoError(t, repo.MarkPublishFailed(ctx, claimed[1].Id, now.Add(time.Hour), "broker down"))

	var failed entity.EventOutbox
	require.NoError(t, db.First(&failed, claimed[1].Id).Error)
	assert.Equal(t, entity.OutboxFailed, failed.PublishStatus)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Equal(t, "broker down", failed.LastError)

	var published entity.EventOutbox
	require.NoError(t, db.First(&published, claimed[0].Id).Error)
	assert.Equal(t, entity.OutboxPublished, published.PublishStatus)
	require.NotNil(t, published.PublishedAt)

	// 租约过期后 publishing 可被重新认领；failed 需要等到 next_retry_at
	later, err := repo.ClaimForPublish(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, "M3", later[0].MessageKey)

	retry, err := repo.ClaimForPublish(ctx, now.Add(2*time.Hour), time.Minute, 10)
	require.NoError(t, err)
	keys := []string{}
	for _, row := range retry {
		keys = append(keys, row.MessageKey)
	}
	assert.ElementsMatch(t, []string{"M2", "M3"}, keys)
}

func TestEventOutboxEnqueueRequiresTopic(t *testing.T) {
	repo := NewEventOutboxRepository(newTestDB(t), time.Second)
	assert.Error(t, repo.Enqueue(context.Background(), &entity.EventOutbox{Payload: "{}"}))
}
