package initial

import (
	"context"
	"testing"

	"MemoLink/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitVectorIndexLocal(t *testing.T) {
	conf := &config.Config{}
	conf.VectorConfig.LocalPath = t.TempDir()
	conf.ApplyDefaults()

	idx, closer, err := InitVectorIndex(context.Background(), conf, 32)
	require.NoError(t, err)
	defer func() { _ = closer() }()
	assert.Equal(t, 32, idx.Dim())
	assert.Equal(t, "chromem", idx.Name())
}

func TestInitVectorIndexUnknownBackend(t *testing.T) {
	conf := &config.Config{}
	conf.ApplyDefaults()
	conf.VectorConfig.Backend = "faiss"
	_, _, err := InitVectorIndex(context.Background(), conf, 32)
	assert.Error(t, err)
}

func TestInitKafkaDisabledWithoutBrokers(t *testing.T) {
	conf := &config.Config{}
	conf.ApplyDefaults()
	pub, err := InitKafka(conf)
	require.NoError(t, err)
	assert.Nil(t, pub)
}

func TestInitRedisSkippedWithoutHost(t *testing.T) {
	conf := &config.Config{}
	conf.ApplyDefaults()
	assert.False(t, InitRedis(conf))
}
