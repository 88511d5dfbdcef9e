package config

import (
	"log"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

const DefaultConfigPath = "configs/config_local.toml"

type MainConfig struct {
	AppName  string `toml:"appName"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	ForceSSL bool   `toml:"forceSSL"`
	Mode     string `toml:"mode"` // gin 模式：debug / release / test
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath    string `toml:"logPath"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays"`
	Console    bool   `toml:"console"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
	// AdminUUIDs 可调用 /admin/* 的调用方，为空时管理接口关闭
	AdminUUIDs []string `toml:"adminUUIDs"`
}

type MilvusConfig struct {
	Address        string `toml:"address"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	DBName         string `toml:"dbName"`
	CollectionName string `toml:"collectionName"`
	VectorDim      int    `toml:"vectorDim"`
	MetricType     string `toml:"metricType"`
}

// VectorConfig 向量索引后端选择：milvus（生产）或 local（chromem-go 内嵌）
type VectorConfig struct {
	Backend             string `toml:"backend"`
	LocalPath           string `toml:"localPath"` // local 后端持久化目录，为空时纯内存
	LocalCollection     string `toml:"localCollection"`
	IndexTimeoutSeconds int    `toml:"indexTimeoutSeconds"`
}

type KafkaConfig struct {
	Brokers           []string `toml:"brokers"`
	ClientID          string   `toml:"clientID"`
	Version           string   `toml:"version"`
	EventTopic        string   `toml:"eventTopic"`
	SyncTopic         string   `toml:"syncTopic"` // syncConfig.mode = kafka 时的同步请求 topic
	ConsumerGroup     string   `toml:"consumerGroup"`
	Partitions        int32    `toml:"partitions"`
	ReplicationFactor int16    `toml:"replicationFactor"`
	RetentionHours    int      `toml:"retentionHours"`
	UseOutbox         bool     `toml:"useOutbox"` // 事件先落库再由 relay 投递
	OutboxBatchSize   int      `toml:"outboxBatchSize"`
	OutboxPollMillis  int      `toml:"outboxPollMillis"`
}

type AIEmbeddingConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	Dimensions      int    `toml:"dimensions"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	User            string `toml:"user"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIChatModelConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding"`
	ChatModel AIChatModelConfig `toml:"chatModel"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

type RateLimitConfig struct {
	Enabled       bool `toml:"enabled"`
	WindowSeconds int  `toml:"windowSeconds"`
	MaxRequests   int  `toml:"maxRequests"`
}

// SyncConfig 向量同步参数
type SyncConfig struct {
	Mode                string `toml:"mode"` // inline / async / kafka
	BudgetSeconds       int    `toml:"budgetSeconds"`
	RepoTimeoutSeconds  int    `toml:"repoTimeoutSeconds"`
	EmbedTimeoutSeconds int    `toml:"embedTimeoutSeconds"`
}

type RAGConfig struct {
	DefaultTopK              int `toml:"defaultTopK"`
	MaxTopK                  int `toml:"maxTopK"`
	MaxQueryChars            int `toml:"maxQueryChars"`
	GenerationTimeoutSeconds int `toml:"generationTimeoutSeconds"`
}

type ReconcileConfig struct {
	Enabled             bool   `toml:"enabled"`
	Cron                string `toml:"cron"`
	BatchSize           int    `toml:"batchSize"`
	PendingGraceSeconds int    `toml:"pendingGraceSeconds"`
}

type Config struct {
	MainConfig      `toml:"mainConfig"`
	MysqlConfig     `toml:"mysqlConfig"`
	JwtConfig       `toml:"jwtConfig"`
	MilvusConfig    `toml:"milvusConfig"`
	VectorConfig    `toml:"vectorConfig"`
	KafkaConfig     `toml:"kafkaConfig"`
	AIConfig        `toml:"aiConfig"`
	LogConfig       `toml:"logConfig"`
	RedisConfig     `toml:"redisConfig"`
	RateLimitConfig `toml:"rateLimitConfig"`
	SyncConfig      `toml:"syncConfig"`
	RAGConfig       `toml:"ragConfig"`
	ReconcileConfig `toml:"reconcileConfig"`
}

var (
	config *Config
	mu     sync.Mutex
)

// LoadConfig 从指定路径加载配置，path 为空时依次尝试 MEMOLINK_CONFIG 与默认路径
func LoadConfig(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("MEMOLINK_CONFIG"))
	}
	if path == "" {
		path = DefaultConfigPath
	}
	c := new(Config)
	if _, err := toml.DecodeFile(path, c); err != nil {
		log.Printf("加载配置文件失败: %v, 使用默认设置", err)
		c.ApplyDefaults()
		return c, err
	}
	c.ApplyDefaults()
	return c, nil
}

// ApplyDefaults 为未配置的字段填充默认值
func (c *Config) ApplyDefaults() {
	if c.AppName == "" {
		c.AppName = "MemoLink"
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.JwtConfig.ExpireHours <= 0 {
		c.JwtConfig.ExpireHours = 24 * 7
	}
	if c.MilvusConfig.VectorDim <= 0 {
		c.MilvusConfig.VectorDim = 1024
	}
	if c.MilvusConfig.CollectionName == "" {
		c.MilvusConfig.CollectionName = "memory_vectors"
	}
	if c.MilvusConfig.MetricType == "" {
		c.MilvusConfig.MetricType = "COSINE"
	}
	if c.VectorConfig.Backend == "" {
		c.VectorConfig.Backend = "local"
	}
	if c.VectorConfig.LocalCollection == "" {
		c.VectorConfig.LocalCollection = "memory-index"
	}
	if c.VectorConfig.IndexTimeoutSeconds <= 0 {
		c.VectorConfig.IndexTimeoutSeconds = 10
	}
	if c.KafkaConfig.EventTopic == "" {
		c.KafkaConfig.EventTopic = "memolink.memory.events"
	}
	if c.KafkaConfig.SyncTopic == "" {
		c.KafkaConfig.SyncTopic = "memolink.memory.sync"
	}
	if c.KafkaConfig.OutboxBatchSize <= 0 {
		c.KafkaConfig.OutboxBatchSize = 100
	}
	if c.KafkaConfig.OutboxPollMillis <= 0 {
		c.KafkaConfig.OutboxPollMillis = 1000
	}
	if c.KafkaConfig.ConsumerGroup == "" {
		c.KafkaConfig.ConsumerGroup = "memolink-sync"
	}
	if c.KafkaConfig.Version == "" {
		c.KafkaConfig.Version = "2.8.0"
	}
	if c.KafkaConfig.Partitions <= 0 {
		c.KafkaConfig.Partitions = 3
	}
	if c.KafkaConfig.ReplicationFactor <= 0 {
		c.KafkaConfig.ReplicationFactor = 1
	}
	if c.KafkaConfig.RetentionHours <= 0 {
		c.KafkaConfig.RetentionHours = 24
	}
	if c.RateLimitConfig.WindowSeconds <= 0 {
		c.RateLimitConfig.WindowSeconds = 15 * 60
	}
	if c.RateLimitConfig.MaxRequests <= 0 {
		c.RateLimitConfig.MaxRequests = 100
	}
	if c.SyncConfig.Mode == "" {
		c.SyncConfig.Mode = "inline"
	}
	if c.SyncConfig.BudgetSeconds <= 0 {
		c.SyncConfig.BudgetSeconds = 30
	}
	if c.SyncConfig.RepoTimeoutSeconds <= 0 {
		c.SyncConfig.RepoTimeoutSeconds = 5
	}
	if c.SyncConfig.EmbedTimeoutSeconds <= 0 {
		c.SyncConfig.EmbedTimeoutSeconds = 15
	}
	if c.RAGConfig.DefaultTopK <= 0 {
		c.RAGConfig.DefaultTopK = 5
	}
	if c.RAGConfig.MaxTopK <= 0 {
		c.RAGConfig.MaxTopK = 20
	}
	if c.RAGConfig.MaxQueryChars <= 0 {
		c.RAGConfig.MaxQueryChars = 500
	}
	if c.RAGConfig.GenerationTimeoutSeconds <= 0 {
		c.RAGConfig.GenerationTimeoutSeconds = 60
	}
	if c.ReconcileConfig.Cron == "" {
		c.ReconcileConfig.Cron = "@every 1m"
	}
	if c.ReconcileConfig.BatchSize <= 0 {
		c.ReconcileConfig.BatchSize = 50
	}
	if c.ReconcileConfig.PendingGraceSeconds <= 0 {
		c.ReconcileConfig.PendingGraceSeconds = 300
	}
}

// SetConfig 替换全局配置（启动时或测试中使用）
func SetConfig(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = c
}

func GetConfig() *Config {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		config, _ = LoadConfig("")
	}
	return config
}
