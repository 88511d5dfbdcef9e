package initial

import (
	"time"

	"MemoLink/internal/config"
	"MemoLink/internal/modules/memory/infrastructure/mq"
	"MemoLink/internal/modules/memory/infrastructure/mq/kafka"
	"MemoLink/pkg/zlog"

	"go.uber.org/zap"
)

// InitKafka 确保事件与同步 topic 存在并创建生产者；未配置 brokers 时返回 nil
func InitKafka(conf *config.Config) (mq.Publisher, error) {
	kc := conf.KafkaConfig
	if len(kc.Brokers) == 0 {
		zlog.Info("Kafka 未配置，生命周期事件不会发布")
		return nil, nil
	}

	topics := []string{kc.EventTopic}
	if conf.SyncConfig.Mode == "kafka" {
		topics = append(topics, kc.SyncTopic)
	}
	err := kafka.EnsureTopics(kafka.TopicAdminConfig{
		Brokers:           kc.Brokers,
		ClientID:          kc.ClientID,
		Version:           kc.Version,
		Partitions:        kc.Partitions,
		ReplicationFactor: kc.ReplicationFactor,
		Retention:         time.Duration(kc.RetentionHours) * time.Hour,
	}, topics...)
	if err != nil {
		return nil, err
	}

	pub, err := kafka.NewSaramaPublisher(kafka.PublisherConfig{
		Brokers:  kc.Brokers,
		ClientID: kc.ClientID,
		Version:  kc.Version,
	})
	if err != nil {
		return nil, err
	}
	zlog.Info("Kafka 生产者就绪", zap.Strings("brokers", kc.Brokers), zap.Strings("topics", topics))
	return pub, nil
}

// NewSyncConsumer syncConfig.mode = kafka 时消费同步请求
func NewSyncConsumer(conf *config.Config) (mq.Consumer, error) {
	kc := conf.KafkaConfig
	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  kc.Brokers,
		GroupID:  kc.ConsumerGroup,
		Topics:   []string{kc.SyncTopic},
		ClientID: kc.ClientID,
		Version:  kc.Version,
	})
}
