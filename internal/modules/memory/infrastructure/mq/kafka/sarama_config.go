package kafka

import (
	"strings"

	"github.com/IBM/sarama"
)

// newSaramaConfig 生成公共配置；version 解析失败时退回 2.8.0
func newSaramaConfig(clientID, version string) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	if v, err := sarama.ParseKafkaVersion(strings.TrimSpace(version)); err == nil {
		sc.Version = v
	}
	if id := strings.TrimSpace(clientID); id != "" {
		sc.ClientID = id
	}
	return sc
}
