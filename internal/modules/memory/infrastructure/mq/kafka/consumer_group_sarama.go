package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"MemoLink/internal/modules/memory/infrastructure/mq"
	"MemoLink/pkg/zlog"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	ClientID string
	Version  string
}

type saramaConsumer struct {
	cg     sarama.ConsumerGroup
	topics []string
}

func NewConsumer(cfg ConsumerConfig) (mq.Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka consumer group id is empty")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka topics is empty")
	}

	sc := newSaramaConfig(cfg.ClientID, cfg.Version)
	// 同步请求可以重放，新组从最早位点开始
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Group.Rebalance.Timeout = 30 * time.Second
	sc.Consumer.Group.Session.Timeout = 30 * time.Second

	cg, err := sarama.NewConsumerGroup(cfg.Brokers, strings.TrimSpace(cfg.GroupID), sc)
	if err != nil {
		return nil, err
	}
	return &saramaConsumer{cg: cg, topics: cfg.Topics}, nil
}

// Run 阻塞消费直到 ctx 取消；每次 rebalance 后重新进入 Consume
func (c *saramaConsumer) Run(ctx context.Context, handler mq.Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	h := newConsumerGroupHandler(handler)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.cg.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
	}
}

func (c *saramaConsumer) Close() error {
	if c == nil || c.cg == nil {
		return nil
	}
	return c.cg.Close()
}

const (
	handleRetryBase = 500 * time.Millisecond
	handleRetryMax  = 30 * time.Second
)

type consumerGroupHandler struct {
	h         mq.Handler
	retryBase time.Duration
	retryMax  time.Duration
}

func newConsumerGroupHandler(h mq.Handler) *consumerGroupHandler {
	return &consumerGroupHandler{h: h, retryBase: handleRetryBase, retryMax: handleRetryMax}
}

func (consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 位点按分区累计提交，失败的消息原地重试，成功前不处理同分区后续消息
func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for m := range claim.Messages() {
		if !h.handleUntilDone(sess.Context(), m) {
			// 会话结束时仍未成功：不提交，下次分配到该分区时从这条消息重新消费
			return nil
		}
		sess.MarkMessage(m, "")
	}
	return nil
}

func (h *consumerGroupHandler) handleUntilDone(ctx context.Context, m *sarama.ConsumerMessage) bool {
	msg := fromConsumerMessage(m)
	backoff := h.retryBase
	for attempt := 1; ; attempt++ {
		err := h.h.Handle(ctx, msg)
		if err == nil {
			return true
		}
		zlog.Warn("kafka handle message failed",
			zap.String("topic", m.Topic),
			zap.Int32("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", backoff),
			zap.Error(err))
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		backoff *= 2
		if backoff > h.retryMax {
			backoff = h.retryMax
		}
	}
}

func fromConsumerMessage(m *sarama.ConsumerMessage) mq.Message {
	msg := mq.Message{Topic: m.Topic, Key: m.Key, Value: m.Value}
	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, hdr := range m.Headers {
			if hdr == nil || len(hdr.Key) == 0 {
				continue
			}
			msg.Headers[string(hdr.Key)] = string(hdr.Value)
		}
	}
	return msg
}
