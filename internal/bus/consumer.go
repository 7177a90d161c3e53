package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/config"
	"github.com/aihub/vector-index-go/internal/logger"
)

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, data []byte) error

// Consumer 消息总线消费者
// 所有已注册端点的主题由同一个消费组订阅，每个分区在各自的协程中逐条处理，处理成功后标记提交
type Consumer struct {
	group    sarama.ConsumerGroup
	groupID  string
	topics   []string
	handlers map[string]MessageHandler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(cfg *config.Config) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true
	// 每端点单条在途消息
	saramaCfg.ChannelBufferSize = 1
	saramaCfg.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("创建消费者组失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		group:    group,
		groupID:  cfg.Kafka.GroupID,
		handlers: make(map[string]MessageHandler),
		ctx:      ctx,
		cancel:   cancel,
	}

	logger.Info("消息总线消费者初始化成功",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("group_id", cfg.Kafka.GroupID))
	return c, nil
}

// RegisterHandler 注册端点处理器
func (c *Consumer) RegisterHandler(topic string, handler MessageHandler) {
	c.handlers[topic] = handler
	c.topics = append(c.topics, topic)
	logger.Info("注册消息处理器", zap.String("topic", topic))
}

// Start 启动消费循环
func (c *Consumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				logger.Info("消息总线消费者停止")
				return
			default:
				handler := &groupHandler{handlers: c.handlers}
				if err := c.group.Consume(c.ctx, c.topics, handler); err != nil {
					logger.Error("消费消息失败", zap.Error(err))
					time.Sleep(5 * time.Second)
				}
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			logger.Error("消费者组错误", zap.Error(err))
		}
	}()
}

// Close 停止消费并释放连接
func (c *Consumer) Close() error {
	c.cancel()
	c.wg.Wait()
	return c.group.Close()
}

// groupHandler 消费者组回调
type groupHandler struct {
	handlers map[string]MessageHandler
}

// Setup 会话开始
func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 会话结束
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 逐条消费，处理成功才标记
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			handler, ok := h.handlers[message.Topic]
			if !ok {
				logger.Warn("未找到消息处理器", zap.String("topic", message.Topic))
				session.MarkMessage(message, "")
				continue
			}

			if err := handler(session.Context(), message.Value); err != nil {
				logger.Error("处理消息失败",
					zap.String("topic", message.Topic),
					zap.Int("partition", int(message.Partition)),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
				// 不标记并结束本次会话，重新加入后从未提交的位移重投
				return nil
			}

			session.MarkMessage(message, "")
			logger.Debug("消息处理成功",
				zap.String("topic", message.Topic),
				zap.Int64("offset", message.Offset))

		case <-session.Context().Done():
			return nil
		}
	}
}
