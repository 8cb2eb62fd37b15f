// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"sitechat-go/internal/config"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/tasks"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.EmbeddingTask) error
}

// Producer 向向量化重试主题投递任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Enqueue 发送一个向量化任务到 Kafka。
func (p *Producer) Enqueue(ctx context.Context, task tasks.EmbeddingTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

func brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// StartConsumer 启动一个 Kafka 消费者来处理向量化任务，直到 ctx 被取消。
// 失败的任务不提交 offset，由 Kafka 重新投递；Redis 中的失败计数达到
// MaxAttempts 后提交 offset 放弃重试。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		var task tasks.EmbeddingTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		if handleTask(ctx, processor, rdb, task, cfg.MaxAttempts) {
			commit(ctx, r, m)
		}
	}
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

// handleTask 同步处理任务，返回是否应提交 offset。
func handleTask(ctx context.Context, processor TaskProcessor, rdb *redis.Client, task tasks.EmbeddingTask, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	key := attemptsKey(task.TaskID)

	if err := processor.Process(ctx, task); err != nil {
		log.Errorf("处理向量化任务失败: taskID=%s, error: %v", task.TaskID, err)
		attempts, incErr := rdb.Incr(ctx, key).Result()
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			return false
		}
		_ = rdb.Expire(ctx, key, 24*time.Hour).Err()
		if attempts >= int64(maxAttempts) {
			log.Errorf("向量化任务多次失败(>=%d)，提交 offset 终止重试: taskID=%s", maxAttempts, task.TaskID)
			return true
		}
		return false
	}

	log.Infof("向量化任务处理成功: taskID=%s", task.TaskID)
	_ = rdb.Del(ctx, key).Err()
	return true
}
