package mq

import (
	"context"
	"fmt"

	"marketpay/internal/config"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Publisher 事件投递，OutboxSender 只依赖这个接口
type Publisher interface {
	Publish(ctx context.Context, topic, key, value string) error
	Close() error
}

// NewSyncProducer 创建 Kafka 同步生产者
func NewSyncProducer(cfg *config.KafkaConfig) (sarama.SyncProducer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1 // 开启幂等生产者的前提

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	return producer, nil
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	log      zerolog.Logger
}

func NewKafkaPublisher(producer sarama.SyncProducer, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, log: log}
}

func (p *KafkaPublisher) Publish(_ context.Context, topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return err
	}
	p.log.Debug().Str("topic", topic).Str("key", key).
		Int32("partition", partition).Int64("offset", offset).Msg("消息已写入 Kafka")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher 未配置 broker 时把事件写到日志，本地联调用
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, topic, key, value string) error {
	p.log.Info().Str("topic", topic).Str("key", key).RawJSON("payload", []byte(value)).Msg("事件")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
