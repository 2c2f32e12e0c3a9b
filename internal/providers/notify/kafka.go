package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// MessageProducer is the sarama producer surface the dispatcher needs.
type MessageProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type KafkaConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
}

// KafkaDispatcher publishes notifications keyed by channel so one
// channel's alerts stay on one partition.
type KafkaDispatcher struct {
	producer MessageProducer
	topic    string
	log      *zap.Logger
}

func newSaramaConfig(cfg KafkaConfig) *sarama.Config {
	c := sarama.NewConfig()
	c.ClientID = cfg.ClientID
	c.Producer.RequiredAcks = sarama.WaitForLocal
	c.Producer.Return.Successes = true
	c.Producer.Return.Errors = true
	c.Producer.Retry.Max = 3
	c.Producer.Retry.Backoff = 200 * time.Millisecond
	c.Producer.Timeout = 5 * time.Second
	return c
}

func NewKafka(cfg KafkaConfig, log *zap.Logger) (*KafkaDispatcher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka notification topic is required")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	return NewKafkaWithProducer(producer, cfg.Topic, log), nil
}

func NewKafkaWithProducer(producer MessageProducer, topic string, log *zap.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer, topic: topic, log: log.Named("notify.kafka")}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if len(n.Recipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	partition, offset, err := d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(n.ChannelID.String()),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(n.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s notification: %w", n.Kind, err)
	}
	d.log.Debug("notification published",
		zap.String("kind", string(n.Kind)),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Int("recipients", len(n.Recipients)),
	)
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.producer.Close()
}
