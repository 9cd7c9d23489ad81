package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"
)

// KafkaPublisher sends each message synchronously through a sarama producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher connects a sync producer to brokers. Network and produce
// timeouts follow timeout; sarama's own retries are disabled.
func NewKafkaPublisher(brokers []string, timeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	cfg := sarama.NewConfig()
	cfg.ClientID = "verve-counter"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 0
	if timeout > 0 {
		cfg.Producer.Timeout = timeout
		cfg.Net.DialTimeout = timeout
		cfg.Net.ReadTimeout = timeout
		cfg.Net.WriteTimeout = timeout
	}
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	log.Info().Strs("brokers", brokers).Msg("kafka publisher connected")
	return NewKafkaPublisherFromProducer(p), nil
}

// NewKafkaPublisherFromProducer wraps an existing producer.
func NewKafkaPublisherFromProducer(p sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (k *KafkaPublisher) Publish(ctx context.Context, topic, message string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(message),
	}
	var partition int32
	var offset int64
	err := sendWithContext(ctx, func() error {
		var err error
		partition, offset, err = k.producer.SendMessage(msg)
		return err
	})
	if err != nil {
		return fmt.Errorf("kafka send to %s: %w", topic, err)
	}
	log.Debug().Str("topic", topic).Int32("partition", partition).Int64("offset", offset).Msg("kafka message sent")
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
