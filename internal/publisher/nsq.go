package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/rs/zerolog/log"
)

type nsqProducer interface {
	Publish(topic string, body []byte) error
	Stop()
}

// NSQPublisher publishes to an nsqd topic.
type NSQPublisher struct {
	producer nsqProducer
}

// nsqLogger routes go-nsq's internal logging into zerolog.
type nsqLogger struct{}

func (nsqLogger) Output(_ int, s string) error {
	log.Debug().Str("component", "nsq").Msg(s)
	return nil
}

func NewNSQPublisher(addr string, timeout time.Duration) (*NSQPublisher, error) {
	if addr == "" {
		return nil, errors.New("nsq: no nsqd address configured")
	}
	cfg := nsq.NewConfig()
	if timeout > 0 {
		cfg.DialTimeout = timeout
		cfg.WriteTimeout = timeout
	}
	p, err := nsq.NewProducer(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	p.SetLogger(nsqLogger{}, nsq.LogLevelWarning)
	if err := p.Ping(); err != nil {
		p.Stop()
		return nil, fmt.Errorf("nsq ping: %w", err)
	}
	log.Info().Str("addr", addr).Msg("nsq publisher connected")
	return &NSQPublisher{producer: p}, nil
}

func (n *NSQPublisher) Publish(ctx context.Context, topic, message string) error {
	if message == "" {
		return errors.New("nsq: empty message")
	}
	err := sendWithContext(ctx, func() error {
		return n.producer.Publish(topic, []byte(message))
	})
	if err != nil {
		return fmt.Errorf("nsq publish to %s: %w", topic, err)
	}
	return nil
}

func (n *NSQPublisher) Close() error {
	n.producer.Stop()
	return nil
}
