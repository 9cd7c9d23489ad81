// Package publisher delivers closed-window unique counts to a messaging sink.
package publisher

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by New.
const (
	BackendLog   = "log"
	BackendKafka = "kafka"
	BackendNATS  = "nats"
	BackendNSQ   = "nsq"
)

// Publisher hands one message to the sink. Publish must honour ctx; callers
// bound it with a timeout and never retry.
type Publisher interface {
	Publish(ctx context.Context, topic, message string) error
	Close() error
}

// Config selects and configures a sink.
type Config struct {
	Backend  string
	Brokers  []string
	NATSURL  string
	NSQDAddr string
	Timeout  time.Duration
}

// New builds the Publisher named by cfg.Backend.
func New(cfg Config) (Publisher, error) {
	switch cfg.Backend {
	case "", BackendLog:
		return NewLogPublisher(), nil
	case BackendKafka:
		return NewKafkaPublisher(cfg.Brokers, cfg.Timeout)
	case BackendNATS:
		return NewNATSPublisher(cfg.NATSURL, cfg.Timeout)
	case BackendNSQ:
		return NewNSQPublisher(cfg.NSQDAddr, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown publisher backend %q", cfg.Backend)
	}
}

// sendWithContext runs a sink call that cannot take a context and gives up
// waiting once ctx is done. The call itself keeps running until the client's
// own network timeout.
func sendWithContext(ctx context.Context, send func() error) error {
	done := make(chan error, 1)
	go func() { done <- send() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
