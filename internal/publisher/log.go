package publisher

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogPublisher writes messages to the structured log. It is the default when
// no broker is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (LogPublisher) Publish(ctx context.Context, topic, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Info().Str("topic", topic).Str("message", message).Msg("unique count published")
	return nil
}

func (LogPublisher) Close() error { return nil }
