package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds configuration loaded from environment variables.
type Config struct {
	ListenAddr              string        `env:"LISTEN_ADDR" envDefault:":8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`

	// Redis backs the dedup store. Empty RedisAddr selects the in-memory store.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix     string `env:"KEY_PREFIX" envDefault:"verve"`

	WorkerPoolSize   int `env:"WORKER_POOL_SIZE" envDefault:"1000"`
	WorkerQueueDepth int `env:"WORKER_QUEUE_DEPTH" envDefault:"12000"`
	NotifyPoolSize   int `env:"NOTIFY_POOL_SIZE" envDefault:"200"`
	NotifyQueueDepth int `env:"NOTIFY_QUEUE_DEPTH" envDefault:"2000"`

	WindowPeriod   time.Duration `env:"WINDOW_PERIOD" envDefault:"60s"`
	DedupTTL       time.Duration `env:"DEDUP_TTL" envDefault:"2m"`
	ClaimTimeout   time.Duration `env:"CLAIM_TIMEOUT" envDefault:"500ms"`
	NotifyTimeout  time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"5s"`

	PublisherBackend string   `env:"PUBLISHER_BACKEND" envDefault:"log"`
	PublishTopic     string   `env:"PUBLISH_TOPIC" envDefault:"topic_0"`
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	NATSURL          string   `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NSQDAddr         string   `env:"NSQD_ADDR" envDefault:"localhost:4150"`

	BreakerFailures  int           `env:"NOTIFY_BREAKER_FAILURES" envDefault:"5"`
	BreakerSuccesses int           `env:"NOTIFY_BREAKER_SUCCESSES" envDefault:"1"`
	BreakerCooldown  time.Duration `env:"NOTIFY_BREAKER_COOLDOWN" envDefault:"30s"`

	// JWT protects /admin/* when JWTSecret is set.
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISS"`
}

var backends = map[string]bool{"log": true, "kafka": true, "nats": true, "nsq": true}

// Load reads environment variables and returns a validated Config.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom is Load over an explicit environment instead of the process one.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.PublisherBackend = strings.ToLower(strings.TrimSpace(cfg.PublisherBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positiveDur := func(name string, v time.Duration) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, v))
		}
	}

	positive("WORKER_POOL_SIZE", c.WorkerPoolSize)
	positive("WORKER_QUEUE_DEPTH", c.WorkerQueueDepth)
	positive("NOTIFY_POOL_SIZE", c.NotifyPoolSize)
	positive("NOTIFY_QUEUE_DEPTH", c.NotifyQueueDepth)
	positive("NOTIFY_BREAKER_FAILURES", c.BreakerFailures)
	positive("NOTIFY_BREAKER_SUCCESSES", c.BreakerSuccesses)
	positiveDur("WINDOW_PERIOD", c.WindowPeriod)
	positiveDur("DEDUP_TTL", c.DedupTTL)
	positiveDur("CLAIM_TIMEOUT", c.ClaimTimeout)
	positiveDur("NOTIFY_TIMEOUT", c.NotifyTimeout)
	positiveDur("PUBLISH_TIMEOUT", c.PublishTimeout)
	positiveDur("GRACEFUL_SHUTDOWN_TIMEOUT", c.GracefulShutdownTimeout)

	if c.WindowPeriod > 0 && c.DedupTTL < c.WindowPeriod {
		errs = append(errs, fmt.Errorf("DEDUP_TTL (%s) must not be shorter than WINDOW_PERIOD (%s)", c.DedupTTL, c.WindowPeriod))
	}
	if !backends[c.PublisherBackend] {
		errs = append(errs, fmt.Errorf("unknown PUBLISHER_BACKEND %q", c.PublisherBackend))
	}
	if c.PublishTopic == "" {
		errs = append(errs, errors.New("PUBLISH_TOPIC must not be empty"))
	}
	if c.PublisherBackend == "kafka" && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must not be empty for the kafka backend"))
	}
	return errors.Join(errs...)
}
