package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"verve-counter/internal/metrics"
)

// Notifier forwards a running unique count to a caller-supplied endpoint.
// Notify must return immediately and never report failure to its caller.
type Notifier interface {
	Notify(endpoint string, count int64)
}

type notification struct {
	UniqueCount int64 `json:"unique_count"`
}

// HTTPNotifier POSTs {"unique_count": n} from its own worker pool. Each
// notification is sent once; the outcome is only logged and counted.
type HTTPNotifier struct {
	client   *http.Client
	pool     *Pool
	breakers *EndpointBreakers
	timeout  time.Duration
	metrics  *metrics.Registry
}

// NewHTTPNotifier builds a notifier sending through pool. breakers may be nil.
func NewHTTPNotifier(pool *Pool, timeout time.Duration, breakers *EndpointBreakers, m *metrics.Registry) *HTTPNotifier {
	return &HTTPNotifier{
		client:   &http.Client{Timeout: timeout},
		pool:     pool,
		breakers: breakers,
		timeout:  timeout,
		metrics:  m,
	}
}

func (n *HTTPNotifier) Notify(endpoint string, count int64) {
	err := n.pool.Submit(func(ctx context.Context) {
		n.deliver(ctx, endpoint, count)
	})
	if err != nil {
		n.metrics.Notifications.WithLabelValues(metrics.OutcomeDropped).Inc()
		log.Warn().Err(ErrNotifyFailed.Wrap(err)).Str("endpoint", endpoint).Int64("unique_count", count).
			Msg("notification dropped")
	}
}

func (n *HTTPNotifier) deliver(ctx context.Context, endpoint string, count int64) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	start := time.Now()
	var status int
	send := func() error {
		var err error
		status, err = n.post(ctx, endpoint, count)
		return err
	}
	var err error
	if n.breakers != nil {
		err = n.breakers.For(endpoint).Call(send)
	} else {
		err = send()
	}

	if err != nil {
		outcome := metrics.OutcomeFailure
		if errors.Is(err, ErrCircuitBreakerOpen) {
			outcome = metrics.OutcomeSkipped
		}
		n.metrics.Notifications.WithLabelValues(outcome).Inc()
		log.Error().Err(ErrNotifyFailed.Wrap(err)).Str("endpoint", endpoint).Int64("unique_count", count).
			Dur("latency", time.Since(start)).Msg("failed to notify endpoint")
		return
	}
	n.metrics.Notifications.WithLabelValues(metrics.OutcomeSuccess).Inc()
	log.Info().Str("endpoint", endpoint).Int("status", status).Int64("unique_count", count).
		Dur("latency", time.Since(start)).Msg("endpoint notified")
}

// post sends one request and treats any non-2xx status as a failure.
func (n *HTTPNotifier) post(ctx context.Context, endpoint string, count int64) (int, error) {
	body, err := json.Marshal(notification{UniqueCount: count})
	if err != nil {
		return 0, fmt.Errorf("failed to encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
