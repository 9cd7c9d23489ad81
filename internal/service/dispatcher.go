package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"verve-counter/internal/metrics"
)

// Status is the outcome reported to the caller of an accepted request.
type Status string

const StatusOK Status = "ok"

// Result is delivered exactly once per Accept. Err is nil when Status is set.
type Result struct {
	Status  Status
	Claimed bool
	Err     error
}

// WindowSource reports the window new claims belong to.
type WindowSource interface {
	Current() WindowKey
}

// Dispatcher is the accept path: it validates, hands the claim to the worker
// pool and returns without waiting on the store or the notifier.
type Dispatcher struct {
	pool     *Pool
	dedup    *Deduper
	windows  WindowSource
	notifier Notifier
	metrics  *metrics.Registry
}

func NewDispatcher(pool *Pool, dedup *Deduper, windows WindowSource, notifier Notifier, m *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		pool:     pool,
		dedup:    dedup,
		windows:  windows,
		notifier: notifier,
		metrics:  m,
	}
}

// ParseEventID parses a base-10 id. An empty or malformed id is ErrBadInput.
func ParseEventID(raw string) (EventID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrBadInput.Wrap(errors.New("missing required 'id' parameter"))
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrBadInput.Wrap(fmt.Errorf("'id' must be an integer: %w", err))
	}
	return EventID(n), nil
}

// ValidateEndpoint accepts absolute http and https URLs only.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrBadInput.Wrap(fmt.Errorf("invalid 'endpoint': %w", err))
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrBadInput.Wrap(errors.New("'endpoint' must be an absolute http(s) URL"))
	}
	return nil
}

// Accept is AcceptContext with a background context.
func (d *Dispatcher) Accept(rawID, endpoint string) <-chan Result {
	return d.AcceptContext(context.Background(), rawID, endpoint)
}

// AcceptContext schedules the claim for rawID and returns a channel that
// receives the Result. Validation and admission failures resolve the channel
// immediately. If ctx is done before a worker picks the task up, the id is not
// claimed.
func (d *Dispatcher) AcceptContext(ctx context.Context, rawID, endpoint string) <-chan Result {
	out := make(chan Result, 1)
	d.metrics.Requests.Inc()

	id, err := ParseEventID(rawID)
	if err == nil && endpoint != "" {
		err = ValidateEndpoint(endpoint)
	}
	if err != nil {
		d.metrics.Rejected.WithLabelValues(metrics.ReasonBadInput).Inc()
		out <- Result{Err: err}
		return out
	}

	err = d.pool.Submit(func(taskCtx context.Context) {
		if err := ctx.Err(); err != nil {
			d.metrics.Rejected.WithLabelValues(metrics.ReasonCancelled).Inc()
			log.Debug().Err(err).Int64("id", int64(id)).Msg("request gone before claim, skipping")
			out <- Result{Err: err}
			return
		}
		out <- d.process(taskCtx, id, endpoint)
	})
	if err != nil {
		d.metrics.Rejected.WithLabelValues(metrics.ReasonSaturated).Inc()
		log.Warn().Err(err).Int64("id", int64(id)).Int("queue_depth", d.pool.QueueDepth()).Msg("request rejected")
		out <- Result{Err: err}
	}
	return out
}

// process runs on a pool worker.
func (d *Dispatcher) process(ctx context.Context, id EventID, endpoint string) Result {
	window, claimed, err := d.claim(ctx, id)
	if err != nil {
		d.metrics.Rejected.WithLabelValues(metrics.ReasonStore).Inc()
		log.Error().Err(err).Int64("id", int64(id)).Uint64("window", uint64(window)).Msg("claim failed")
		return Result{Err: err}
	}
	if !claimed {
		d.metrics.Duplicates.Inc()
		return Result{Status: StatusOK}
	}
	d.metrics.UniqueClaims.Inc()

	if endpoint != "" {
		count, err := d.dedup.Count(ctx, window)
		if err != nil {
			d.metrics.Notifications.WithLabelValues(metrics.OutcomeDropped).Inc()
			log.Warn().Err(ErrNotifyFailed.Wrap(err)).Str("endpoint", endpoint).Msg("notification skipped")
		} else {
			d.notifier.Notify(endpoint, count)
		}
	}
	return Result{Status: StatusOK, Claimed: true}
}

// claim starts the claim deadline before reading the window, so no claim for
// a window can still be running once Timeout has passed since it closed.
func (d *Dispatcher) claim(ctx context.Context, id EventID) (WindowKey, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.dedup.Timeout())
	defer cancel()
	window := d.windows.Current()
	claimed, err := d.dedup.Claim(ctx, window, id)
	return window, claimed, err
}
