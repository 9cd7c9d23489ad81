package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"verve-counter/internal/metrics"
	"verve-counter/internal/publisher"
)

// Phase is the step of window rollover the aggregator is in.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSwapping
	PhaseSettling
	PhaseCounting
	PhasePublishing
	PhaseStopped
)

func (s Phase) String() string {
	switch s {
	case PhaseIdle:
		return "idle"
	case PhaseSwapping:
		return "swapping"
	case PhaseSettling:
		return "settling"
	case PhaseCounting:
		return "counting"
	case PhasePublishing:
		return "publishing"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WindowReport describes one closed window.
type WindowReport struct {
	Window    WindowKey `json:"window"`
	Count     int64     `json:"unique_count"`
	ClosedAt  time.Time `json:"closed_at"`
	Published bool      `json:"published"`
	Leader    bool      `json:"leader"`
	Error     string    `json:"error,omitempty"`
}

// AggregatorConfig holds the timing and routing of window rollover.
type AggregatorConfig struct {
	Period         time.Duration
	Topic          string
	PublishTimeout time.Duration
}

// Aggregator owns the current WindowKey. Its single timer goroutine is the
// only writer; readers use Current without locking.
//
// Windows are aligned to multiples of Period since the Unix epoch so that
// instances sharing a store agree on the key.
type Aggregator struct {
	cfg       AggregatorConfig
	dedup     *Deduper
	publisher publisher.Publisher
	metrics   *metrics.Registry
	now       func() time.Time

	current atomic.Uint64
	state   atomic.Int32
	last    atomic.Pointer[WindowReport]

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewAggregator creates an aggregator whose first window is the bucket
// containing the current time.
func NewAggregator(cfg AggregatorConfig, dedup *Deduper, pub publisher.Publisher, m *metrics.Registry) *Aggregator {
	a := &Aggregator{
		cfg:       cfg,
		dedup:     dedup,
		publisher: pub,
		metrics:   m,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	a.current.Store(uint64(a.bucket(a.now())))
	return a
}

func (a *Aggregator) bucket(t time.Time) WindowKey {
	return WindowKey(t.UnixNano() / int64(a.cfg.Period))
}

// untilBoundary returns the wait until the next multiple of Period.
func (a *Aggregator) untilBoundary(t time.Time) time.Duration {
	p := int64(a.cfg.Period)
	return time.Duration(p - t.UnixNano()%p)
}

// Current returns the window new claims belong to.
func (a *Aggregator) Current() WindowKey {
	return WindowKey(a.current.Load())
}

// Phase returns the rollover step in progress.
func (a *Aggregator) Phase() Phase {
	return Phase(a.state.Load())
}

// LastReport returns the most recently closed window, if any.
func (a *Aggregator) LastReport() (WindowReport, bool) {
	r := a.last.Load()
	if r == nil {
		return WindowReport{}, false
	}
	return *r, true
}

// Start launches the timer goroutine. It fires on every window boundary
// until ctx is cancelled or Stop is called.
func (a *Aggregator) Start(ctx context.Context) {
	log.Info().Dur("period", a.cfg.Period).Str("topic", a.cfg.Topic).
		Uint64("window", uint64(a.Current())).Msg("window aggregator started")

	go func() {
		defer close(a.doneCh)
		defer a.state.Store(int32(PhaseStopped))

		timer := time.NewTimer(a.untilBoundary(a.now()))
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				a.tick(ctx)
				timer.Reset(a.untilBoundary(a.now()))
			case <-ctx.Done():
				log.Info().Msg("window aggregator stopping (context cancelled)")
				return
			case <-a.stopCh:
				log.Info().Msg("window aggregator stopping (stop requested)")
				return
			}
		}
	}()
}

// Stop signals the timer goroutine and waits for it. Safe to call once
// Start has run.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.doneCh
}

// tick closes the current window once the clock has passed it. If the clock
// is behind the current key the window stays open until it catches up, so
// keys never run ahead of the wall-clock bucket other instances use.
func (a *Aggregator) tick(ctx context.Context) bool {
	now := a.now()
	if next, cur := a.bucket(now), a.Current(); next <= cur {
		log.Warn().Uint64("window", uint64(cur)).Uint64("clock_window", uint64(next)).
			Msg("clock behind current window, holding it open")
		return false
	}
	a.rollover(ctx)
	return true
}

// advance moves to the next window and returns the closed one. A forced
// rollover on a clock that has not moved steps to the following key.
func (a *Aggregator) advance(now time.Time) WindowKey {
	next := a.bucket(now)
	cur := a.Current()
	if next <= cur {
		next = cur + 1
	}
	return WindowKey(a.current.Swap(uint64(next)))
}

// settle waits out claims that read the closed key before the swap. Their
// deadline starts before the read, so one claim timeout is enough.
func (a *Aggregator) settle(ctx context.Context) {
	t := time.NewTimer(a.dedup.Timeout())
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-a.stopCh:
	}
}

// rollover closes the current window and publishes its count. Failures and
// panics are logged; the next tick always runs.
func (a *Aggregator) rollover(ctx context.Context) (rep WindowReport) {
	defer func() {
		if r := recover(); r != nil {
			rep.Error = fmt.Sprintf("panic: %v", r)
			a.metrics.WindowsPublished.WithLabelValues(metrics.OutcomeFailure).Inc()
			log.Error().Interface("panic", r).Uint64("window", uint64(rep.Window)).Msg("window rollover panicked")
		}
		a.last.Store(&rep)
		a.state.Store(int32(PhaseIdle))
	}()

	a.state.Store(int32(PhaseSwapping))
	now := a.now()
	closed := a.advance(now)
	rep = WindowReport{Window: closed, ClosedAt: now}

	a.state.Store(int32(PhaseSettling))
	a.settle(ctx)

	a.state.Store(int32(PhaseCounting))
	leader, err := a.dedup.ClaimPublish(ctx, closed)
	if err != nil {
		rep.Error = err.Error()
		a.metrics.WindowsPublished.WithLabelValues(metrics.OutcomeCountError).Inc()
		log.Error().Err(err).Uint64("window", uint64(closed)).Msg("failed to elect window publisher")
		return rep
	}
	if !leader {
		a.metrics.WindowsPublished.WithLabelValues(metrics.OutcomeNotLeader).Inc()
		log.Debug().Uint64("window", uint64(closed)).Msg("window published by another instance")
		return rep
	}
	rep.Leader = true

	count, err := a.dedup.Count(ctx, closed)
	if err != nil {
		rep.Error = err.Error()
		a.metrics.WindowsPublished.WithLabelValues(metrics.OutcomeCountError).Inc()
		log.Error().Err(err).Uint64("window", uint64(closed)).Msg("failed to count window")
		return rep
	}
	rep.Count = count
	a.metrics.LastUniqueCount.Set(float64(count))

	a.state.Store(int32(PhasePublishing))
	pctx, cancel := context.WithTimeout(ctx, a.cfg.PublishTimeout)
	err = a.publisher.Publish(pctx, a.cfg.Topic, strconv.FormatInt(count, 10))
	cancel()
	if err != nil {
		err = ErrPublishFailed.Wrap(err)
		rep.Error = err.Error()
		a.metrics.WindowsPublished.WithLabelValues(metrics.OutcomeFailure).Inc()
		log.Error().Err(err).Uint64("window", uint64(closed)).Int64("unique_count", count).
			Msg("failed to publish unique count")
	} else {
		rep.Published = true
		a.metrics.WindowsPublished.WithLabelValues(metrics.OutcomeSuccess).Inc()
		log.Info().Uint64("window", uint64(closed)).Int64("unique_count", count).Str("topic", a.cfg.Topic).
			Msg("window closed")
	}

	if err := a.dedup.Clear(ctx, closed); err != nil {
		log.Warn().Err(err).Uint64("window", uint64(closed)).Msg("failed to clear window counter")
	}
	return rep
}
