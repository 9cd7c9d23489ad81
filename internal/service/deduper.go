package service

import (
	"context"
	"strconv"
	"time"

	"verve-counter/internal/repository"
)

// EventID identifies an inbound event. Uniqueness is decided by the store only.
type EventID int64

// WindowKey identifies a counting epoch.
type WindowKey uint64

// Scope is the store scope holding claims of this window.
func (w WindowKey) Scope() string {
	return "w:" + strconv.FormatUint(uint64(w), 10)
}

func (w WindowKey) String() string {
	return strconv.FormatUint(uint64(w), 10)
}

// publishScope holds the per-window publish leadership markers.
const publishScope = "publish"

// Deduper adapts a repository.Store to window-scoped claims. Every call is
// bounded by timeout and store failures are reported as ErrStoreUnavailable.
type Deduper struct {
	store   repository.Store
	ttl     time.Duration
	timeout time.Duration
}

// NewDeduper builds a Deduper. ttl is the dedup horizon of a claim, counted
// from its first success.
func NewDeduper(store repository.Store, ttl, timeout time.Duration) *Deduper {
	return &Deduper{store: store, ttl: ttl, timeout: timeout}
}

// Timeout bounds every store call made through d.
func (d *Deduper) Timeout() time.Duration {
	return d.timeout
}

// Claim reports whether id was claimed for the first time in window.
func (d *Deduper) Claim(ctx context.Context, window WindowKey, id EventID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ok, err := d.store.Claim(ctx, window.Scope(), strconv.FormatInt(int64(id), 10), d.ttl)
	if err != nil {
		return false, ErrStoreUnavailable.Wrap(err)
	}
	return ok, nil
}

// Count returns the running number of unique claims in window.
func (d *Deduper) Count(ctx context.Context, window WindowKey) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	n, err := d.store.Count(ctx, window.Scope())
	if err != nil {
		return 0, ErrStoreUnavailable.Wrap(err)
	}
	return n, nil
}

// Clear drops the counter of a closed window.
func (d *Deduper) Clear(ctx context.Context, window WindowKey) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.store.Clear(ctx, window.Scope()); err != nil {
		return ErrStoreUnavailable.Wrap(err)
	}
	return nil
}

// ClaimPublish elects the one instance that publishes window's count.
func (d *Deduper) ClaimPublish(ctx context.Context, window WindowKey) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ok, err := d.store.Claim(ctx, publishScope, window.String(), d.ttl)
	if err != nil {
		return false, ErrStoreUnavailable.Wrap(err)
	}
	return ok, nil
}

// Ping checks the store within the call timeout.
func (d *Deduper) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.store.Ping(ctx); err != nil {
		return ErrStoreUnavailable.Wrap(err)
	}
	return nil
}
