package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"verve-counter/internal/repository"
)

// recordingStore wraps a real store and records claim outcomes in call order.
type recordingStore struct {
	repository.Store
	mu     sync.Mutex
	claims []claimCall
}

type claimCall struct {
	scope, member string
	won           bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: repository.NewMemoryStore()}
}

func (s *recordingStore) Claim(ctx context.Context, scope, member string, ttl time.Duration) (bool, error) {
	ok, err := s.Store.Claim(ctx, scope, member, ttl)
	s.mu.Lock()
	s.claims = append(s.claims, claimCall{scope: scope, member: member, won: ok})
	s.mu.Unlock()
	return ok, err
}

func (s *recordingStore) calls() []claimCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]claimCall(nil), s.claims...)
}

var errStoreDown = errors.New("connection refused")

// downStore fails every call.
type downStore struct{}

func (downStore) Claim(context.Context, string, string, time.Duration) (bool, error) {
	return false, errStoreDown
}
func (downStore) Count(context.Context, string) (int64, error) { return 0, errStoreDown }
func (downStore) Clear(context.Context, string) error          { return errStoreDown }
func (downStore) Ping(context.Context) error                   { return errStoreDown }
func (downStore) Close() error                                 { return nil }

// blockingStore blocks claims until released.
type blockingStore struct {
	repository.Store
	release chan struct{}
	entered chan struct{}
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		Store:   repository.NewMemoryStore(),
		release: make(chan struct{}),
		entered: make(chan struct{}, 1024),
	}
}

func (s *blockingStore) Claim(ctx context.Context, scope, member string, ttl time.Duration) (bool, error) {
	s.entered <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return s.Store.Claim(ctx, scope, member, ttl)
}

// windowGateStore blocks claims on window scopes until released; publish
// leadership claims pass straight through.
type windowGateStore struct {
	repository.Store
	release chan struct{}
	entered chan struct{}
}

func newWindowGateStore() *windowGateStore {
	return &windowGateStore{
		Store:   repository.NewMemoryStore(),
		release: make(chan struct{}),
		entered: make(chan struct{}, 16),
	}
}

func (s *windowGateStore) Claim(ctx context.Context, scope, member string, ttl time.Duration) (bool, error) {
	if strings.HasPrefix(scope, "w:") {
		s.entered <- struct{}{}
		select {
		case <-s.release:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return s.Store.Claim(ctx, scope, member, ttl)
}

type fixedWindow WindowKey

func (w fixedWindow) Current() WindowKey { return WindowKey(w) }

type notifyCall struct {
	endpoint string
	count    int64
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *recordingNotifier) Notify(endpoint string, count int64) {
	n.mu.Lock()
	n.calls = append(n.calls, notifyCall{endpoint, count})
	n.mu.Unlock()
}

func (n *recordingNotifier) snapshot() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type publishCall struct {
	topic, message string
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
	panic bool
	block bool
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, message string) error {
	if p.panic {
		panic("sink exploded")
	}
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{topic, message})
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) snapshot() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.calls...)
}

func newTestPool(t *testing.T, workers, depth int) *Pool {
	t.Helper()
	p := NewPool("test", workers, depth)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}
