package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"verve-counter/internal/metrics"
	"verve-counter/internal/repository"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	store      *recordingStore
	notifier   *recordingNotifier
	metrics    *metrics.Registry
	dedup      *Deduper
}

func newDispatcherFixture(t *testing.T, window WindowKey) *dispatcherFixture {
	t.Helper()
	store := newRecordingStore()
	notifier := &recordingNotifier{}
	m := metrics.NewRegistry()
	dedup := NewDeduper(store, 2*time.Minute, time.Second)
	pool := newTestPool(t, 8, 256)
	return &dispatcherFixture{
		dispatcher: NewDispatcher(pool, dedup, fixedWindow(window), notifier, m),
		store:      store,
		notifier:   notifier,
		metrics:    m,
		dedup:      dedup,
	}
}

func TestAcceptWithoutEndpoint(t *testing.T) {
	f := newDispatcherFixture(t, 1)

	res := waitResult(t, f.dispatcher.Accept("1234", ""))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Status != StatusOK || !res.Claimed {
		t.Fatalf("expected ok and claimed, got %+v", res)
	}
	if calls := f.notifier.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no notification, got %v", calls)
	}
}

func TestAcceptWithEndpointNotifiesOnFirstClaim(t *testing.T) {
	f := newDispatcherFixture(t, 1)
	endpoint := "http://example.test/hook"

	// Two other ids first so the running total is observable.
	waitResult(t, f.dispatcher.Accept("1", ""))
	waitResult(t, f.dispatcher.Accept("2", ""))

	res := waitResult(t, f.dispatcher.Accept("5678", endpoint))
	if res.Err != nil || res.Status != StatusOK {
		t.Fatalf("expected ok, got %+v", res)
	}

	calls := f.notifier.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one notification, got %v", calls)
	}
	if calls[0].endpoint != endpoint || calls[0].count != 3 {
		t.Fatalf("expected notify(%s, 3), got %+v", endpoint, calls[0])
	}
}

func TestAcceptDuplicateIsOkWithoutNotification(t *testing.T) {
	f := newDispatcherFixture(t, 1)
	endpoint := "http://example.test/hook"

	waitResult(t, f.dispatcher.Accept("5678", endpoint))
	res := waitResult(t, f.dispatcher.Accept("5678", endpoint))
	if res.Err != nil || res.Status != StatusOK {
		t.Fatalf("expected ok for duplicate, got %+v", res)
	}
	if res.Claimed {
		t.Fatal("duplicate must not be reported as claimed")
	}

	calls := f.store.calls()
	if len(calls) != 2 || !calls[0].won || calls[1].won {
		t.Fatalf("expected claim true then false, got %+v", calls)
	}
	if n := len(f.notifier.snapshot()); n != 1 {
		t.Fatalf("expected only the first claim to notify, got %d", n)
	}
	if got := testutil.ToFloat64(f.metrics.Duplicates); got != 1 {
		t.Fatalf("expected 1 duplicate, got %v", got)
	}
}

func TestAcceptConcurrentSameIDClaimsOnce(t *testing.T) {
	f := newDispatcherFixture(t, 1)

	N := 100
	results := make([]Result, N)
	var wg sync.WaitGroup
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = <-f.dispatcher.Accept("42", "http://example.test/hook")
		}(i)
	}
	wg.Wait()

	claimed := 0
	for _, r := range results {
		if r.Err != nil || r.Status != StatusOK {
			t.Fatalf("expected every request ok, got %+v", r)
		}
		if r.Claimed {
			claimed++
		}
	}
	if claimed != 1 {
		t.Fatalf("expected exactly one claim, got %d", claimed)
	}

	won := 0
	for _, c := range f.store.calls() {
		if c.won {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("store recorded %d winning claims", won)
	}
	if n := len(f.notifier.snapshot()); n != 1 {
		t.Fatalf("expected one notification, got %d", n)
	}
}

func TestAcceptRejectsBadInput(t *testing.T) {
	f := newDispatcherFixture(t, 1)

	cases := []struct{ id, endpoint string }{
		{"", ""},
		{"abc", ""},
		{"12.5", ""},
		{"99999999999999999999", ""},
		{"1", "not a url"},
		{"1", "ftp://example.test/file"},
		{"1", "/relative/path"},
	}
	for _, c := range cases {
		res := waitResult(t, f.dispatcher.Accept(c.id, c.endpoint))
		if !errors.Is(res.Err, ErrBadInput) {
			t.Errorf("Accept(%q, %q): expected ErrBadInput, got %v", c.id, c.endpoint, res.Err)
		}
	}
	if calls := f.store.calls(); len(calls) != 0 {
		t.Fatalf("bad input must not touch the store, got %v", calls)
	}
	if got := testutil.ToFloat64(f.metrics.Rejected.WithLabelValues(metrics.ReasonBadInput)); got != float64(len(cases)) {
		t.Fatalf("expected %d bad_input rejections, got %v", len(cases), got)
	}
}

func TestAcceptStoreUnavailable(t *testing.T) {
	m := metrics.NewRegistry()
	dedup := NewDeduper(downStore{}, time.Minute, time.Second)
	d := NewDispatcher(newTestPool(t, 2, 8), dedup, fixedWindow(1), &recordingNotifier{}, m)

	res := waitResult(t, d.Accept("7", ""))
	if !errors.Is(res.Err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", res.Err)
	}
	if !errors.Is(res.Err, errStoreDown) {
		t.Fatalf("expected cause to be preserved, got %v", res.Err)
	}
}

func TestAcceptClaimTimeout(t *testing.T) {
	store := newBlockingStore()
	defer close(store.release)
	dedup := NewDeduper(store, time.Minute, 20*time.Millisecond)
	d := NewDispatcher(newTestPool(t, 1, 1), dedup, fixedWindow(1), &recordingNotifier{}, metrics.NewRegistry())

	res := waitResult(t, d.Accept("7", ""))
	if !errors.Is(res.Err, ErrStoreUnavailable) {
		t.Fatalf("expected timed-out claim to fail, got %v", res.Err)
	}
}

func TestAcceptSaturated(t *testing.T) {
	workers, depth := 2, 3
	store := newBlockingStore()
	m := metrics.NewRegistry()
	dedup := NewDeduper(store, time.Minute, 5*time.Second)
	d := NewDispatcher(newTestPool(t, workers, depth), dedup, fixedWindow(1), &recordingNotifier{}, m)

	var pending []<-chan Result
	for i := 0; i < workers; i++ {
		pending = append(pending, d.Accept(strconv.Itoa(i), ""))
	}
	for i := 0; i < workers; i++ {
		<-store.entered
	}
	for i := 0; i < depth; i++ {
		pending = append(pending, d.Accept(strconv.Itoa(100+i), ""))
	}

	excess := 4
	for i := 0; i < excess; i++ {
		res := waitResult(t, d.Accept(strconv.Itoa(200+i), ""))
		if !errors.Is(res.Err, ErrSaturated) {
			t.Fatalf("expected ErrSaturated for excess request, got %v", res.Err)
		}
	}

	close(store.release)
	for _, ch := range pending {
		if res := waitResult(t, ch); res.Err != nil {
			t.Fatalf("admitted request failed: %v", res.Err)
		}
	}
	if got := testutil.ToFloat64(m.Rejected.WithLabelValues(metrics.ReasonSaturated)); got != float64(excess) {
		t.Fatalf("expected %d saturated rejections, got %v", excess, got)
	}
}

func TestDeduperScopesByWindow(t *testing.T) {
	dedup := NewDeduper(repository.NewMemoryStore(), time.Minute, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if ok, _ := dedup.Claim(ctx, 1, 5678); !ok {
		t.Fatal("first claim in window 1 should succeed")
	}
	if ok, _ := dedup.Claim(ctx, 1, 5678); ok {
		t.Fatal("repeat in window 1 should be a duplicate")
	}
	if ok, _ := dedup.Claim(ctx, 2, 5678); !ok {
		t.Fatal("same id in window 2 should succeed")
	}
	n, err := dedup.Count(ctx, 1)
	if err != nil || n != 1 {
		t.Fatalf("expected count 1 for window 1, got %d, %v", n, err)
	}
}

func TestAcceptSkipsClaimWhenRequestGoneWhileQueued(t *testing.T) {
	store := newBlockingStore()
	m := metrics.NewRegistry()
	dedup := NewDeduper(store, time.Minute, 5*time.Second)
	d := NewDispatcher(newTestPool(t, 1, 4), dedup, fixedWindow(1), &recordingNotifier{}, m)

	first := d.Accept("1", "")
	<-store.entered

	ctx, cancel := context.WithCancel(context.Background())
	queued := d.AcceptContext(ctx, "2", "")
	cancel()
	close(store.release)

	if res := waitResult(t, first); res.Err != nil {
		t.Fatalf("first request failed: %v", res.Err)
	}
	res := waitResult(t, queued)
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected cancelled result, got %+v", res)
	}
	if got := testutil.ToFloat64(m.Rejected.WithLabelValues(metrics.ReasonCancelled)); got != 1 {
		t.Fatalf("expected 1 cancelled rejection, got %v", got)
	}

	ok, err := dedup.Claim(context.Background(), 1, 2)
	if err != nil || !ok {
		t.Fatalf("id 2 must still be unclaimed, got %v, %v", ok, err)
	}
}
