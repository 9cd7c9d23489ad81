package service

import (
	"net/url"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half-open"
)

// maxTrackedEndpoints caps the breaker map; endpoints are caller-supplied.
const maxTrackedEndpoints = 10000

// CircuitBreaker stops calls to an endpoint after repeated failures until a
// cooldown has passed. It never retries on its own.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	probing          bool
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Call executes fn if the circuit allows it. While half-open only one probe
// runs at a time.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			cb.mu.Unlock()
			return ErrCircuitBreakerOpen
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
	}
	if cb.state == StateHalfOpen {
		if cb.probing {
			cb.mu.Unlock()
			return ErrCircuitBreakerOpen
		}
		cb.probing = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
	return err
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failureCount++
	cb.successCount = 0
	if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.failureCount = 0
	cb.successCount++
	if cb.state == StateHalfOpen && cb.successCount >= cb.successThreshold {
		cb.state = StateClosed
		cb.successCount = 0
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) stateSince() (CircuitState, time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.openedAt
}

// CircuitMetrics contains circuit breaker metrics
type CircuitMetrics struct {
	State        CircuitState `json:"state"`
	FailureCount int          `json:"failure_count"`
}

// GetMetrics returns circuit breaker metrics
func (cb *CircuitBreaker) GetMetrics() CircuitMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitMetrics{State: cb.state, FailureCount: cb.failureCount}
}

// EndpointBreakers keeps one breaker per callback host.
type EndpointBreakers struct {
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	limit     int
	failureTh int
	successTh int
	cooldown  time.Duration
}

// NewEndpointBreakers creates an empty set of breakers sharing thresholds.
func NewEndpointBreakers(failureThreshold, successThreshold int, cooldown time.Duration) *EndpointBreakers {
	return &EndpointBreakers{
		breakers:  make(map[string]*CircuitBreaker),
		limit:     maxTrackedEndpoints,
		failureTh: failureThreshold,
		successTh: successThreshold,
		cooldown:  cooldown,
	}
}

// For returns the breaker guarding endpoint's host, creating it on first use.
// When the map is full, closed breakers are dropped to make room; if every
// breaker is tripped, the one open longest goes.
func (eb *EndpointBreakers) For(endpoint string) *CircuitBreaker {
	key := breakerKey(endpoint)
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if cb, ok := eb.breakers[key]; ok {
		return cb
	}
	if len(eb.breakers) >= eb.limit {
		eb.evict()
	}
	cb := NewCircuitBreaker(eb.failureTh, eb.successTh, eb.cooldown)
	eb.breakers[key] = cb
	return cb
}

// evict drops closed breakers, or the oldest open one when none is closed.
// Caller holds eb.mu.
func (eb *EndpointBreakers) evict() {
	var oldestKey string
	var oldest time.Time
	for k, cb := range eb.breakers {
		state, openedAt := cb.stateSince()
		if state == StateClosed {
			delete(eb.breakers, k)
			continue
		}
		if oldestKey == "" || openedAt.Before(oldest) {
			oldestKey, oldest = k, openedAt
		}
	}
	if len(eb.breakers) >= eb.limit && oldestKey != "" {
		delete(eb.breakers, oldestKey)
	}
}

// Snapshot returns the state of every non-closed breaker.
func (eb *EndpointBreakers) Snapshot() map[string]CircuitMetrics {
	eb.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(eb.breakers))
	for k, v := range eb.breakers {
		breakers[k] = v
	}
	eb.mu.Unlock()

	out := make(map[string]CircuitMetrics)
	for k, cb := range breakers {
		if m := cb.GetMetrics(); m.State != StateClosed {
			out[k] = m
		}
	}
	return out
}

func breakerKey(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Scheme + "://" + u.Host
}

var ErrCircuitBreakerOpen = NewError(CodeCircuitOpen, "circuit breaker is open")
