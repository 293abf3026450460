package httpclient

import (
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSet keeps one circuit breaker per target (agent id or host) so a
// failing downstream cannot burn retry budget for everyone else.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings gobreaker.Settings
}

// NewBreakerSet builds a set with a trip threshold of 5 consecutive failures
// and a 30 second open interval.
func NewBreakerSet() *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: gobreaker.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
}

// Do executes fn through the breaker for name. An open breaker returns
// gobreaker.ErrOpenState without invoking fn.
func (b *BreakerSet) Do(name string, fn func() (*http.Response, error)) (*http.Response, error) {
	cb := b.breaker(name)
	resp, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return resp.(*http.Response), nil
}

// IsOpen reports whether err came from an open or overloaded breaker.
func IsOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

func (b *BreakerSet) breaker(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[name]
	if !ok {
		settings := b.settings
		settings.Name = name
		cb = gobreaker.NewCircuitBreaker(settings)
		b.breakers[name] = cb
	}
	return cb
}

// Forget drops the breaker for name, resetting its state.
func (b *BreakerSet) Forget(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.breakers, name)
}
