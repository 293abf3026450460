// Package metrics implements the time-windowed metric store: ring-buffered
// series keyed by (owner, name, label set), a latest-by-name index for fast
// current-value reads, and streaming of future samples. A Redis-backed
// variant and a Prometheus mirror share the Store interface.
package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// Filter selects samples by any subset of owner, name, labels, and window.
type Filter struct {
	OwnerID string
	Name    string
	Labels  map[string]string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Matches reports whether the sample satisfies every set predicate.
func (f Filter) Matches(s types.Sample) bool {
	if f.OwnerID != "" && s.OwnerID != f.OwnerID {
		return false
	}
	if f.Name != "" && s.Name != f.Name {
		return false
	}
	for k, v := range f.Labels {
		if s.Labels[k] != v {
			return false
		}
	}
	if !f.Since.IsZero() && s.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && s.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Store is the metric store contract. Reads observe all writes that
// completed before the read started; cross-node consistency is not provided.
type Store interface {
	Record(sample types.Sample)
	Query(filter Filter) []types.Sample
	Latest(ownerID, name string) (types.Sample, bool)
	Stream(ctx context.Context, filter Filter) <-chan types.Sample
}

// seriesKey canonicalizes (owner, name, labels) into a map key.
func seriesKey(ownerID, name string, labels map[string]string) string {
	if len(labels) == 0 {
		return ownerID + "\x00" + name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(ownerID)
	b.WriteString("\x00")
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("\x00")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// ring is a fixed-capacity sample buffer; oldest entries are evicted first.
type ring struct {
	samples []types.Sample
	head    int
	size    int
}

func newRing(capacity int) *ring {
	return &ring{samples: make([]types.Sample, capacity)}
}

func (r *ring) push(s types.Sample) {
	if len(r.samples) == 0 {
		return
	}
	idx := (r.head + r.size) % len(r.samples)
	if r.size == len(r.samples) {
		// Full: overwrite the oldest slot.
		r.samples[r.head] = s
		r.head = (r.head + 1) % len(r.samples)
		return
	}
	r.samples[idx] = s
	r.size++
}

// snapshot returns samples in insertion order, dropping entries older than horizon.
func (r *ring) snapshot(horizon time.Time) []types.Sample {
	out := make([]types.Sample, 0, r.size)
	for i := 0; i < r.size; i++ {
		s := r.samples[(r.head+i)%len(r.samples)]
		if !horizon.IsZero() && s.Timestamp.Before(horizon) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	mu          sync.RWMutex
	clk         clock.Clock
	maxSamples  int
	maxAge      time.Duration
	series      map[string]*ring
	latest      map[string]types.Sample // ownerID \x00 name -> newest sample
	subscribers map[int]*subscriber
	nextSubID   int
	hooks       []func(types.Sample)
}

type subscriber struct {
	filter Filter
	ch     chan types.Sample
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithMaxSamples bounds each series ring.
func WithMaxSamples(n int) Option {
	return func(s *MemoryStore) { s.maxSamples = n }
}

// WithMaxAge bounds sample retention.
func WithMaxAge(d time.Duration) Option {
	return func(s *MemoryStore) { s.maxAge = d }
}

// WithHook registers a callback invoked for every recorded sample.
// Hooks run synchronously under no lock and must not block.
func WithHook(hook func(types.Sample)) Option {
	return func(s *MemoryStore) { s.hooks = append(s.hooks, hook) }
}

// NewMemoryStore builds an in-process store.
func NewMemoryStore(clk clock.Clock, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		clk:         clk,
		maxSamples:  1000,
		maxAge:      24 * time.Hour,
		series:      make(map[string]*ring),
		latest:      make(map[string]types.Sample),
		subscribers: make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends a sample in O(1) and updates the latest-by-name index.
func (s *MemoryStore) Record(sample types.Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.clk.Now()
	}

	key := seriesKey(sample.OwnerID, sample.Name, sample.Labels)

	s.mu.Lock()
	r, ok := s.series[key]
	if !ok {
		r = newRing(s.maxSamples)
		s.series[key] = r
	}
	r.push(sample)

	latestKey := sample.OwnerID + "\x00" + sample.Name
	if prev, ok := s.latest[latestKey]; !ok || !sample.Timestamp.Before(prev.Timestamp) {
		s.latest[latestKey] = sample
	}

	var targets []chan types.Sample
	for _, sub := range s.subscribers {
		if sub.filter.Matches(sample) {
			targets = append(targets, sub.ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- sample:
		default: // slow consumer: drop rather than block the writer
		}
	}

	for _, hook := range s.hooks {
		hook(sample)
	}
}

// Query returns matching samples sorted by time, bounded by filter.Limit.
// An empty window yields an empty slice, never an error.
func (s *MemoryStore) Query(filter Filter) []types.Sample {
	horizon := time.Time{}
	if s.maxAge > 0 {
		horizon = s.clk.Now().Add(-s.maxAge)
	}

	s.mu.RLock()
	var out []types.Sample
	for _, r := range s.series {
		for _, sample := range r.snapshot(horizon) {
			if filter.Matches(sample) {
				out = append(out, sample)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	if out == nil {
		out = []types.Sample{}
	}
	return out
}

// Latest returns the newest sample recorded for (owner, name).
func (s *MemoryStore) Latest(ownerID, name string) (types.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.latest[ownerID+"\x00"+name]
	return sample, ok
}

// Stream returns a lazy sequence of future samples matching the filter.
// The channel is closed when ctx is cancelled.
func (s *MemoryStore) Stream(ctx context.Context, filter Filter) <-chan types.Sample {
	ch := make(chan types.Sample, 64)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = &subscriber{filter: filter, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
		close(ch)
	}()

	return ch
}
