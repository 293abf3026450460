// Package notify delivers raised alerts to pluggable sinks (webhook, email,
// chat) with bounded retries. Sinks are invoked in isolation so one sink's
// failure cannot affect another; final failures surface as the
// notification_failure_count metric.
package notify

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// Sink delivers one alert to one destination.
type Sink interface {
	Kind() string
	Deliver(ctx context.Context, alert types.Alert, rule types.AlertRule, cfg types.SinkConfig) error
}

// Notifier fans alerts out to the sinks named in the rule's actions.
type Notifier struct {
	mu          sync.RWMutex
	sinks       map[string]Sink
	store       metrics.Store
	retryMax    int
	backoffBase time.Duration
}

// New builds a notifier with the given retry policy.
func New(store metrics.Store, retryMax int, backoffBase time.Duration) *Notifier {
	if retryMax < 0 {
		retryMax = 0
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &Notifier{
		sinks:       make(map[string]Sink),
		store:       store,
		retryMax:    retryMax,
		backoffBase: backoffBase,
	}
}

// RegisterSink adds a sink variant, replacing any previous one of that kind.
func (n *Notifier) RegisterSink(sink Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks[sink.Kind()] = sink
}

// Notify delivers the alert to every action sink. Blocks until all sinks
// finish or give up; callers wanting fire-and-forget run it in a goroutine.
func (n *Notifier) Notify(ctx context.Context, alert types.Alert, rule types.AlertRule) {
	var wg sync.WaitGroup
	for _, action := range rule.Actions {
		n.mu.RLock()
		sink, ok := n.sinks[action.Kind]
		n.mu.RUnlock()
		if !ok {
			logger.GetLogger().Warn("unknown notification sink", "kind", action.Kind, "rule", rule.Name)
			continue
		}

		wg.Add(1)
		go func(sink Sink, cfg types.SinkConfig) {
			defer wg.Done()
			n.deliverWithRetry(ctx, sink, alert, rule, cfg)
		}(sink, action)
	}
	wg.Wait()
}

func (n *Notifier) deliverWithRetry(ctx context.Context, sink Sink, alert types.Alert, rule types.AlertRule, cfg types.SinkConfig) {
	var err error
	for attempt := 0; attempt <= n.retryMax; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * n.backoffBase
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			select {
			case <-ctx.Done():
				err = ctx.Err()
				attempt = n.retryMax // stop retrying
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			break
		}

		err = sink.Deliver(ctx, alert, rule, cfg)
		if err == nil {
			return
		}
		logger.GetLogger().Warn("notification delivery failed",
			"sink", sink.Kind(), "rule", rule.Name, "attempt", attempt+1, "error", err)
	}

	n.store.Record(types.Sample{
		OwnerID: types.SystemOwner,
		Name:    "notification_failure_count",
		Value:   1,
		Labels:  map[string]string{"sink": sink.Kind(), "rule": rule.Name},
	})
}
