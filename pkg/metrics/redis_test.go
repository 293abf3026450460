package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// Hooks must fire on every Record regardless of backend reachability, so the
// Prometheus mirror stays live under the Redis backend too. The unroutable
// address keeps the test independent of a running Redis.
func TestRedisStoreFiresHooks(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	var seen []types.Sample
	store := NewRedisStore("127.0.0.1:1", "", 0, clk, time.Hour,
		func(s types.Sample) { seen = append(seen, s) })
	defer store.Close()

	store.Record(types.Sample{OwnerID: "agent-1", Name: "cpu_percent", Value: 42})

	require.Len(t, seen, 1)
	assert.Equal(t, "cpu_percent", seen[0].Name)
	assert.Equal(t, 42.0, seen[0].Value)
	// Zero timestamps are filled before hooks run.
	assert.Equal(t, clk.Now(), seen[0].Timestamp)
}
