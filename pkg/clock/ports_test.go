package clock

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortAllocatorAllocateRelease(t *testing.T) {
	p := NewPortAllocator(42100, 10)

	port, err := p.Allocate()
	require.NoError(t, err)
	assert.True(t, p.InRange(port))
	assert.Equal(t, 1, p.Allocated())

	second, err := p.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, port, second)

	p.Release(port)
	assert.Equal(t, 1, p.Allocated())

	// The released port becomes allocatable again.
	seen := map[int]bool{second: true}
	for i := 0; i < 9; i++ {
		got, err := p.Allocate()
		require.NoError(t, err)
		assert.False(t, seen[got], "port %d handed out twice", got)
		seen[got] = true
	}
}

func TestPortAllocatorExhaustion(t *testing.T) {
	p := NewPortAllocator(42200, 2)

	_, err := p.Allocate()
	require.NoError(t, err)
	_, err = p.Allocate()
	require.NoError(t, err)

	_, err = p.Allocate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
}

func TestPortAllocatorSkipsBoundPorts(t *testing.T) {
	base := 42300
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", base))
	require.NoError(t, err)
	defer ln.Close()

	p := NewPortAllocator(base, 3)
	port, err := p.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, base, port)
}

func TestPortAllocatorReleaseUnallocatedIsNoop(t *testing.T) {
	p := NewPortAllocator(42400, 4)
	p.Release(42401)
	assert.Equal(t, 0, p.Allocated())
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := NewFake(start)
	assert.Equal(t, start, clk.Now())

	clk.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clk.Now())
}

func TestNewIDUnique(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
