// Package clock provides the process-wide time source, id minting, and the
// loopback port allocator used for worker deployment.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the time source passed to components so tests can control time.
type Clock interface {
	Now() time.Time
}

// Real returns UTC wall-clock time.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a manually advanced clock for tests.
type Fake struct {
	Current time.Time
}

func NewFake(start time.Time) *Fake { return &Fake{Current: start.UTC()} }

func (f *Fake) Now() time.Time { return f.Current }

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) { f.Current = f.Current.Add(d) }

// NewID mints an RFC-4122 v4 UUID string.
func NewID() string { return uuid.NewString() }
