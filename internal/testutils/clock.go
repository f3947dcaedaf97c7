// Package testutils provides the simulated clock the timing-sensitive
// tests drive instead of sleeping.
package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/jzx17/flowpipe/pkg/types"
)

// SimClock adapts a quartz mock clock to types.Clock so retry delays,
// submit timeouts, and stage timing can be advanced deterministically.
type SimClock struct {
	mock *quartz.Mock
}

var _ types.Clock = (*SimClock)(nil)

// NewSimClock returns a simulated clock pinned to the quartz epoch.
func NewSimClock(t testing.TB) *SimClock {
	return &SimClock{mock: quartz.NewMock(t)}
}

// Mock exposes the underlying quartz mock for trap-based coordination.
func (c *SimClock) Mock() *quartz.Mock { return c.mock }

// Advance moves simulated time forward and waits until every listener
// woken by the move has been serviced.
func (c *SimClock) Advance(d time.Duration) {
	c.mock.Advance(d).MustWait(context.Background())
}

func (c *SimClock) Now() time.Time                  { return c.mock.Now() }
func (c *SimClock) Since(t time.Time) time.Duration { return c.mock.Since(t) }

func (c *SimClock) After(d time.Duration) <-chan time.Time {
	return c.mock.NewTimer(d).C
}

func (c *SimClock) Sleep(d time.Duration) {
	timer := c.mock.NewTimer(d)
	<-timer.C
}

func (c *SimClock) NewTimer(d time.Duration) types.Timer {
	return &simTimer{timer: c.mock.NewTimer(d)}
}

type simTimer struct {
	timer *quartz.Timer
}

func (t *simTimer) C() <-chan time.Time        { return t.timer.C }
func (t *simTimer) Stop() bool                 { return t.timer.Stop() }
func (t *simTimer) Reset(d time.Duration) bool { return t.timer.Reset(d) }
