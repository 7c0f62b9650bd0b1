package clocks

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wippyai/wasihost/wasi/preview2"
)

// Deadline is the timer behind a clock subscription. A nil channel never
// fires.
type Deadline struct {
	fired <-chan struct{}
	stop  func() bool
}

// Past returns a deadline that is already reached.
func Past() *Deadline {
	return &Deadline{fired: preview2.ReadyNow()}
}

// Never returns a deadline that is never reached.
func Never() *Deadline {
	return &Deadline{}
}

// At returns a deadline reached when clk reaches t.
func At(clk clock.Clock, t time.Time) *Deadline {
	d := t.Sub(clk.Now())
	if d <= 0 {
		return Past()
	}
	return After(clk, d)
}

// After returns a deadline reached once d has elapsed on clk.
func After(clk clock.Clock, d time.Duration) *Deadline {
	if d <= 0 {
		return Past()
	}
	fired := make(chan struct{})
	timer := clk.AfterFunc(d, func() { close(fired) })
	return &Deadline{fired: fired, stop: timer.Stop}
}

// duration converts guest nanoseconds, reporting false when the value does
// not fit a time.Duration.
func duration(ns uint64) (time.Duration, bool) {
	if ns > math.MaxInt64 {
		return 0, false
	}
	return time.Duration(ns), true
}

func (d *Deadline) Type() preview2.ResourceType { return preview2.ResourceDeadline }

func (d *Deadline) Drop() {
	if d.stop != nil {
		d.stop()
	}
}

func (d *Deadline) Ready() <-chan struct{} { return d.fired }
