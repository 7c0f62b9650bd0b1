package preview2

import (
	"context"
	"reflect"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wippyai/wasihost/errors"
)

// Subscriber is implemented by resources a pollable can wait on.
type Subscriber interface {
	// Ready returns a channel that is closed once the resource is ready for
	// the state observed at call time. Implementations return an already
	// closed channel when they are ready now.
	Ready() <-chan struct{}
}

var readyNow = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// ReadyNow returns an already closed channel.
func ReadyNow() <-chan struct{} {
	return readyNow
}

// signal hands out a channel that is closed on the next broadcast.
// Callers serialize access with their own mutex.
type signal struct {
	ch chan struct{}
}

func (s *signal) wait() <-chan struct{} {
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

func (s *signal) broadcast() {
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
}

// Pollable is a registration of interest in a source resource becoming
// ready, optionally bounded by a deadline. It is a child of its source, so
// the source outlives every pollable on it.
type Pollable struct {
	deadline     <-chan struct{}
	stop         func() bool
	source       uint32
	removeSource bool
}

func (p *Pollable) Type() ResourceType { return ResourcePollable }

func (p *Pollable) Drop() {
	if p.stop != nil {
		p.stop()
	}
}

// Source returns the handle of the resource being waited on.
func (p *Pollable) Source() uint32 { return p.source }

// RemoveSourceOnDrop reports whether the source was created only for this
// pollable and must be deleted with it.
func (p *Pollable) RemoveSourceOnDrop() bool { return p.removeSource }

// Channels returns the channels whose closing makes the pollable ready.
func (p *Pollable) Channels(t *ResourceTable) ([]<-chan struct{}, error) {
	src, err := GetAs[Subscriber](t, p.source)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePoll, errors.KindNotFound, err, "pollable source")
	}
	chans := []<-chan struct{}{src.Ready()}
	if p.deadline != nil {
		chans = append(chans, p.deadline)
	}
	return chans, nil
}

// IsReady reports without blocking whether the pollable is ready.
func (p *Pollable) IsReady(t *ResourceTable) (bool, error) {
	chans, err := p.Channels(t)
	if err != nil {
		return false, err
	}
	return anyClosed(chans), nil
}

// Block waits until the pollable is ready or ctx is done.
func (p *Pollable) Block(ctx context.Context, t *ResourceTable) error {
	chans, err := p.Channels(t)
	if err != nil {
		return err
	}
	_, err = WaitAny(ctx, chans)
	return err
}

// Subscribe creates a pollable on source. The source must implement
// Subscriber.
func Subscribe(t *ResourceTable, source uint32) (uint32, error) {
	return subscribe(t, &Pollable{source: source})
}

// SubscribeOwned creates a pollable that deletes source when it is dropped.
// Used for timers created only to be waited on.
func SubscribeOwned(t *ResourceTable, source uint32) (uint32, error) {
	return subscribe(t, &Pollable{source: source, removeSource: true})
}

// SubscribeUntil creates a pollable that is ready once source is ready or
// once clk reaches deadline, whichever comes first.
func SubscribeUntil(t *ResourceTable, source uint32, clk clock.Clock, deadline time.Time) (uint32, error) {
	p := &Pollable{source: source}
	if d := deadline.Sub(clk.Now()); d <= 0 {
		p.deadline = readyNow
	} else {
		fired := make(chan struct{})
		timer := clk.AfterFunc(d, func() { close(fired) })
		p.deadline = fired
		p.stop = timer.Stop
	}
	return subscribe(t, p)
}

func subscribe(t *ResourceTable, p *Pollable) (uint32, error) {
	if _, err := GetAs[Subscriber](t, p.source); err != nil {
		p.Drop()
		return 0, err
	}
	h, err := t.PushChild(p, p.source)
	if err != nil {
		p.Drop()
		return 0, err
	}
	return h, nil
}

// WaitAny blocks until at least one group has a closed channel, and returns
// the indices of every group that is ready at that point.
func WaitAny(ctx context.Context, groups ...[]<-chan struct{}) ([]int, error) {
	if ready := readyGroups(groups); len(ready) > 0 {
		return ready, nil
	}

	cases := make([]reflect.SelectCase, 0, len(groups)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for _, g := range groups {
		for _, ch := range g {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
		}
	}

	chosen, _, _ := reflect.Select(cases)
	if chosen == 0 {
		return nil, ctx.Err()
	}
	return readyGroups(groups), nil
}

func readyGroups(groups [][]<-chan struct{}) []int {
	var ready []int
	for i, g := range groups {
		if anyClosed(g) {
			ready = append(ready, i)
		}
	}
	return ready
}

func anyClosed(chans []<-chan struct{}) bool {
	for _, ch := range chans {
		select {
		case <-ch:
			return true
		default:
		}
	}
	return false
}
