package session

import (
	"context"
	"sync"
)

type EventType string

const (
	EventState       EventType = "state"
	EventTextDelta   EventType = "text_delta"
	EventMessage     EventType = "message"
	EventComplete    EventType = "complete"
	EventInterrupted EventType = "interrupted"
	EventError       EventType = "error"
)

// Event is one coordinator output. Fields are set according to Type.
type Event struct {
	Type    EventType
	State   State
	Prev    State
	Text    string
	Message Message
	Turn    uint64
	Err     error
	Kind    ErrorKind
}

type subscriber struct {
	ch  chan Event
	ctx context.Context
}

// dispatcher delivers events to every subscriber in emit order. emit never
// blocks, so it is safe to call with the coordinator lock held.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	subs   map[*subscriber]struct{}
	dirty  bool
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		subs: make(map[*subscriber]struct{}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) emit(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, e)
	d.cond.Signal()
}

func (d *dispatcher) subscribe(ctx context.Context) <-chan Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &subscriber{ch: make(chan Event, 32), ctx: ctx}
	if d.closed {
		close(s.ch)
		return s.ch
	}
	d.subs[s] = struct{}{}
	go func() {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.dirty = true
			d.cond.Signal()
			d.mu.Unlock()
		case <-d.stop:
		}
	}()
	return s.ch
}

// close delivers what is queued to subscribers with room, then closes every
// subscriber channel.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.stop)
		d.cond.Signal()
	}
	d.mu.Unlock()
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed && !d.dirty {
			d.cond.Wait()
		}
		d.reapLocked()
		if len(d.queue) == 0 {
			if d.closed {
				for s := range d.subs {
					close(s.ch)
					delete(d.subs, s)
				}
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			continue
		}
		e := d.queue[0]
		d.queue = d.queue[1:]
		subs := make([]*subscriber, 0, len(d.subs))
		for s := range d.subs {
			subs = append(subs, s)
		}
		d.mu.Unlock()

		for _, s := range subs {
			d.deliver(s, e)
		}
	}
}

// deliver blocks on a full subscriber until it reads, cancels, or the
// dispatcher is closed.
func (d *dispatcher) deliver(s *subscriber, e Event) {
	select {
	case s.ch <- e:
		return
	default:
	}
	select {
	case s.ch <- e:
	case <-s.ctx.Done():
	case <-d.stop:
	}
}

func (d *dispatcher) reapLocked() {
	if !d.dirty {
		return
	}
	d.dirty = false
	for s := range d.subs {
		if s.ctx.Err() != nil {
			close(s.ch)
			delete(d.subs, s)
		}
	}
}
