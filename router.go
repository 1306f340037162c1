package cwlogs

import (
	"sync"
	"sync/atomic"
)

// destination is one stream's queue. The *destination pointer is the send
// handle shared by every Sink writing to the stream; the receive side belongs
// to exactly one worker.
type destination struct {
	key    Destination
	events chan Event

	// done is closed when the worker stops reading; a destination with a
	// closed done is stale and gets replaced on the next resolve
	done      chan struct{}
	closeOnce sync.Once

	// backlog holds, in order, events written while the queue was full; one
	// feeder goroutine at a time moves them into the queue
	mu         sync.Mutex
	backlog    []Event
	feeding    bool
	maxBacklog int
	feeders    *sync.WaitGroup

	dropped atomic.Uint64
}

func newDestination(key Destination, queueDepth, maxBacklog int, feeders *sync.WaitGroup) *destination {
	return &destination{
		key:        key,
		events:     make(chan Event, queueDepth),
		done:       make(chan struct{}),
		maxBacklog: maxBacklog,
		feeders:    feeders,
	}
}

func (d *destination) closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

func (d *destination) close() {
	d.closeOnce.Do(func() { close(d.done) })
}

// retire closes d if nothing is queued and no feeder is running, and reports
// whether it did. Once it returns true no event can enter d.events, so the
// worker has nothing left to drain.
func (d *destination) retire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.feeding || len(d.events) > 0 {
		return false
	}
	d.close()
	return true
}

type sendResult int

const (
	sendQueued sendResult = iota
	sendDropped
	sendClosed
)

// send hands ev to the worker without blocking the caller. When the queue is
// full, or earlier events are still waiting in the backlog, ev joins the
// backlog so it cannot overtake them. It returns sendDropped if the backlog
// is full, and sendClosed if the worker has retired, in which case the caller
// resolves the destination again.
func (d *destination) send(ev Event) sendResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed() {
		return sendClosed
	}

	if len(d.backlog) == 0 {
		select {
		case d.events <- ev:
			return sendQueued
		default:
		}
	}

	if len(d.backlog) >= d.maxBacklog {
		d.dropped.Add(1)
		return sendDropped
	}

	d.backlog = append(d.backlog, ev)
	if !d.feeding {
		d.feeding = true
		d.feeders.Add(1)
		go d.feed()
	}
	return sendQueued
}

// feed moves the backlog into the queue, blocking on the queue instead of on
// the writer. The head event stays in the backlog until the queue takes it.
func (d *destination) feed() {
	defer d.feeders.Done()

	for {
		d.mu.Lock()
		if len(d.backlog) == 0 {
			d.backlog = nil
			d.feeding = false
			d.mu.Unlock()
			return
		}
		ev := d.backlog[0]
		d.mu.Unlock()

		select {
		case d.events <- ev:
		case <-d.done:
			d.mu.Lock()
			n := len(d.backlog)
			d.backlog = nil
			d.feeding = false
			d.mu.Unlock()
			d.dropped.Add(uint64(n))
			return
		}

		d.mu.Lock()
		d.backlog[0] = Event{}
		d.backlog = d.backlog[1:]
		d.mu.Unlock()
	}
}

// router maps destinations to their queues, spawning a worker for each new or
// stale destination.
type router struct {
	mu    sync.RWMutex
	table map[Destination]*destination
	spawn func(Destination) *destination
}

func newRouter(spawn func(Destination) *destination) *router {
	return &router{
		table: make(map[Destination]*destination),
		spawn: spawn,
	}
}

// resolve returns the live queue for key, creating it (and its worker) if
// there is none or the existing one's worker has exited.
func (r *router) resolve(key Destination) *destination {
	r.mu.RLock()
	d, ok := r.table[key]
	r.mu.RUnlock()
	if ok && !d.closed() {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// another resolver may have replaced it while we waited for the lock
	if d, ok := r.table[key]; ok && !d.closed() {
		return d
	}

	d = r.spawn(key)
	r.table[key] = d
	return d
}

// release removes d from the table, unless it has already been replaced.
func (r *router) release(d *destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.table[d.key] == d {
		delete(r.table, d.key)
	}
}

// len returns the number of destinations in the table.
func (r *router) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}
