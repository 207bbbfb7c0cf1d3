package orchestrator

import (
	"context"
	"log"
	"sync"

	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// event pairs a pushed snapshot with the topic that changed.
type event struct {
	topic    interfaces.Topic
	snapshot *types.Session
}

// Dispatcher fans store pushes out to registered observers, one channel
// loop for all four event categories. Multiple listeners may register per
// category; registration replaces the original single overridable hooks.
type Dispatcher struct {
	events   chan event
	shutdown chan struct{}

	mu        sync.RWMutex
	observers map[interfaces.Topic]map[int]func(*types.Session)
	nextID    int
	running   bool
}

// NewDispatcher creates a dispatcher. The event buffer absorbs bursts of
// store pushes without blocking the store's fan-out path.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		events:    make(chan event, 256),
		shutdown:  make(chan struct{}),
		observers: make(map[interfaces.Topic]map[int]func(*types.Session)),
	}
}

// Start begins dispatch processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrDispatcherRunning
	}
	d.running = true
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop halts dispatch processing. Pending events are dropped; every push
// is a full snapshot, so observers lose nothing they cannot re-read.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false

	select {
	case <-d.shutdown:
	default:
		close(d.shutdown)
	}
}

// Register adds an observer for one event category and returns its handle.
func (d *Dispatcher) Register(topic interfaces.Topic, fn func(*types.Session)) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.observers[topic] == nil {
		d.observers[topic] = make(map[int]func(*types.Session))
	}
	d.nextID++
	d.observers[topic][d.nextID] = fn
	return d.nextID
}

// Remove drops an observer by handle. Idempotent.
func (d *Dispatcher) Remove(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, topicObs := range d.observers {
		delete(topicObs, id)
	}
}

// Publish queues a snapshot for observer delivery. Non-blocking: if the
// buffer is full the event is dropped and logged, since a later push
// supersedes it anyway.
func (d *Dispatcher) Publish(topic interfaces.Topic, snapshot *types.Session) {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if !running {
		return
	}

	select {
	case d.events <- event{topic: topic, snapshot: snapshot}:
	default:
		log.Printf("Dispatcher buffer full, dropping %s event for session %s",
			topic, snapshot.ID)
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		case <-d.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ev event) {
	d.mu.RLock()
	listeners := make([]func(*types.Session), 0, len(d.observers[ev.topic]))
	for _, fn := range d.observers[ev.topic] {
		listeners = append(listeners, fn)
	}
	d.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev.snapshot)
	}
}
