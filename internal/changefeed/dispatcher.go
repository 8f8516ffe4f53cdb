package changefeed

import (
	"context"
	"sync"
	"time"
)

// Operation names the kind of write that produced an event.
type Operation string

const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
)

// Event signals that a collection changed. RecordIDs are hints; subscribers reload rather than merge.
type Event struct {
	Collection string    `json:"collection"`
	Operation  Operation `json:"operation"`
	RecordIDs  []string  `json:"recordIds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Dispatcher fans events out to subscribers keyed by collection name.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	topics []string
	stream chan Event
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the given collections. The stream stays open; the
// subscription is removed when ctx is done or cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, topics ...string) (<-chan Event, func()) {
	if len(topics) == 0 {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		topics: append([]string(nil), topics...),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(sub) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every subscriber of its collection without blocking.
// A subscriber whose buffer is full misses the event.
func (d *Dispatcher) Publish(event Event) {
	if event.Collection == "" || event.Operation == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.Collection]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, topic := range sub.topics {
		if _, ok := d.subscribers[topic]; !ok {
			d.subscribers[topic] = make(map[int64]*subscriber)
		}
		d.subscribers[topic][sub.id] = sub
	}
}

func (d *Dispatcher) unregister(sub *subscriber) {
	d.mu.Lock()
	for _, topic := range sub.topics {
		subscribers := d.subscribers[topic]
		if subscribers != nil {
			delete(subscribers, sub.id)
			if len(subscribers) == 0 {
				delete(d.subscribers, topic)
			}
		}
	}
	d.mu.Unlock()
}

// Triggers adapts an event stream into content-free reload triggers.
func Triggers(ctx context.Context, events <-chan Event) <-chan struct{} {
	triggers := make(chan struct{}, 1)
	go func() {
		defer close(triggers)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				select {
				case triggers <- struct{}{}:
				default:
				}
			}
		}
	}()
	return triggers
}
