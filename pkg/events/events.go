package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventTaskCreated      EventType = "task.created"
	EventTaskStatus       EventType = "task.status"
	EventTaskProgress     EventType = "task.progress"
	EventTaskFailed       EventType = "task.failed"
	EventTaskCompleted    EventType = "task.completed"
	EventTaskRolledBack   EventType = "task.rolled_back"
	EventTaskDeleted      EventType = "task.deleted"
	EventAssetCreated     EventType = "asset.created"
	EventAssetUpdated     EventType = "asset.updated"
	EventAssetDeleted     EventType = "asset.deleted"
	EventAssetVerified    EventType = "asset.verified"
	EventCounterCorrected EventType = "asset.counter_corrected"
)

// Event is a task or asset lifecycle notification
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	TaskID    int64             `json:"task_id,omitempty"`
	AssetID   int64             `json:"asset_id,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Publisher is implemented by Broker; components depend on it so a nil
// publisher can be swapped for Discard in tests.
type Publisher interface {
	Publish(event *Event)
}

type discard struct{}

func (discard) Publish(*Event) {}

// Discard drops every event
var Discard Publisher = discard{}

// Broker fans events out to subscribers. Slow consumers lose events rather
// than stall the publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
	queue       chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	dropped     atomic.Uint64
}

// NewBroker creates a broker; call Start to begin delivery
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]struct{}),
		queue:       make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start runs the delivery loop in the background
func (b *Broker) Start() {
	go b.run()
}

// Stop ends delivery. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new subscriber with a 50-event buffer
func (b *Broker) Subscribe() Subscriber {
	sub := make(Subscriber, 50)
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes sub
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for delivery. It never blocks the caller: task
// transitions happen inside storage transactions, so a full queue drops the event.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.queue <- event:
	case <-b.stopCh:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were skipped because the queue or a
// subscriber buffer was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
		}
	}
}
