package events

import (
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventStateChanged      EventType = "container.state_changed"
	EventContainerCreated  EventType = "container.created"
	EventContainerStopped  EventType = "container.stopped"
	EventContainerRemoved  EventType = "container.removed"
	EventContainerRestart  EventType = "container.restarted"
	EventNetworkAttached   EventType = "network.attached"
	EventNetworkDetached   EventType = "network.detached"
	EventLogTargetAssigned EventType = "logging.target_assigned"
)

// Event represents a daemon event
type Event struct {
	ID          string
	Type        EventType
	ContainerID string
	Timestamp   time.Time
	Message     string
	Change      *types.StateChangeEvent // Set for EventStateChanged
	Metadata    map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// PublishStateChange publishes a committed lifecycle transition
func (b *Broker) PublishStateChange(change types.StateChangeEvent) {
	b.Publish(&Event{
		Type:        EventStateChanged,
		ContainerID: change.ID,
		Timestamp:   change.At,
		Message:     string(change.OldState) + " -> " + string(change.NewState),
		Change:      &change,
	})
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
