package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/marginalia/internal/versioning"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeBufferSize     = 16
)

// RealtimeDispatcher fans versioning events out to the subscribers of each document.
// Slow subscribers miss events rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan versioning.Event
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// Subscribe registers a stream for the document until ctx ends or cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, documentID string) (<-chan versioning.Event, func()) {
	if documentID == "" {
		ch := make(chan versioning.Event)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan versioning.Event, d.bufferSize),
	}
	d.registerSubscriber(documentID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(documentID, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements versioning.EventPublisher.
func (d *RealtimeDispatcher) Publish(event versioning.Event) {
	if event.DocumentID == "" || event.Type == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.DocumentID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports how many streams are open for the document.
func (d *RealtimeDispatcher) SubscriberCount(documentID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[documentID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(documentID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[documentID]; !ok {
		d.subscribers[documentID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[documentID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(documentID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[documentID]
	if subscribers == nil {
		return
	}
	delete(subscribers, subscriberID)
	if len(subscribers) == 0 {
		delete(d.subscribers, documentID)
	}
}
