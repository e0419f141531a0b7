package versioning

import "time"

// EventType names a change notification emitted after a successful operation.
type EventType string

const (
	EventVersionCommitted EventType = "version.committed"
	EventItemChanged      EventType = "item.changed"
	EventDocumentDeleted  EventType = "document.deleted"
	EventDocumentUpdated  EventType = "document.updated"
)

// Event tells presentation layers which cached views of a document are stale.
// Events are published only after the underlying transaction committed.
type Event struct {
	DocumentID string    `json:"document_id"`
	Type       EventType `json:"type"`
	VersionID  string    `json:"version_id,omitempty"`
	ItemIDs    []string  `json:"item_ids,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventPublisher receives change events. Implementations must not block.
type EventPublisher interface {
	Publish(event Event)
}

type noOpPublisher struct{}

func (noOpPublisher) Publish(Event) {}

func (s *Service) publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	s.events.Publish(event)
}
