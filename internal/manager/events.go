package manager

import "time"

// Event is a model lifecycle notification: loads, evictions, unloads and
// switch operations. Fields carries event-specific values such as the
// error text or the load duration.
type Event struct {
	Name    string
	ModelID string
	At      time.Time
	Fields  map[string]any
}

// EventPublisher receives manager events. Publish is called synchronously
// from the manager and must not block or panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MultiPublisher fans events out to several publishers.
type MultiPublisher []EventPublisher

func (mp MultiPublisher) Publish(e Event) {
	for _, p := range mp {
		p.Publish(e)
	}
}

// emit stamps and publishes one event. kv are alternating key/value pairs.
func (m *Manager) emit(name, modelID string, kv ...any) {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	m.publisher.Publish(Event{Name: name, ModelID: modelID, At: time.Now(), Fields: fields})
}
