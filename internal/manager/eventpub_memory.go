package manager

import "sync"

// MemoryPublisher keeps events in memory. With Limit > 0 only the most
// recent Limit events are retained.
type MemoryPublisher struct {
	Limit int

	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	if p.Limit > 0 && len(p.events) > p.Limit {
		p.events = append(p.events[:0], p.events[len(p.events)-p.Limit:]...)
	}
}

// Events returns a copy of the retained events, oldest first.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Named returns the retained events called name.
func (p *MemoryPublisher) Named(name string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
