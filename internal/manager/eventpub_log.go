package manager

import "github.com/rs/zerolog"

// LogPublisher writes every event as a structured log line.
type LogPublisher struct{ Log zerolog.Logger }

func (p LogPublisher) Publish(e Event) {
	ev := p.Log.Info().Str("event", e.Name).Str("model", e.ModelID).Time("at", e.At)
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("manager event")
}
