package pubsub

import (
	"context"
	"log/slog"
)

// FallbackPublisher stands in when no broker is configured.
type FallbackPublisher struct {
	log *slog.Logger
}

func (p *FallbackPublisher) Publish(_ context.Context, destination string, msg Message) error {
	p.log.Warn("FallbackPublisher: skipped publish",
		slog.String("destination", destination),
		slog.String("type", msg.Type),
	)
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}

func NewFallback(logger *slog.Logger) Publisher {
	return &FallbackPublisher{
		log: orDefault(logger),
	}
}
