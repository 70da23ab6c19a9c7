// Package events fans committed settlement transitions out to subscribers.
package events

import (
	"context"

	"github.com/GoPolymarket/credcalls/internal/model"
)

// Publisher accepts events after the transaction that produced them commits.
// Publish must not block the settlement path.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event)
}

// Sink is a delivery target driven by the Dispatcher.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev model.Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, model.Event) {}
