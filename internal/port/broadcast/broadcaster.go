// Package broadcast defines the port for pushing live fleet updates to
// connected dashboard clients.
package broadcast

import "context"

// Broadcaster sends a typed message to all connected clients.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop discards broadcasts.
type Nop struct{}

func (Nop) BroadcastEvent(context.Context, string, any) {}
