// Package transport defines how payloads published on named channels reach their consumers.
package transport

import "context"

// Handler receives one payload published on channel. Handlers may be called concurrently for
// different channels and must not retain payload after returning.
type Handler func(payload []byte, channel string)

// Subscriber delivers every payload published on a channel to a handler.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, h Handler) error
}

// Publisher publishes payloads on channels.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
