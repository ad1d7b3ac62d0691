// Package inproc is an in process publish/subscribe bus. Publish calls every handler of the
// channel synchronously, in subscription order.
package inproc

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/imagequeue/transport"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("bus is closed")

// Bus routes payloads to the handlers subscribed to their channel.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]transport.Handler
	closed   bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: map[string][]transport.Handler{}}
}

// Subscribe adds h to channel.
func (b *Bus) Subscribe(ctx context.Context, channel string, h transport.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if channel == "" {
		return errors.New("channel cannot be empty")
	}
	if h == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.handlers[channel] = append(b.handlers[channel], h)
	return nil
}

// Publish delivers payload to every handler of channel before returning.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := b.handlers[channel]
	b.mu.RUnlock()
	for _, h := range handlers {
		h(payload, channel)
	}
	return nil
}

// Channels returns how many handlers each channel has.
func (b *Bus) Channels() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := make(map[string]int, len(b.handlers))
	for channel, hs := range b.handlers {
		counts[channel] = len(hs)
	}
	return counts
}

// Close drops every subscription. Later calls fail with ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = map[string][]transport.Handler{}
	return nil
}
