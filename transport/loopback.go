package transport

import (
	"context"
	"sync"

	"github.com/spacemeshos/go-bdsync/wire"
)

// Handler consumes a received envelope. An error stops delivery and is
// returned to the sender.
type Handler func(*Envelope) error

// Filter decides whether subscriber i receives the n-th packet.
type Filter func(subscriber, n int, p wire.Packet) bool

// Loopback delivers packets synchronously to in-process subscribers.
type Loopback struct {
	stream uint16
	filter Filter

	mu       sync.Mutex
	handlers []Handler
	n        int
}

func NewLoopback(stream uint16) *Loopback {
	return &Loopback{stream: stream}
}

// SetFilter installs f to simulate packet loss.
func (l *Loopback) SetFilter(f Filter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = f
}

// Subscribe registers h and returns its subscriber index.
func (l *Loopback) Subscribe(h Handler) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
	return len(l.handlers) - 1
}

// Broadcast passes p through the datagram framing and hands it to every
// subscriber.
func (l *Loopback) Broadcast(ctx context.Context, p wire.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	handlers, filter, n := l.handlers, l.filter, l.n
	l.n++
	l.mu.Unlock()

	frame := Wrap(l.stream, p).Frame()
	for i, h := range handlers {
		if filter != nil && !filter(i, n, p) {
			continue
		}
		env, err := Unframe(frame)
		if err != nil {
			return err
		}
		if err := h(env); err != nil {
			return err
		}
	}
	return nil
}
