// Package transport provides duplex byte streams to language servers, either
// over a child process's stdio or over a TCP socket.
package transport

//go:generate mockgen -destination=mocks/transport.go -package=mock_transport . Transport

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Mode is the transport kind declared by a server configuration.
type Mode string

const (
	ModeStdio Mode = "stdio"
	ModeTCP   Mode = "tcp"
)

// ErrNotConnected is returned by Send when no connection is live.
var ErrNotConnected = errors.New("transport not connected")

// Handlers receive transport events. Any field may be nil. Data and error
// events are delivered in order from a single reader goroutine; OnClose
// fires once per connection.
type Handlers struct {
	OnData  func(data []byte)
	OnError func(err error)
	OnClose func()
}

// Transport is a duplex byte stream to one language server.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(data []byte) error
	// Subscribe registers handlers for the lifetime of the transport, across
	// reconnects, until the returned function is called.
	Subscribe(h Handlers) (unsubscribe func())
	IsConnected() bool
	Mode() Mode
}

// hub fans transport events out to subscribers.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]Handlers
}

func (h *hub) Subscribe(handlers Handlers) func() {
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[int]Handlers)
	}
	id := h.next
	h.next++
	h.subs[id] = handlers
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *hub) snapshot() []Handlers {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Handlers, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.subs[id])
	}
	return out
}

func (h *hub) emitData(data []byte) {
	for _, s := range h.snapshot() {
		if s.OnData != nil {
			s.OnData(data)
		}
	}
}

func (h *hub) emitError(err error) {
	for _, s := range h.snapshot() {
		if s.OnError != nil {
			s.OnError(err)
		}
	}
}

func (h *hub) emitClose() {
	for _, s := range h.snapshot() {
		if s.OnClose != nil {
			s.OnClose()
		}
	}
}
