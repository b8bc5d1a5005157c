// Package gate parks an orchestration flow until a human answers.
//
// A Gate is a single-slot rendezvous. The flow calls Request, which notifies
// the UI and waits; the UI calls Supply from its own goroutine. Empty
// submissions never release a waiting flow. A Supply that arrives while no
// Request is waiting is buffered (one value at most) and handed to the next
// Request without notifying the UI again.
package gate

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrBusy is returned by Request when another Request is already waiting.
	ErrBusy = errors.New("gate already awaiting a response")

	// ErrSlotFull is returned by Supply when a buffered value is still unread.
	ErrSlotFull = errors.New("gate already holds a pending value")

	// ErrEmptyValue is returned by Supply for blank submissions.
	ErrEmptyValue = errors.New("empty value ignored")

	// ErrClosed is returned once the gate has been closed.
	ErrClosed = errors.New("gate closed")
)

// State is the gate's position in its Idle/Awaiting cycle.
type State int

const (
	StateIdle State = iota
	StateAwaiting
)

func (s State) String() string {
	if s == StateAwaiting {
		return "awaiting"
	}
	return "idle"
}

// Payload is what the UI displays while a gate waits.
type Payload struct {
	Gate    string `json:"gate"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Notifier publishes a payload to the UI. It must not block on the gate.
type Notifier func(Payload)

// Gate is one single-slot rendezvous. The zero value is not usable; call New.
type Gate struct {
	name   string
	notify Notifier

	mu       sync.Mutex
	waiter   chan string
	buffered *string
	closed   bool
}

// New returns an idle gate. notify may be nil.
func New(name string, notify Notifier) *Gate {
	return &Gate{name: name, notify: notify}
}

// Name returns the gate's name.
func (g *Gate) Name() string {
	return g.name
}

// State reports whether a Request is currently waiting.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiter != nil {
		return StateAwaiting
	}
	return StateIdle
}

// HasBuffered reports whether a supplied value is waiting for the next Request.
func (g *Gate) HasBuffered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buffered != nil
}

// Request publishes p and waits for a non-empty value. With no deadline on
// ctx it waits indefinitely. Cancelling ctx returns ctx.Err() and leaves the
// gate idle.
func (g *Gate) Request(ctx context.Context, p Payload) (string, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return "", ErrClosed
	}
	if g.waiter != nil {
		g.mu.Unlock()
		return "", ErrBusy
	}
	if g.buffered != nil {
		v := *g.buffered
		g.buffered = nil
		g.mu.Unlock()
		log.Debug().Str("gate", g.name).Msg("delivering buffered value")
		return v, nil
	}

	ch := make(chan string, 1)
	g.waiter = ch
	g.mu.Unlock()

	if p.Gate == "" {
		p.Gate = g.name
	}
	if g.notify != nil {
		g.notify(p)
	}

	select {
	case v, ok := <-ch:
		if !ok {
			return "", ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		g.mu.Lock()
		if g.waiter == ch {
			g.waiter = nil
			g.mu.Unlock()
			return "", ctx.Err()
		}
		g.mu.Unlock()
		// Supply or Close won the race and already resolved ch.
		v, ok := <-ch
		if !ok {
			return "", ErrClosed
		}
		return v, nil
	}
}

// Supply hands value to the waiting Request, or buffers it if none waits.
// Blank values are rejected with ErrEmptyValue and change nothing.
func (g *Gate) Supply(value string) error {
	if strings.TrimSpace(value) == "" {
		return ErrEmptyValue
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if g.waiter != nil {
		g.waiter <- value
		g.waiter = nil
		return nil
	}
	if g.buffered != nil {
		return ErrSlotFull
	}
	g.buffered = &value
	log.Debug().Str("gate", g.name).Msg("value buffered ahead of request")
	return nil
}

// Close releases any waiting Request with ErrClosed and rejects later calls.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	g.buffered = nil
	if g.waiter != nil {
		close(g.waiter)
		g.waiter = nil
	}
}
