// Package bridge implements a render surface whose renderer lives in another
// process. The host polls for navigation commands and reports navigation
// events back as signals.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/loykin/rendersup/internal/surface"
)

// ErrClosed is returned once the surface has been closed.
var ErrClosed = errors.New("bridge surface closed")

// CommandKind is the navigation action the host must perform.
type CommandKind string

const (
	CommandLoad     CommandKind = "load"
	CommandRecreate CommandKind = "recreate"
)

// Command is a navigation request waiting to be picked up by the host.
type Command struct {
	Kind     CommandKind `json:"kind"`
	URL      string      `json:"url"`
	IssuedAt time.Time   `json:"issued_at"`
}

// Surface is a surface.Surface backed by a one-slot command mailbox.
// A newer command replaces one the host has not fetched yet.
type Surface struct {
	id string

	mu     sync.Mutex
	del    surface.Delegate
	closed bool

	// dispatch serializes inbound signals into one event stream.
	dispatch sync.Mutex
	mailbox  chan Command
	done     chan struct{}
	now      func() time.Time
}

func New(id string) *Surface {
	return &Surface{
		id:      id,
		mailbox: make(chan Command, 1),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

func (s *Surface) ID() string { return s.id }

func (s *Surface) Delegate() surface.Delegate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.del
}

func (s *Surface) SetDelegate(d surface.Delegate) {
	s.mu.Lock()
	s.del = d
	s.mu.Unlock()
}

func (s *Surface) Load(url string) error {
	return s.enqueue(Command{Kind: CommandLoad, URL: url})
}

func (s *Surface) Recreate(url string) error {
	return s.enqueue(Command{Kind: CommandRecreate, URL: url})
}

func (s *Surface) enqueue(c Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	c.IssuedAt = s.now().UTC()
	for {
		select {
		case s.mailbox <- c:
			return nil
		default:
		}
		select {
		case <-s.mailbox:
		default:
		}
	}
}

// Next blocks until a command is available, ctx ends, or the surface closes.
func (s *Surface) Next(ctx context.Context) (Command, error) {
	select {
	case c := <-s.mailbox:
		return c, nil
	case <-s.done:
		return Command{}, ErrClosed
	case <-ctx.Done():
		return Command{}, ctx.Err()
	}
}

// Deliver hands sig to the installed delegate. Calls are serialized.
func (s *Surface) Deliver(sig surface.Signal) error {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()
	s.mu.Lock()
	d, closed := s.del, s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if sig.At.IsZero() {
		sig.At = s.now()
	}
	if d != nil {
		d.OnSignal(sig)
	}
	return nil
}

// Close rejects further commands and signals and wakes pending pollers.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
