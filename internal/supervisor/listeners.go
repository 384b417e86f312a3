package supervisor

import (
	"fmt"

	"github.com/loykin/rendersup/internal/report"
)

// Listener receives crash reports. A returned error or a panic is logged and
// never affects the supervisor.
type Listener func(r report.CrashReport) error

// SubscriptionID identifies a registered Listener.
type SubscriptionID uint64

type subscription struct {
	id SubscriptionID
	fn Listener
}

// RegisterListener subscribes fn to future reports. A report produced while
// nobody was listening is handed to fn right away and then dropped.
func (s *Supervisor) RegisterListener(fn Listener) SubscriptionID {
	s.mu.Lock()
	s.nextSub++
	sub := subscription{id: s.nextSub, fn: fn}
	s.listeners = append(s.listeners, sub)
	pending := s.pending
	s.pending = nil
	surfaceID := s.handle.SurfaceID
	s.mu.Unlock()

	if pending != nil {
		s.deliver(surfaceID, sub, *pending)
	}
	return sub.id
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (s *Supervisor) Unsubscribe(id SubscriptionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.listeners {
		if sub.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Pending returns the buffered report awaiting a listener, if any.
func (s *Supervisor) Pending() (report.CrashReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return report.CrashReport{}, false
	}
	return *s.pending, true
}

func (s *Supervisor) publish(r report.CrashReport) {
	if s.opts.OnReport != nil {
		s.opts.OnReport(r)
	}
	s.mu.Lock()
	subs := append([]subscription(nil), s.listeners...)
	if len(subs) == 0 {
		if s.pending != nil {
			s.log.Info("Pending crash report overwritten",
				"surface", r.SurfaceID, "dropped_incident", s.pending.IncidentID, "incident", r.IncidentID)
		}
		s.pending = &r
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.deliver(r.SurfaceID, sub, r)
	}
}

func (s *Supervisor) deliver(surfaceID string, sub subscription, r report.CrashReport) {
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		err = sub.fn(r)
	}()
	if err == nil {
		return
	}
	lerr := &ListenerError{Subscription: sub.id, Err: err}
	s.log.Error("Crash report listener failed", "surface", surfaceID, "incident", r.IncidentID, "error", lerr)
	if s.opts.OnListenerError != nil {
		s.opts.OnListenerError(surfaceID, lerr)
	}
}
