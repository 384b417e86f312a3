package supervisor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/rendersup/internal/report"
	"github.com/loykin/rendersup/internal/surface"
)

// DefaultGraceWindow bounds how long a recovery load may take to finish.
const DefaultGraceWindow = 5 * time.Second

// Options configures a Supervisor. The zero value is usable.
type Options struct {
	// GraceWindow is how long recovery waits for DidFinishLoad.
	GraceWindow time.Duration
	// HomeURL is loaded when no page has finished loading yet.
	HomeURL string
	// Recreate rebuilds the renderer instead of reloading when the surface
	// implements surface.Recreator.
	Recreate bool
	Clock    Clock
	Logger   *slog.Logger
	// NewIncidentID defaults to random UUIDs.
	NewIncidentID func() string

	// Hooks run outside the supervisor lock, on the caller's goroutine.
	OnTransition    func(surfaceID string, from, to State)
	OnReport        func(r report.CrashReport)
	OnListenerError func(surfaceID string, err error)
}

// Handle identifies one attachment. It is stale after Detach.
type Handle struct {
	SurfaceID string
	seq       uint64
}

// Status is a point-in-time view of a supervisor.
type Status struct {
	SurfaceID string `json:"surface_id"`
	Attached  bool   `json:"attached"`
	State     State  `json:"state"`
	LastURL   string `json:"last_url,omitempty"`
	Incidents int    `json:"incidents"`
	Pending   bool   `json:"pending"`
}

// incident is the open crash being recovered.
type incident struct {
	gen       uint64
	id        string
	at        time.Time
	reason    report.TerminationReason
	attempted bool
	prevURL   *string
}

// Supervisor watches one render surface for renderer crashes, runs one
// bounded recovery per crash and reports the outcome to listeners.
// Signal handling is serialized; the supervisor starts no goroutines.
type Supervisor struct {
	mu    sync.Mutex
	opts  Options
	log   *slog.Logger
	clock Clock

	surf     surface.Surface
	prev     surface.Delegate
	handle   Handle
	seq      uint64
	attached bool

	state     State
	lastURL   string
	inc       *incident
	gen       uint64
	timer     Timer
	incidents int

	listeners []subscription
	nextSub   SubscriptionID
	pending   *report.CrashReport
}

// effects are side effects computed under the lock and applied after it.
type effects struct {
	surfaceID   string
	transitions []transition
	// forward receives sig before the recovery load runs, so nested
	// signals from a synchronous surface reach it in emission order.
	forward  surface.Delegate
	sig      surface.Signal
	load     *loadAction
	finished *report.CrashReport
}

type loadAction struct {
	gen      uint64
	surf     surface.Surface
	url      string
	recreate bool
}

func New(opts Options) *Supervisor {
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewIncidentID == nil {
		opts.NewIncidentID = uuid.NewString
	}
	return &Supervisor{opts: opts, log: opts.Logger, clock: opts.Clock, state: Idle}
}

// Attach installs s as the navigation delegate of surf. prev keeps receiving
// every signal after s has handled it; when prev is nil the delegate
// currently installed on surf is preserved.
func (s *Supervisor) Attach(surf surface.Surface, prev surface.Delegate) (Handle, error) {
	cur := surf.Delegate()
	if other, ok := cur.(*Supervisor); ok && other.Attached() {
		return Handle{}, &AlreadyAttachedError{SurfaceID: surf.ID()}
	}
	if prev == nil {
		prev = cur
	}
	s.mu.Lock()
	if s.attached {
		s.mu.Unlock()
		return Handle{}, &AlreadyAttachedError{SurfaceID: surf.ID()}
	}
	s.seq++
	s.handle = Handle{SurfaceID: surf.ID(), seq: s.seq}
	s.surf = surf
	s.prev = prev
	s.attached = true
	s.lastURL = ""
	fx := effects{surfaceID: surf.ID()}
	s.setStateLocked(&fx, Attached)
	h := s.handle
	s.mu.Unlock()

	surf.SetDelegate(s)
	s.apply(fx)
	s.log.Info("Supervisor attached", "surface", h.SurfaceID)
	return h, nil
}

// Detach restores the preserved delegate and releases the surface. An open
// incident is closed as a failed recovery. Stale handles are ignored.
func (s *Supervisor) Detach(h Handle) {
	s.mu.Lock()
	if !s.attached || h.seq != s.handle.seq {
		s.mu.Unlock()
		return
	}
	fx := effects{surfaceID: s.handle.SurfaceID}
	if s.state == Recovering {
		s.finishLocked(&fx, false)
	}
	s.stopTimerLocked()
	s.setStateLocked(&fx, Idle)
	surf, prev := s.surf, s.prev
	s.attached = false
	s.surf = nil
	s.prev = nil
	s.mu.Unlock()

	surf.SetDelegate(prev)
	s.apply(fx)
	s.log.Info("Supervisor detached", "surface", h.SurfaceID)
}

// Attached reports whether s currently supervises a surface.
func (s *Supervisor) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		SurfaceID: s.handle.SurfaceID,
		Attached:  s.attached,
		State:     s.state,
		LastURL:   s.lastURL,
		Incidents: s.incidents,
		Pending:   s.pending != nil,
	}
}

// OnSignal implements surface.Delegate. A DidStartLoad seen while
// recovering is the recovery load starting and keeps the supervisor in
// Recovering; only DidFinishLoad concludes the recovery.
func (s *Supervisor) OnSignal(sig surface.Signal) {
	if sig.At.IsZero() {
		sig.At = s.clock.Now()
	}
	s.mu.Lock()
	if !s.attached {
		s.mu.Unlock()
		return
	}
	fx := effects{surfaceID: s.handle.SurfaceID, forward: s.prev, sig: sig}
	switch {
	case surface.IsTerminal(sig):
		s.onTerminationLocked(&fx, sig)
	case sig.Kind == surface.DidFinishLoad:
		if sig.URL != "" {
			s.lastURL = sig.URL
		}
		if s.state == Recovering {
			s.finishLocked(&fx, true)
		}
		s.setStateLocked(&fx, Attached)
	case sig.Kind == surface.DidStartLoad:
		// the recovery load's own start does not conclude recovery
		if s.state == Idle {
			s.setStateLocked(&fx, Attached)
		}
	}
	s.mu.Unlock()

	s.apply(fx)
}

func (s *Supervisor) onTerminationLocked(fx *effects, sig surface.Signal) {
	switch s.state {
	case Recovering:
		s.log.Warn("Renderer terminated during recovery",
			"surface", fx.surfaceID, "incident", s.inc.id, "signal", sig.Kind.String())
		s.finishLocked(fx, false)
		s.setStateLocked(fx, Idle)
		return
	case Idle:
		s.log.Debug("Termination ignored while idle", "surface", fx.surfaceID, "signal", sig.Kind.String())
		return
	}

	s.gen++
	s.incidents++
	inc := &incident{
		gen:    s.gen,
		id:     s.opts.NewIncidentID(),
		at:     sig.At,
		reason: report.Classify(sig),
	}
	if s.lastURL != "" {
		u := s.lastURL
		inc.prevURL = &u
	}
	s.inc = inc
	target := s.lastURL
	if target == "" {
		target = s.opts.HomeURL
	}
	s.log.Warn("Renderer terminated",
		"surface", fx.surfaceID, "incident", inc.id, "reason", string(inc.reason),
		"signal", sig.Kind.String(), "recovery_url", target)

	if target == "" {
		s.finishLocked(fx, false)
		s.setStateLocked(fx, Idle)
		return
	}
	inc.attempted = true
	s.setStateLocked(fx, Recovering)
	s.startTimerLocked(inc.gen)
	_, canRecreate := s.surf.(surface.Recreator)
	fx.load = &loadAction{gen: inc.gen, surf: s.surf, url: target, recreate: s.opts.Recreate && canRecreate}
}

// finishLocked closes the open incident and queues its report.
func (s *Supervisor) finishLocked(fx *effects, succeeded bool) {
	inc := s.inc
	if inc == nil {
		return
	}
	s.inc = nil
	s.stopTimerLocked()
	r := report.CrashReport{
		IncidentID:        inc.id,
		SurfaceID:         fx.surfaceID,
		Timestamp:         inc.at,
		Reason:            inc.reason,
		RecoveryAttempted: inc.attempted,
		RecoverySucceeded: inc.attempted && succeeded,
		PreviousURL:       inc.prevURL,
	}
	fx.finished = &r
}

func (s *Supervisor) setStateLocked(fx *effects, to State) {
	if s.state == to {
		return
	}
	fx.transitions = append(fx.transitions, transition{from: s.state, to: to})
	s.state = to
}

func (s *Supervisor) startTimerLocked(gen uint64) {
	s.stopTimerLocked()
	s.timer = s.clock.AfterFunc(s.opts.GraceWindow, func() { s.recoveryFailed(gen, nil) })
}

func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// recoveryFailed closes incident gen as failed when it is still open.
// err is nil when the grace window expired.
func (s *Supervisor) recoveryFailed(gen uint64, err error) {
	s.mu.Lock()
	if !s.attached || s.state != Recovering || s.inc == nil || s.inc.gen != gen {
		s.mu.Unlock()
		return
	}
	fx := effects{surfaceID: s.handle.SurfaceID}
	if err != nil {
		s.log.Warn("Recovery load failed", "surface", fx.surfaceID, "incident", s.inc.id, "error", err)
	} else {
		s.log.Warn("Recovery grace window expired", "surface", fx.surfaceID, "incident", s.inc.id,
			"grace_window", s.opts.GraceWindow)
	}
	s.finishLocked(&fx, false)
	s.setStateLocked(&fx, Idle)
	s.mu.Unlock()
	s.apply(fx)
}

func (s *Supervisor) apply(fx effects) {
	if s.opts.OnTransition != nil {
		for _, t := range fx.transitions {
			s.opts.OnTransition(fx.surfaceID, t.from, t.to)
		}
	}
	if fx.forward != nil {
		fx.forward.OnSignal(fx.sig)
	}
	if fx.load != nil {
		var err error
		if fx.load.recreate {
			err = fx.load.surf.(surface.Recreator).Recreate(fx.load.url)
		} else {
			err = fx.load.surf.Load(fx.load.url)
		}
		if err != nil {
			s.recoveryFailed(fx.load.gen, err)
		}
	}
	if fx.finished != nil {
		s.publish(*fx.finished)
	}
}
