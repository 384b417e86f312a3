package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/rendersup/internal/history"
	"github.com/loykin/rendersup/internal/metrics"
	"github.com/loykin/rendersup/internal/report"
	"github.com/loykin/rendersup/internal/supervisor"
	"github.com/loykin/rendersup/internal/surface"
)

// ErrUnknownSurface is returned for ids with no attached supervisor.
var ErrUnknownSurface = errors.New("unknown surface")

const (
	defaultRecentReports = 256
	defaultSinkTimeout   = 5 * time.Second
	historyQueueSize     = 64
)

// AttachOptions override the manager defaults for one surface.
type AttachOptions struct {
	HomeURL     string
	// Recreate overrides the default recovery mode when non-nil.
	Recreate    *bool
	GraceWindow time.Duration
	// Previous is preserved behind the supervisor; nil keeps the surface's
	// current delegate.
	Previous surface.Delegate
}

// Manager runs one supervisor per render surface and fans finished crash
// reports out to metrics, history sinks and a bounded in-memory log.
type Manager struct {
	mu        sync.RWMutex
	defaults  supervisor.Options
	log       *slog.Logger
	entries   map[string]*entry
	recent    []report.CrashReport
	recentCap int

	subMu   sync.Mutex
	subs    map[uint64]chan report.CrashReport
	nextSub uint64

	histMu      sync.Mutex
	histSinks   []history.Sink
	histCh      chan history.Event
	histDone    chan struct{}
	histClosed  bool
	sinkTimeout time.Duration
}

type entry struct {
	sup    *supervisor.Supervisor
	surf   surface.Surface
	handle supervisor.Handle
}

// NewManager creates a manager; defaults seed every supervisor it creates.
// Hooks in defaults are replaced by the manager's own.
func NewManager(defaults supervisor.Options) *Manager {
	log := defaults.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		defaults:    defaults,
		log:         log,
		entries:     make(map[string]*entry),
		subs:        make(map[uint64]chan report.CrashReport),
		recentCap:   defaultRecentReports,
		sinkTimeout: defaultSinkTimeout,
	}
}

// SetHistorySinks configures external history sinks (SQLite, PostgreSQL,
// ClickHouse, OpenSearch). Passing no sinks clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	m.histSinks = append([]history.Sink(nil), sinks...)
	if len(sinks) > 0 && m.histCh == nil && !m.histClosed {
		m.histCh = make(chan history.Event, historyQueueSize)
		m.histDone = make(chan struct{})
		go m.runHistory(m.histCh, m.histDone)
	}
}

// SetRecentLimit bounds how many reports Reports can return.
func (m *Manager) SetRecentLimit(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		n = defaultRecentReports
	}
	m.recentCap = n
	if len(m.recent) > n {
		m.recent = append([]report.CrashReport(nil), m.recent[len(m.recent)-n:]...)
	}
}

// Attach creates a supervisor for surf and attaches it.
func (m *Manager) Attach(surf surface.Surface, ao AttachOptions) (*supervisor.Supervisor, error) {
	id := surf.ID()
	if id == "" {
		return nil, errors.New("surface id required")
	}
	opts := m.defaults
	if ao.HomeURL != "" {
		opts.HomeURL = ao.HomeURL
	}
	if ao.GraceWindow > 0 {
		opts.GraceWindow = ao.GraceWindow
	}
	if ao.Recreate != nil {
		opts.Recreate = *ao.Recreate
	}
	opts.Logger = m.log.With("surface", id)
	opts.OnTransition = m.onTransition
	opts.OnReport = m.onReport
	opts.OnListenerError = m.onListenerError
	sup := supervisor.New(opts)

	m.mu.Lock()
	if _, ok := m.entries[id]; ok {
		m.mu.Unlock()
		return nil, &supervisor.AlreadyAttachedError{SurfaceID: id}
	}
	e := &entry{sup: sup, surf: surf}
	m.entries[id] = e
	m.mu.Unlock()

	h, err := sup.Attach(surf, ao.Previous)
	if err != nil {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Lock()
	e.handle = h
	n := len(m.entries)
	m.mu.Unlock()
	metrics.SetAttached(n)
	return sup, nil
}

// Detach detaches and forgets the supervisor of id.
func (m *Manager) Detach(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	n := len(m.entries)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSurface, id)
	}
	e.sup.Detach(e.handle)
	metrics.ForgetSurface(id)
	metrics.SetAttached(n)
	return nil
}

func (m *Manager) get(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSurface, id)
	}
	return e, nil
}

// Supervisor returns the supervisor attached to id.
func (m *Manager) Supervisor(id string) (*supervisor.Supervisor, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return e.sup, nil
}

// Surface returns the surface registered under id.
func (m *Manager) Surface(id string) (surface.Surface, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return e.surf, nil
}

// Listen registers a crash report listener on surface id.
func (m *Manager) Listen(id string, fn supervisor.Listener) (supervisor.SubscriptionID, error) {
	e, err := m.get(id)
	if err != nil {
		return 0, err
	}
	return e.sup.RegisterListener(fn), nil
}

func (m *Manager) Unsubscribe(id string, sub supervisor.SubscriptionID) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	e.sup.Unsubscribe(sub)
	return nil
}

// Status returns the status of one surface.
func (m *Manager) Status(id string) (supervisor.Status, error) {
	e, err := m.get(id)
	if err != nil {
		return supervisor.Status{}, err
	}
	return e.sup.Status(), nil
}

// StatusAll returns statuses of all surfaces ordered by id.
func (m *Manager) StatusAll() []supervisor.Status {
	return m.StatusMatch("*")
}

// StatusMatch returns statuses for surface ids matching the wildcard pattern.
// Supported wildcard: '*' matches any substring (including empty).
func (m *Manager) StatusMatch(pattern string) []supervisor.Status {
	m.mu.RLock()
	sups := make([]*supervisor.Supervisor, 0, len(m.entries))
	for id, e := range m.entries {
		if wildcardMatch(id, pattern) {
			sups = append(sups, e.sup)
		}
	}
	m.mu.RUnlock()
	out := make([]supervisor.Status, 0, len(sups))
	for _, s := range sups {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SurfaceID < out[j].SurfaceID })
	return out
}

// Reports returns up to limit recent reports, newest first. limit <= 0 means all.
func (m *Manager) Reports(limit int) []report.CrashReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]report.CrashReport, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.recent[i])
	}
	return out
}

// Subscribe streams every finished report of every surface. Reports are
// dropped for a subscriber whose buffer is full. cancel closes the channel.
func (m *Manager) Subscribe(buf int) (<-chan report.CrashReport, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan report.CrashReport, buf)
	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = ch
	m.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) broadcast(r report.CrashReport) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- r:
		default:
			m.log.Warn("Report subscriber is slow, dropping report", "incident", r.IncidentID)
		}
	}
}

// Close detaches every surface, flushes queued history and closes sinks
// that implement io.Closer.
// CloseSurfaces closes every attached surface that implements io.Closer,
// waking hosts blocked in a command long-poll. Supervisors stay attached.
func (m *Manager) CloseSurfaces() error {
	m.mu.RLock()
	closers := make([]io.Closer, 0, len(m.entries))
	for _, e := range m.entries {
		if c, ok := e.surf.(io.Closer); ok {
			closers = append(closers, c)
		}
	}
	m.mu.RUnlock()
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Close() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Detach(id)
	}

	m.subMu.Lock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.subMu.Unlock()

	m.histMu.Lock()
	if m.histClosed {
		m.histMu.Unlock()
		return nil
	}
	m.histClosed = true
	ch, done := m.histCh, m.histDone
	m.histMu.Unlock()
	if ch != nil {
		close(ch)
		<-done
	}

	m.histMu.Lock()
	sinks := m.histSinks
	m.histSinks = nil
	m.histMu.Unlock()
	var errs []error
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) onTransition(id string, from, to supervisor.State) {
	metrics.RecordStateTransition(id, from.String(), to.String())
	m.log.Debug("Supervisor state changed", "surface", id, "from", from.String(), "to", to.String())
}

func (m *Manager) onListenerError(id string, _ error) {
	metrics.IncListenerError(id)
}

func (m *Manager) onReport(r report.CrashReport) {
	metrics.IncIncident(r.SurfaceID, string(r.Reason))
	metrics.IncRecovery(r.SurfaceID, r.Outcome())
	m.log.Info("Crash report",
		"surface", r.SurfaceID, "incident", r.IncidentID, "reason", string(r.Reason),
		"outcome", r.Outcome(), "previous_url", r.PrevURL())

	m.mu.Lock()
	m.recent = append(m.recent, r)
	if over := len(m.recent) - m.recentCap; over > 0 {
		m.recent = append([]report.CrashReport(nil), m.recent[over:]...)
	}
	m.mu.Unlock()
	m.broadcast(r)

	m.histMu.Lock()
	defer m.histMu.Unlock()
	if m.histCh == nil || m.histClosed {
		return
	}
	select {
	case m.histCh <- history.NewCrashEvent(r):
	default:
		metrics.IncHistoryError("dropped")
		m.log.Warn("History queue full, dropping crash event", "incident", r.IncidentID)
	}
}

func (m *Manager) runHistory(ch <-chan history.Event, done chan<- struct{}) {
	defer close(done)
	for evt := range ch {
		m.histMu.Lock()
		sinks := append([]history.Sink(nil), m.histSinks...)
		m.histMu.Unlock()
		for _, s := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), m.sinkTimeout)
			err := s.Send(ctx, evt)
			cancel()
			if err != nil {
				metrics.IncHistoryError("send")
				m.log.Warn("History sink write failed",
					"sink", fmt.Sprintf("%T", s), "incident", evt.Report.IncidentID, "error", err)
			}
		}
	}
}

func wildcardMatch(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return name == pattern
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	if parts[0] != "" {
		if !strings.HasPrefix(name, parts[0]) {
			return false
		}
		idx = len(parts[0])
	}
	// middle parts must occur in order
	for i := 1; i < len(parts)-1; i++ {
		p := parts[i]
		if p == "" {
			continue
		}
		j := strings.Index(name[idx:], p)
		if j < 0 {
			return false
		}
		idx += j + len(p)
	}
	last := parts[len(parts)-1]
	if last != "" {
		return strings.HasSuffix(name, last) && idx <= len(name)-len(last)
	}
	return true
}
