package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/rendersup/internal/report"
	"github.com/loykin/rendersup/internal/surface"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs due timers outside the clock lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeSurface struct {
	mu        sync.Mutex
	id        string
	del       surface.Delegate
	loads     []string
	recreates []string
	loadErr   error
	onLoad    func(url string)
}

func newFakeSurface(id string) *fakeSurface { return &fakeSurface{id: id} }

func (f *fakeSurface) ID() string { return f.id }

func (f *fakeSurface) Delegate() surface.Delegate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.del
}

func (f *fakeSurface) SetDelegate(d surface.Delegate) {
	f.mu.Lock()
	f.del = d
	f.mu.Unlock()
}

func (f *fakeSurface) Load(url string) error {
	f.mu.Lock()
	f.loads = append(f.loads, url)
	err, hook := f.loadErr, f.onLoad
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(url)
	}
	return nil
}

func (f *fakeSurface) emit(sig surface.Signal) {
	if d := f.Delegate(); d != nil {
		d.OnSignal(sig)
	}
}

func (f *fakeSurface) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

type recreatingSurface struct{ *fakeSurface }

func (r recreatingSurface) Recreate(url string) error {
	r.mu.Lock()
	r.recreates = append(r.recreates, url)
	r.mu.Unlock()
	return nil
}

type collector struct {
	mu      sync.Mutex
	reports []report.CrashReport
}

func (c *collector) listen(r report.CrashReport) error {
	c.mu.Lock()
	c.reports = append(c.reports, r)
	c.mu.Unlock()
	return nil
}

func (c *collector) all() []report.CrashReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]report.CrashReport(nil), c.reports...)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestSupervisor(clk *fakeClock, mutate func(*Options)) *Supervisor {
	n := 0
	opts := Options{
		GraceWindow: time.Second,
		Clock:       clk,
		Logger:      quietLogger(),
		NewIncidentID: func() string {
			n++
			return fmt.Sprintf("inc-%d", n)
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func sig(k surface.Kind, url string) surface.Signal { return surface.Signal{Kind: k, URL: url} }
