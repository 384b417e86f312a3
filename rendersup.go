package rendersup

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/rendersup/internal/bridge"
	cfg "github.com/loykin/rendersup/internal/config"
	"github.com/loykin/rendersup/internal/history"
	"github.com/loykin/rendersup/internal/history/factory"
	"github.com/loykin/rendersup/internal/manager"
	"github.com/loykin/rendersup/internal/metrics"
	"github.com/loykin/rendersup/internal/report"
	iapi "github.com/loykin/rendersup/internal/server"
	"github.com/loykin/rendersup/internal/supervisor"
	"github.com/loykin/rendersup/internal/surface"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type (
	Surface      = surface.Surface
	Recreator    = surface.Recreator
	Delegate     = surface.Delegate
	DelegateFunc = surface.DelegateFunc
	Chain        = surface.Chain
	Signal       = surface.Signal
	SignalKind   = surface.Kind

	CrashReport       = report.CrashReport
	TerminationReason = report.TerminationReason

	Supervisor           = supervisor.Supervisor
	Options              = supervisor.Options
	Handle               = supervisor.Handle
	State                = supervisor.State
	Status               = supervisor.Status
	Listener             = supervisor.Listener
	SubscriptionID       = supervisor.SubscriptionID
	AlreadyAttachedError = supervisor.AlreadyAttachedError

	AttachOptions = manager.AttachOptions
	BridgeSurface = bridge.Surface
	HistorySink   = history.Sink
	Config        = cfg.FileConfig
)

const (
	DidStartLoad                  = surface.DidStartLoad
	DidFinishLoad                 = surface.DidFinishLoad
	DidFailLoad                   = surface.DidFailLoad
	ProcessTerminated             = surface.ProcessTerminated
	WebContentProcessDidTerminate = surface.WebContentProcessDidTerminate

	Idle       = supervisor.Idle
	Attached   = supervisor.Attached
	Recovering = supervisor.Recovering

	ReasonUnresponsive  = report.ReasonUnresponsive
	ReasonProcessKilled = report.ReasonProcessKilled
	ReasonOutOfMemory   = report.ReasonOutOfMemory
	ReasonUnknown       = report.ReasonUnknown
)

var (
	ErrAlreadyAttached   = supervisor.ErrAlreadyAttached
	ErrProcessTerminated = surface.ErrProcessTerminated
	ErrUnresponsive      = surface.ErrUnresponsive
	ErrOutOfMemory       = surface.ErrOutOfMemory
	ErrProcessKilled     = surface.ErrProcessKilled
	ErrUnknownSurface    = manager.ErrUnknownSurface
)

// NewSupervisor creates a standalone supervisor for a single surface.
func NewSupervisor(opts Options) *Supervisor { return supervisor.New(opts) }

// NewBridgeSurface creates a surface driven by an out-of-process host.
func NewBridgeSurface(id string) *BridgeSurface { return bridge.New(id) }

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.
type Manager struct{ inner *manager.Manager }

func NewManager(defaults Options) *Manager { return &Manager{inner: manager.NewManager(defaults)} }

func (m *Manager) Attach(s Surface, ao AttachOptions) (*Supervisor, error) {
	return m.inner.Attach(s, ao)
}
func (m *Manager) Detach(id string) error               { return m.inner.Detach(id) }
func (m *Manager) Status(id string) (Status, error)     { return m.inner.Status(id) }
func (m *Manager) StatusAll() []Status                  { return m.inner.StatusAll() }
func (m *Manager) StatusMatch(pattern string) []Status  { return m.inner.StatusMatch(pattern) }
func (m *Manager) Reports(limit int) []CrashReport      { return m.inner.Reports(limit) }
func (m *Manager) SetHistorySinks(sinks ...HistorySink) { m.inner.SetHistorySinks(sinks...) }
func (m *Manager) SetRecentLimit(n int)                 { m.inner.SetRecentLimit(n) }
func (m *Manager) Close() error                         { return m.inner.Close() }
func (m *Manager) CloseSurfaces() error                 { return m.inner.CloseSurfaces() }
func (m *Manager) Listen(id string, fn Listener) (SubscriptionID, error) {
	return m.inner.Listen(id, fn)
}
func (m *Manager) Unsubscribe(id string, sub SubscriptionID) error {
	return m.inner.Unsubscribe(id, sub)
}

// Subscribe streams every finished report from all surfaces until cancel is called.
func (m *Manager) Subscribe(buf int) (<-chan CrashReport, func()) { return m.inner.Subscribe(buf) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySink opens a sink from a DSN such as sqlite:///var/lib/rendersup.db,
// postgres://..., clickhouse://host:9000?table=t or opensearch://host:9200/index.
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewLogger builds the process logger described by c.
func NewLogger(c *Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	return c.LoggerConfig().New(console)
}

// NewHTTPServer starts an HTTP server exposing the API for the given manager.
func NewHTTPServer(addr, basePath string, m *Manager, withMetrics bool) *http.Server {
	return iapi.NewServer(addr, iapi.NewRouter(m.inner, basePath).WithMetrics(withMetrics))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics from the default registry on addr in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
