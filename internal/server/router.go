package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/rendersup/internal/bridge"
	"github.com/loykin/rendersup/internal/config"
	mng "github.com/loykin/rendersup/internal/manager"
	"github.com/loykin/rendersup/internal/metrics"
	"github.com/loykin/rendersup/internal/supervisor"
	"github.com/loykin/rendersup/internal/surface"
)

const (
	defaultCommandWait = 5 * time.Second
	maxCommandWait     = 60 * time.Second
)

// Router provides embeddable HTTP handlers for supervised surfaces.
// Endpoints:
//   GET    {basePath}/surfaces                 query: match=pattern (optional)
//   POST   {basePath}/surfaces                 body: {id, home_url, recovery}
//   GET    {basePath}/surfaces/:id
//   DELETE {basePath}/surfaces/:id
//   POST   {basePath}/surfaces/:id/signals     body: {kind, url, error, hint}
//   GET    {basePath}/surfaces/:id/commands    query: wait=5s; 204 when nothing arrived
//   GET    {basePath}/reports                  query: limit=N
//   GET    {basePath}/reports/stream           websocket, one JSON report per message
//   GET    {basePath}/metrics                  when metrics are enabled
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	basePath string
	metrics  bool
	log      *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath), log: slog.Default()}
}

// WithMetrics mounts the Prometheus handler under the base path.
func (r *Router) WithMetrics(enabled bool) *Router {
	r.metrics = enabled
	return r
}

func (r *Router) WithLogger(l *slog.Logger) *Router {
	if l != nil {
		r.log = l
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/surfaces", r.handleList)
	group.POST("/surfaces", r.handleAttach)
	group.GET("/surfaces/:id", r.handleStatus)
	group.DELETE("/surfaces/:id", r.handleDetach)
	group.POST("/surfaces/:id/signals", r.handleSignal)
	group.GET("/surfaces/:id/commands", r.handleCommands)
	group.GET("/reports", r.handleReports)
	group.GET("/reports/stream", r.handleReportStream)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Listen errors other than http.ErrServerClosed are logged.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// long-polls hold the response for up to maxCommandWait
		WriteTimeout: maxCommandWait + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("HTTP server stopped", "addr", addr, "error", err)
		}
	}()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// AttachRequest is the body of POST /surfaces.
type AttachRequest struct {
	ID       string `json:"id"`
	HomeURL  string `json:"home_url,omitempty"`
	Recovery string `json:"recovery,omitempty"`
}

// SignalRequest is the body of POST /surfaces/:id/signals.
type SignalRequest struct {
	Kind  string `json:"kind"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

func (r *Router) handleList(c *gin.Context) {
	pattern := c.DefaultQuery("match", "*")
	writeJSON(c, http.StatusOK, r.mgr.StatusMatch(pattern))
}

func (r *Router) handleAttach(c *gin.Context) {
	var req AttachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(req.ID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid id: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	switch req.Recovery {
	case "", config.RecoveryReload, config.RecoveryRecreate:
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "recovery must be reload or recreate"})
		return
	}
	surf := bridge.New(req.ID)
	_, err := r.mgr.Attach(surf, mng.AttachOptions{
		HomeURL:  req.HomeURL,
		Recreate: config.RecreateMode(req.Recovery),
	})
	if err != nil {
		_ = surf.Close()
		code := http.StatusBadRequest
		if errors.Is(err, supervisor.ErrAlreadyAttached) {
			code = http.StatusConflict
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	st, _ := r.mgr.Status(req.ID)
	r.log.Info("Surface attached via API", "surface", req.ID)
	writeJSON(c, http.StatusCreated, st)
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.mgr.Status(c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleDetach(c *gin.Context) {
	id := c.Param("id")
	surf, err := r.mgr.Surface(id)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	if err := r.mgr.Detach(id); err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	if b, ok := surf.(*bridge.Surface); ok {
		_ = b.Close()
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// bridgeSurface resolves id to a remotely driven surface or writes the error.
func (r *Router) bridgeSurface(c *gin.Context) (*bridge.Surface, bool) {
	surf, err := r.mgr.Surface(c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return nil, false
	}
	b, ok := surf.(*bridge.Surface)
	if !ok {
		writeJSON(c, http.StatusConflict, errorResp{Error: "surface is not driven over HTTP"})
		return nil, false
	}
	return b, true
}

func (r *Router) handleSignal(c *gin.Context) {
	b, ok := r.bridgeSurface(c)
	if !ok {
		return
	}
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	kind, err := surface.ParseKind(req.Kind)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	sig := surface.Signal{Kind: kind, URL: req.URL, Err: signalError(req.Error), Hint: req.Hint}
	if err := b.Deliver(sig); err != nil {
		writeJSON(c, http.StatusGone, errorResp{Error: err.Error()})
		return
	}
	st, _ := r.mgr.Status(b.ID())
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleCommands(c *gin.Context) {
	b, ok := r.bridgeSurface(c)
	if !ok {
		return
	}
	wait := defaultCommandWait
	if ws := c.Query("wait"); ws != "" {
		d, err := time.ParseDuration(ws)
		if err != nil || d < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid wait duration"})
			return
		}
		wait = min(d, maxCommandWait)
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	cmd, err := b.Next(ctx)
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, cmd)
	case errors.Is(err, bridge.ErrClosed):
		writeJSON(c, http.StatusGone, errorResp{Error: err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

func (r *Router) handleReports(c *gin.Context) {
	limit := 0
	if ls := c.Query("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a non-negative number"})
			return
		}
		limit = n
	}
	reps := r.mgr.Reports(limit)
	out := make([]map[string]any, 0, len(reps))
	for _, rep := range reps {
		out = append(out, rep.Plain())
	}
	writeJSON(c, http.StatusOK, out)
}
