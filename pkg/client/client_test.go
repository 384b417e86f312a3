package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/rendersup/internal/manager"
	"github.com/loykin/rendersup/internal/server"
	"github.com/loykin/rendersup/internal/supervisor"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := manager.NewManager(supervisor.Options{GraceWindow: time.Minute, Logger: quiet})
	srv := httptest.NewServer(server.NewRouter(mgr, "/api").WithLogger(quiet).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return New(Config{BaseURL: srv.URL + "/api", Logger: quiet})
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.True(t, c.IsReachable(ctx))

	st, err := c.Attach(ctx, AttachRequest{ID: "main", HomeURL: "https://home"})
	require.NoError(t, err)
	assert.Equal(t, "attached", st.State)

	_, err = c.Attach(ctx, AttachRequest{ID: "main"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	_, err = c.Signal(ctx, "main", SignalRequest{Kind: "process_terminated", Hint: "process_killed"})
	require.NoError(t, err)

	cmd, err := c.NextCommand(ctx, "main", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "load", cmd.Kind)
	assert.Equal(t, "https://home", cmd.URL)

	_, err = c.NextCommand(ctx, "main", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoCommand)

	st, err = c.Signal(ctx, "main", SignalRequest{Kind: "did_finish_load", URL: "https://home"})
	require.NoError(t, err)
	assert.Equal(t, "attached", st.State)
	assert.Equal(t, 1, st.Incidents)

	reps, err := c.Reports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, "process_killed", reps[0].TerminationReason)
	assert.True(t, reps[0].RecoverySucceeded)
	assert.Nil(t, reps[0].PreviousURL)

	sts, err := c.List(ctx, "ma*")
	require.NoError(t, err)
	assert.Len(t, sts, 1)

	require.NoError(t, c.Detach(ctx, "main"))
	_, err = c.Status(ctx, "main")
	assert.Error(t, err)
}

func TestClientUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 200 * time.Millisecond, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Reports(context.Background(), 0)
	assert.Error(t, err)
}

func TestStreamReports(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := c.Attach(ctx, AttachRequest{ID: "s"})
	require.NoError(t, err)

	got := make(chan Report, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.StreamReports(ctx, func(r Report) error {
			got <- r
			return ErrStopStream
		})
	}()

	// keep crashing until the stream is connected and sees a report
	deadline := time.After(2 * time.Second)
	for {
		// without a recovery target a crash leaves the surface idle until the next load starts
		_, err := c.Signal(ctx, "s", SignalRequest{Kind: "did_start_load"})
		require.NoError(t, err)
		_, err = c.Signal(ctx, "s", SignalRequest{Kind: "did_fail_load", Error: "unresponsive"})
		require.NoError(t, err)
		select {
		case r := <-got:
			assert.Equal(t, "s", r.SurfaceID)
			assert.Equal(t, "unresponsive", r.TerminationReason)
			assert.ErrorIs(t, <-errCh, ErrStopStream)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no report streamed")
		}
	}
}
