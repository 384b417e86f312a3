package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/rendersup/internal/manager"
	"github.com/loykin/rendersup/internal/server"
	"github.com/loykin/rendersup/internal/supervisor"
)

func startDaemon(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := manager.NewManager(supervisor.Options{GraceWindow: time.Minute, Logger: quiet})
	srv := httptest.NewServer(server.NewRouter(mgr, "/api").WithLogger(quiet).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv.URL + "/api"
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHelpMentionsCommands(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "status", "reports", "attach", "detach", "signal"} {
		assert.Contains(t, out, name)
	}
}

func TestClientCommandsAgainstDaemon(t *testing.T) {
	api := startDaemon(t)

	out, err := run(t, "attach", "--id", "main", "--home-url", "https://home", "--api-url", api, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "attached"`)

	_, err = run(t, "signal", "--id", "main", "--kind", "did_finish_load", "--url", "https://a", "--api-url", api, "-o", "json")
	require.NoError(t, err)
	out, err = run(t, "signal", "--id", "main", "--kind", "process_terminated", "--hint", "unresponsive", "--api-url", api, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "recovering"`)

	// the host never reports back; the recovery stays open until detach
	out, err = run(t, "status", "--api-url", api, "-o", "json")
	require.NoError(t, err)
	var sts []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &sts))
	require.Len(t, sts, 1)
	assert.Equal(t, "recovering", sts[0]["state"])

	out, err = run(t, "detach", "--id", "main", "--api-url", api, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "detached main")

	out, err = run(t, "reports", "--api-url", api, "-o", "json")
	require.NoError(t, err)
	var reps []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &reps))
	require.Len(t, reps, 1)
	assert.Equal(t, "unresponsive", reps[0]["terminationReason"])
	assert.Equal(t, true, reps[0]["recoveryAttempted"])
	assert.Equal(t, false, reps[0]["recoverySucceeded"])
}

func TestTableAndYAMLOutput(t *testing.T) {
	api := startDaemon(t)

	out, err := run(t, "status", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "No surfaces supervised")

	_, err = run(t, "attach", "--id", "kiosk", "--api-url", api)
	require.NoError(t, err)
	out, err = run(t, "status", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "kiosk")
	assert.Contains(t, strings.ToUpper(out), "INCIDENTS")

	_, err = run(t, "signal", "--id", "kiosk", "--kind", "process_terminated", "--api-url", api)
	require.NoError(t, err)
	out, err = run(t, "reports", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")

	out, err = run(t, "reports", "--api-url", api, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "terminationReason: unknown")

	_, err = run(t, "status", "--api-url", api, "-o", "xml")
	assert.Error(t, err)
}

func TestCommandErrors(t *testing.T) {
	api := startDaemon(t)
	_, err := run(t, "attach", "--api-url", api, "-o", "json")
	assert.Error(t, err, "missing --id")
	_, err = run(t, "status", "--id", "ghost", "--api-url", api, "-o", "json")
	assert.Error(t, err)
	_, err = run(t, "signal", "--id", "ghost", "--kind", "did_start_load", "--api-url", api, "-o", "json")
	assert.Error(t, err)
}

func TestServeNonBlocking(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "rendersup.toml")
	data := `
[server]
listen = "127.0.0.1:0"

[metrics]
enabled = false

[history]
dsns = ["sqlite://` + filepath.ToSlash(filepath.Join(dir, "history.db")) + `"]

[[surfaces]]
id = "main"
home_url = "https://home"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(data), 0o644))
	var stderr bytes.Buffer
	err := runServe(context.Background(), ServeFlags{ConfigPath: cfgPath, NonBlocking: true}, &stderr)
	require.NoError(t, err)
	assert.True(t, strings.Contains(stderr.String(), "Starting rendersup HTTP server"), stderr.String())
	_, err = os.Stat(filepath.Join(dir, "history.db"))
	assert.NoError(t, err)
}

func TestServeBadConfig(t *testing.T) {
	err := runServe(context.Background(), ServeFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.toml"), NonBlocking: true}, io.Discard)
	assert.Error(t, err)
}
