package server

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/rendersup/internal/report"
	"github.com/loykin/rendersup/internal/surface"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeName validates surface ids used in URLs and metric labels.
// Allowed characters: A-Z a-z 0-9 . _ - and no "..".
func isSafeName(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// signalError turns the error text reported by a host into a load failure.
// Termination reason names map onto the termination sentinels so that
// DidFailLoad carrying them counts as a crash.
func signalError(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return nil
	}
	switch msg {
	case "process_terminated":
		return surface.ErrProcessTerminated
	case string(report.ReasonUnresponsive):
		return surface.ErrUnresponsive
	case string(report.ReasonOutOfMemory):
		return surface.ErrOutOfMemory
	case string(report.ReasonProcessKilled):
		return surface.ErrProcessKilled
	}
	return errors.New(msg)
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
