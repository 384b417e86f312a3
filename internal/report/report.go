package report

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/loykin/rendersup/internal/surface"
)

// TerminationReason is the best-effort classification of a renderer loss.
type TerminationReason string

const (
	ReasonUnresponsive  TerminationReason = "unresponsive"
	ReasonProcessKilled TerminationReason = "process_killed"
	ReasonOutOfMemory   TerminationReason = "out_of_memory"
	ReasonUnknown       TerminationReason = "unknown"
)

// ParseReason maps a host hint onto a known reason; anything else is Unknown.
func ParseReason(s string) TerminationReason {
	switch TerminationReason(strings.ToLower(strings.TrimSpace(s))) {
	case ReasonUnresponsive:
		return ReasonUnresponsive
	case ReasonProcessKilled:
		return ReasonProcessKilled
	case ReasonOutOfMemory:
		return ReasonOutOfMemory
	default:
		return ReasonUnknown
	}
}

// Classify derives a termination reason from the signal that revealed it.
// An explicit host hint wins over the wrapped failure reason.
func Classify(sig surface.Signal) TerminationReason {
	if r := ParseReason(sig.Hint); r != ReasonUnknown {
		return r
	}
	switch {
	case sig.Err == nil:
		return ReasonUnknown
	case errors.Is(sig.Err, surface.ErrOutOfMemory):
		return ReasonOutOfMemory
	case errors.Is(sig.Err, surface.ErrUnresponsive):
		return ReasonUnresponsive
	case errors.Is(sig.Err, surface.ErrProcessKilled):
		return ReasonProcessKilled
	}
	return ReasonUnknown
}

// CrashReport describes one renderer crash incident and its recovery outcome.
type CrashReport struct {
	IncidentID        string
	SurfaceID         string
	Timestamp         time.Time
	Reason            TerminationReason
	RecoveryAttempted bool
	RecoverySucceeded bool
	// PreviousURL is the last successfully loaded page, nil when none.
	PreviousURL *string
}

// plain is the wire shape used on every bridge boundary.
type plain struct {
	IncidentID        string  `json:"incidentId"`
	SurfaceID         string  `json:"surfaceId"`
	Timestamp         string  `json:"timestamp"`
	TerminationReason string  `json:"terminationReason"`
	RecoveryAttempted bool    `json:"recoveryAttempted"`
	RecoverySucceeded bool    `json:"recoverySucceeded"`
	PreviousURL       *string `json:"previousUrl"`
}

func (r CrashReport) toPlain() plain {
	p := plain{
		IncidentID:        r.IncidentID,
		SurfaceID:         r.SurfaceID,
		Timestamp:         r.Timestamp.UTC().Format(time.RFC3339Nano),
		TerminationReason: string(r.Reason),
		RecoveryAttempted: r.RecoveryAttempted,
		RecoverySucceeded: r.RecoverySucceeded,
	}
	if r.PreviousURL != nil {
		u := *r.PreviousURL
		p.PreviousURL = &u
	}
	return p
}

func (r CrashReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toPlain())
}

func (r *CrashReport) UnmarshalJSON(b []byte) error {
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return err
	}
	*r = CrashReport{
		IncidentID:        p.IncidentID,
		SurfaceID:         p.SurfaceID,
		Timestamp:         ts,
		Reason:            ParseReason(p.TerminationReason),
		RecoveryAttempted: p.RecoveryAttempted,
		RecoverySucceeded: p.RecoverySucceeded,
		PreviousURL:       p.PreviousURL,
	}
	return nil
}

// Plain returns the report as a map of strings, booleans and nil only.
func (r CrashReport) Plain() map[string]any {
	p := r.toPlain()
	var prev any
	if p.PreviousURL != nil {
		prev = *p.PreviousURL
	}
	return map[string]any{
		"incidentId":        p.IncidentID,
		"surfaceId":         p.SurfaceID,
		"timestamp":         p.Timestamp,
		"terminationReason": p.TerminationReason,
		"recoveryAttempted": p.RecoveryAttempted,
		"recoverySucceeded": p.RecoverySucceeded,
		"previousUrl":       prev,
	}
}

// Outcome names the recovery result for logs and metric labels.
func (r CrashReport) Outcome() string {
	switch {
	case !r.RecoveryAttempted:
		return "skipped"
	case r.RecoverySucceeded:
		return "succeeded"
	default:
		return "failed"
	}
}

// PrevURL returns PreviousURL or "" when absent.
func (r CrashReport) PrevURL() string {
	if r.PreviousURL == nil {
		return ""
	}
	return *r.PreviousURL
}
