package client

import "time"

// AttachRequest asks the daemon to create and supervise a bridge surface.
type AttachRequest struct {
	ID       string `json:"id" yaml:"id"`
	HomeURL  string `json:"home_url,omitempty" yaml:"home_url"`
	Recovery string `json:"recovery,omitempty" yaml:"recovery"`
}

// SignalRequest reports one navigation event of a surface.
type SignalRequest struct {
	Kind  string `json:"kind" yaml:"kind"`
	URL   string `json:"url,omitempty" yaml:"url"`
	Error string `json:"error,omitempty" yaml:"error"`
	Hint  string `json:"hint,omitempty" yaml:"hint"`
}

// SurfaceStatus mirrors the daemon's per-surface status.
type SurfaceStatus struct {
	SurfaceID string `json:"surface_id" yaml:"surface_id"`
	Attached  bool   `json:"attached" yaml:"attached"`
	State     string `json:"state" yaml:"state"`
	LastURL   string `json:"last_url,omitempty" yaml:"last_url"`
	Incidents int    `json:"incidents" yaml:"incidents"`
	Pending   bool   `json:"pending" yaml:"pending"`
}

// Command is a navigation action the host must perform.
type Command struct {
	Kind     string    `json:"kind" yaml:"kind"`
	URL      string    `json:"url" yaml:"url"`
	IssuedAt time.Time `json:"issued_at" yaml:"issued_at"`
}

// Report is a crash report in its plain wire form.
type Report struct {
	IncidentID        string  `json:"incidentId" yaml:"incidentId"`
	SurfaceID         string  `json:"surfaceId" yaml:"surfaceId"`
	Timestamp         string  `json:"timestamp" yaml:"timestamp"`
	TerminationReason string  `json:"terminationReason" yaml:"terminationReason"`
	RecoveryAttempted bool    `json:"recoveryAttempted" yaml:"recoveryAttempted"`
	RecoverySucceeded bool    `json:"recoverySucceeded" yaml:"recoverySucceeded"`
	PreviousURL       *string `json:"previousUrl" yaml:"previousUrl"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error" yaml:"error"`
}
