package surface

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Surface is an embedded web rendering surface owned by a host container.
// The supervisor keeps a non-owning reference; the host controls lifetime.
type Surface interface {
	ID() string
	// Delegate returns the navigation delegate currently installed, or nil.
	Delegate() Delegate
	SetDelegate(d Delegate)
	// Load asks the surface to navigate to url. It must not block on the
	// navigation itself; the outcome arrives later as a Signal.
	Load(url string) error
}

// Recreator is implemented by surfaces that can tear down and rebuild the
// underlying renderer before loading url.
type Recreator interface {
	Recreate(url string) error
}

// Delegate observes navigation and lifecycle signals of a surface.
type Delegate interface {
	OnSignal(sig Signal)
}

// DelegateFunc adapts a function to the Delegate interface.
type DelegateFunc func(sig Signal)

func (f DelegateFunc) OnSignal(sig Signal) { f(sig) }

// Kind enumerates navigation signal variants.
type Kind int

const (
	DidStartLoad Kind = iota + 1
	DidFinishLoad
	DidFailLoad
	ProcessTerminated
	WebContentProcessDidTerminate
)

var kindNames = map[Kind]string{
	DidStartLoad:                  "did_start_load",
	DidFinishLoad:                 "did_finish_load",
	DidFailLoad:                   "did_fail_load",
	ProcessTerminated:             "process_terminated",
	WebContentProcessDidTerminate: "web_content_process_did_terminate",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts the snake_case names produced by String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown signal kind %q", s)
}

// IsTermination reports whether k always means the renderer process is gone.
func (k Kind) IsTermination() bool {
	return k == ProcessTerminated || k == WebContentProcessDidTerminate
}

// Signal is one navigation/lifecycle event delivered by a surface.
type Signal struct {
	Kind Kind
	// URL is the page the event refers to, when known.
	URL string
	// Err carries the failure reason of DidFailLoad.
	Err error
	// Hint is an optional termination reason supplied by the host
	// (e.g. "out_of_memory"). Empty when the host cannot tell.
	Hint string
	At   time.Time
}

// Failure reasons a host can wrap into DidFailLoad to mark the loss of the
// renderer process.
var (
	ErrProcessTerminated = errors.New("renderer process terminated")
	ErrUnresponsive      = fmt.Errorf("renderer unresponsive: %w", ErrProcessTerminated)
	ErrOutOfMemory       = fmt.Errorf("renderer out of memory: %w", ErrProcessTerminated)
	ErrProcessKilled     = fmt.Errorf("renderer killed: %w", ErrProcessTerminated)
)

// IsTerminal reports whether sig signals loss of the renderer process.
func IsTerminal(sig Signal) bool {
	if sig.Kind.IsTermination() {
		return true
	}
	if sig.Kind != DidFailLoad {
		return false
	}
	return sig.Hint != "" || errors.Is(sig.Err, ErrProcessTerminated)
}
