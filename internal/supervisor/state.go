package supervisor

import "fmt"

// State is the supervisory state of one render surface.
type State int

const (
	Idle State = iota
	Attached
	Recovering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attached:
		return "attached"
	case Recovering:
		return "recovering"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets State appear as its name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// States lists every state, in declaration order.
func States() []State { return []State{Idle, Attached, Recovering} }

type transition struct {
	from, to State
}
