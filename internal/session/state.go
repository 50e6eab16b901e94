package session

import "fmt"

// State is the lifecycle state of a Session.
type State int

const (
	// StateUnknown is the state before the session probe finished.
	StateUnknown State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name as written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unknown":
		*s = StateUnknown
	case "anonymous":
		*s = StateAnonymous
	case "authenticated":
		*s = StateAuthenticated
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}
