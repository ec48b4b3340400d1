package modem

type State uint32

const (
	StateUninitialized State = iota
	StateReady
	StateBearerOpen
	StateRequestInFlight
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateBearerOpen:
		return "bearer-open"
	case StateRequestInFlight:
		return "request-in-flight"
	case StateFaulted:
		return "faulted"
	}
	return "invalid"
}
