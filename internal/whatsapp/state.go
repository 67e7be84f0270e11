package whatsapp

import "time"

// Status is the connection lifecycle status of the single WhatsApp session.
type Status int

const (
	StatusUninitialized Status = iota
	StatusAwaitingScan
	StatusConnected
	StatusDisconnected
	StatusLoggedOut
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusAwaitingScan:
		return "awaiting_scan"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Label maps the status onto the three values exposed by the status endpoint.
func (s Status) Label() string {
	switch s {
	case StatusAwaitingScan:
		return "scanning"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Identity of the linked account once the session is open.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (i Identity) IsZero() bool {
	return i.ID == "" && i.Name == ""
}

// State is the controller-owned connection state. Pairing is only set while
// AwaitingScan and Identity only while Connected. Gen identifies the session
// attempt that produced the state; events from older attempts are stale.
type State struct {
	Status   Status    `json:"status"`
	Pairing  string    `json:"pairing,omitempty"`
	Identity Identity  `json:"identity"`
	Gen      uint64    `json:"gen"`
	Since    time.Time `json:"since"`
}

// CloseReason says why a session ended.
type CloseReason int

const (
	ReasonConnectionLost CloseReason = iota
	ReasonLoggedOut
	ReasonReplaced
	ReasonPairingTimeout
	ReasonConnectFailed
	ReasonBanned
	ReasonStopped
)

func (r CloseReason) String() string {
	switch r {
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonReplaced:
		return "stream_replaced"
	case ReasonPairingTimeout:
		return "pairing_timeout"
	case ReasonConnectFailed:
		return "connect_failed"
	case ReasonBanned:
		return "temporary_ban"
	case ReasonStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EventKind classifies lifecycle events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventPairing
	EventOpened
	EventClosed
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventPairing:
		return "pairing"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a lifecycle input tagged with the session generation it came from.
type Event struct {
	Kind     EventKind
	Gen      uint64
	At       time.Time
	Code     string
	Identity Identity
	Reason   CloseReason
	Message  *InboundEvent
}

// EffectKind names a side effect requested by a transition.
type EffectKind int

const (
	EffectCloseSession EffectKind = iota
	EffectScheduleRestart
)

type Effect struct {
	Kind EffectKind
}

// Transition is the pure lifecycle transition function. It never touches a
// session; the returned effects are executed by the Controller.
func Transition(s State, ev Event) (State, []Effect) {
	if ev.Kind == EventStarted {
		next := State{Status: StatusUninitialized, Gen: s.Gen + 1, Since: ev.At}
		return next, nil
	}
	if ev.Kind == EventMessage || ev.Gen != s.Gen {
		return s, nil
	}

	closed := s.Status == StatusDisconnected || s.Status == StatusLoggedOut

	switch ev.Kind {
	case EventPairing:
		if closed || ev.Code == "" {
			return s, nil
		}
		next := State{Status: StatusAwaitingScan, Pairing: ev.Code, Gen: s.Gen, Since: s.Since}
		if s.Status != StatusAwaitingScan {
			next.Since = ev.At
		}
		return next, nil

	case EventOpened:
		if closed {
			return s, nil
		}
		return State{Status: StatusConnected, Identity: ev.Identity, Gen: s.Gen, Since: ev.At}, nil

	case EventClosed:
		if closed {
			// The session of this generation is already torn down. A late
			// logout still makes the state terminal so no restart fires.
			if ev.Reason == ReasonLoggedOut && s.Status == StatusDisconnected {
				return State{Status: StatusLoggedOut, Gen: s.Gen, Since: ev.At}, nil
			}
			return s, nil
		}
		switch ev.Reason {
		case ReasonLoggedOut:
			return State{Status: StatusLoggedOut, Gen: s.Gen, Since: ev.At},
				[]Effect{{Kind: EffectCloseSession}}
		case ReasonStopped:
			return State{Status: StatusDisconnected, Gen: s.Gen, Since: ev.At},
				[]Effect{{Kind: EffectCloseSession}}
		default:
			return State{Status: StatusDisconnected, Gen: s.Gen, Since: ev.At},
				[]Effect{{Kind: EffectCloseSession}, {Kind: EffectScheduleRestart}}
		}
	}
	return s, nil
}
