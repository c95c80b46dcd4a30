package responder

import "fmt"

// Event identifies which stage of a request the handler is being asked about.
type Event int

const (
	// EventAuth is delivered first. Any verdict other than True answers 401.
	EventAuth Event = iota
	// EventRequest is delivered once auth passed. The handler writes its
	// response through the Conn.
	EventRequest
)

func (e Event) String() string {
	switch e {
	case EventAuth:
		return "auth"
	case EventRequest:
		return "request"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Verdict is the handler's tri-state answer to an event.
type Verdict int

const (
	// False means the event was not handled (request: 404).
	False Verdict = iota
	// True means the event was handled affirmatively.
	True
	// Reject means the event was handled negatively (request: 403).
	Reject
)

func (v Verdict) String() string {
	switch v {
	case False:
		return "false"
	case True:
		return "true"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Handler is called once per event of every request, always from inside
// a worker's Poll call.
type Handler func(c *Conn, ev Event) Verdict
