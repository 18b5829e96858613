// Package response maps dispatch outcomes onto the four reply tokens clients
// understand.
package response

// Token is the single-frame reply sent back to a client.
type Token string

const (
	Poor Token = "poor" // request had fewer than two tokens
	Miss Token = "miss" // no handler registered for the action
	Good Token = "good" // handler succeeded
	Fail Token = "fail" // handler failed, errored or panicked
)

// Kind classifies what happened to a request.
type Kind int

const (
	MalformedRequest Kind = iota
	ActionNotFound
	Success
	Failure
)

func (k Kind) String() string {
	switch k {
	case MalformedRequest:
		return "malformed_request"
	case ActionNotFound:
		return "action_not_found"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of dispatching one request. Detail is only
// meaningful for Success and Failure.
type Outcome struct {
	Kind   Kind
	Detail string
}

// Encode returns the token for o. Anything unrecognised encodes as Fail so a
// reply is never empty.
func Encode(o Outcome) Token {
	switch o.Kind {
	case MalformedRequest:
		return Poor
	case ActionNotFound:
		return Miss
	case Success:
		return Good
	default:
		return Fail
	}
}

// Valid reports whether t is one of the four tokens.
func (t Token) Valid() bool {
	switch t {
	case Poor, Miss, Good, Fail:
		return true
	}
	return false
}

func (t Token) String() string { return string(t) }
