package session

import "fmt"

// State is the connection state of a Session.
type State uint8

const (
	// Idle is the initial state. No channel is attached.
	Idle State = iota
	// Connecting means a channel is attached but not open yet.
	Connecting
	// Connected means the channel is open. Messages can be sent.
	Connected
	// Closed is terminal: the session was closed normally.
	Closed
	// Error is terminal: the session failed. Status().Err holds the cause.
	Error
)

var stateNames = [...]string{
	Idle:       "idle",
	Connecting: "connecting",
	Connected:  "connected",
	Closed:     "closed",
	Error:      "error",
}

// String returns a lowercase name for logs.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Terminal reports whether the session can no longer change state.
func (s State) Terminal() bool {
	return s == Closed || s == Error
}
