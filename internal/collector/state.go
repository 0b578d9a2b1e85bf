// Package collector maintains the browser session against the live
// feed and harvests raw items from it.
package collector

// State is the session lifecycle state.
type State string

// Session states, in rough lifecycle order. Failed is terminal.
const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateActive          State = "active"
	StateDegraded        State = "degraded"
	StateRecovering      State = "recovering"
	StateFailed          State = "failed"
)

// AllStates lists every session state, for gauge registration.
var AllStates = []string{
	string(StateUnauthenticated),
	string(StateAuthenticating),
	string(StateActive),
	string(StateDegraded),
	string(StateRecovering),
	string(StateFailed),
}
