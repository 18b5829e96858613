// Package dispatch executes one gateway request end to end.
//
// A Worker splits the request payload into an action name and arguments,
// resolves the action in the read-only plugin registry and runs its handler
// with the action's configuration section. Every call yields exactly one
// response token:
//
//   - fewer than two tokens → poor (the registry is not consulted)
//   - unknown action → miss
//   - handler success → good
//   - handler failure, returned error or panic → fail
//
// Handler errors and panics are contained in the worker; a misbehaving plugin
// never takes the process down. Every failure is logged at WARN with the
// request text and the failure detail.
//
// Workers are stateless. The broker calls Handle from a fresh goroutine per
// request, so Handle is safe for unbounded concurrent use.
package dispatch
