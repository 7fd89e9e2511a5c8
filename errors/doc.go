// Package errors provides the coded error taxonomy used across courier.
//
// Every component boundary (bus handlers, agent dispatch, skill execution,
// sandboxed processes) converts failures into an *Error carrying a code and
// a category, so callers can decide whether to retry, report or drop.
//
// # Categories
//
//   - Transient: temporary failures where retry may succeed
//   - Permanent: retry will not help (unknown agent, denied command)
//   - Resource: sandbox limits and spawn failures
//   - Internal: recovered panics and corrupted state
//
// # Usage
//
//	err := errors.UnknownAgent("ghost")
//	if errors.Is(err, errors.ErrCodeUnknownAgent) {
//	    // report to the user
//	}
package errors
