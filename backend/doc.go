// Package backend holds the set of configured remote worker endpoints and
// their health state. The Registry is constructed once at startup, injected
// into the dispatcher and coordinator, and mutated only through its own
// methods; health transitions follow a small state machine
// (healthy -> degraded -> unavailable -> degraded -> healthy) with a
// cool-down before an unavailable backend re-enters probation.
package backend
