package models

// ErrorKind classifies failures crossing component boundaries. Kinds decide
// retry behavior and how much reaches the user.
type ErrorKind string

const (
	// ErrKindBadArgs: tool arguments failed schema validation. Never retried.
	ErrKindBadArgs ErrorKind = "bad_args"
	// ErrKindTransportTimeout: deadline elapsed talking to an upstream. Retriable.
	ErrKindTransportTimeout ErrorKind = "transport_timeout"
	// ErrKindUpstreamUnavailable: upstream refused or 5xx'd. Retriable.
	ErrKindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	// ErrKindSafetyBlocked: provider safety system refused. Never retried;
	// the user gets a neutral decline.
	ErrKindSafetyBlocked ErrorKind = "safety_blocked"
	// ErrKindAuthRequired: integration credentials expired. Never retried;
	// publishes a re-auth notification.
	ErrKindAuthRequired ErrorKind = "auth_required"
	// ErrKindIntegrityViolation: a write would break an internal invariant.
	ErrKindIntegrityViolation ErrorKind = "integrity_violation"
	// ErrKindInternalInvariantBroken: a "can't happen" state was observed.
	ErrKindInternalInvariantBroken ErrorKind = "internal_invariant_broken"
)

// Retriable reports whether an invocation failing with this kind may be
// retried with backoff.
func (k ErrorKind) Retriable() bool {
	return k == ErrKindTransportTimeout || k == ErrKindUpstreamUnavailable
}
