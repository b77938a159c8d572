package autoscaler

import "fmt"

// TransientExternalError wraps a failure from a collaborator (Replica
// Manager, State Store, distributed lock) that is expected to clear on its
// own. Callers should retry on the next tick rather than treat it as fatal.
type TransientExternalError struct {
	Op  string
	Err error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("transient external error during %s: %v", e.Op, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

// InvariantViolationError signals that a replica snapshot or decision broke
// one of the invariants in the data model (I1-I6). These indicate a bug in
// the caller or a corrupted state store record, never a transient condition.
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

// ConfigurationError signals that the autoscaler was configured
// inconsistently (e.g. min > max, an unknown accelerator class, a missing
// fallback entry). It is detected at startup or config reload, never mid-tick.
type ConfigurationError struct {
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Detail)
}

// ClientError signals a malformed request into the telemetry API. HTTP
// handlers map this to a 400 response.
type ClientError struct {
	Detail string
}

func (e *ClientError) Error() string {
	return e.Detail
}

func NewClientError(format string, args ...interface{}) *ClientError {
	return &ClientError{Detail: fmt.Sprintf(format, args...)}
}
