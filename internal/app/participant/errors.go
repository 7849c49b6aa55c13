package participant

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned when publishing outside the Running state.
var ErrNotRunning = errors.New("participant: not running")

// ConnectionError means a broker session could not be established or was lost.
type ConnectionError struct {
	Participant string
	Step        string
	Err         error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("participant %q: %s: %v", e.Participant, e.Step, e.Err)
}

// Unwrap returns the transport error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PublishError means the broker did not accept a publish. It is never retried here.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q with key %q: %v", e.Exchange, e.RoutingKey, e.Err)
}

// Unwrap returns the cause.
func (e *PublishError) Unwrap() error {
	return e.Err
}
