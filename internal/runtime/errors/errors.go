package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

// Configuration errors surface while phases are registered or chains are assembled.
var (
	ErrDuplicatePhase = sterrors.New("phaseflow: duplicate phase name")
	ErrPhaseOrder     = sterrors.New("phaseflow: phase keys must be strictly increasing")
	ErrUnknownPhase   = sterrors.New("phaseflow: unknown phase")
	ErrDuplicateUnit  = sterrors.New("phaseflow: duplicate unit id")
	ErrInvalidEnding  = sterrors.New("phaseflow: ending unit must target an ending phase")
	ErrUnitRequired   = sterrors.New("phaseflow: unit handler is required")
	ErrConfigRequired = sterrors.New("phaseflow: configuration is required")
	ErrLoggerRequired = sterrors.New("phaseflow: logger is required")
)

// Traversal control errors.
var (
	// ErrSuspend is returned by a unit that has started asynchronous work. The
	// traversal parks at the same cursor and re-invokes the unit on resume.
	ErrSuspend = sterrors.New("phaseflow: traversal suspended")

	ErrNotPaused      = sterrors.New("phaseflow: traversal is not paused")
	ErrNotRunning     = sterrors.New("phaseflow: traversal is not running")
	ErrAlreadyStarted = sterrors.New("phaseflow: traversal already started")
	ErrTerminated     = sterrors.New("phaseflow: traversal already terminated")
	ErrAborted        = sterrors.New("phaseflow: traversal aborted")
	ErrDoubleFault    = sterrors.New("phaseflow: fault raised while handling a fault")
	ErrUnitNotFound   = sterrors.New("phaseflow: unit not found in traversal")
	ErrPhasePassed    = sterrors.New("phaseflow: phase already passed")
	ErrNoTraversal    = sterrors.New("phaseflow: message is not bound to a traversal")
)

// Service wiring errors.
var (
	ErrServiceRequired             = sterrors.New("phaseflow: service is required")
	ErrEndpointRequired            = sterrors.New("phaseflow: endpoint name is required")
	ErrUnknownEndpoint             = sterrors.New("phaseflow: unknown endpoint")
	ErrDuplicateEndpoint           = sterrors.New("phaseflow: endpoint already registered")
	ErrHandlerRequired             = sterrors.New("phaseflow: handler function is required")
	ErrConsumeQueueRequired        = sterrors.New("phaseflow: consume queue is required")
	ErrConsumeMessageTypeRequired  = sterrors.New("phaseflow: consume message type is required")
	ErrConsumeMessagePointerNeeded = sterrors.New("phaseflow: consume message type must be a pointer")
	ErrPublisherRequired           = sterrors.New("phaseflow: publisher is required")
	ErrTopicRequired               = sterrors.New("phaseflow: topic is required")
	ErrPayloadRequired             = sterrors.New("phaseflow: message payload is required")
)

// Suspend returns the sentinel a unit hands back to park its traversal.
func Suspend() error {
	return ErrSuspend
}

// IsSuspend reports whether err asks the engine to suspend.
func IsSuspend(err error) bool {
	return sterrors.Is(err, ErrSuspend)
}

// ConfigError reports an invalid registration or assembly input. The traversal
// that would have used the configuration never starts.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Op == "" {
		return "phaseflow: invalid configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("phaseflow: invalid configuration (%s): %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a ConfigError. A nil err yields nil.
func NewConfigError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Op: op, Err: err}
}

// CycleError is returned when the ordering constraints of one phase cannot be
// satisfied. Units lists the ids that could not be placed.
type CycleError struct {
	Phase string
	Units []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("phaseflow: ordering cycle in phase %q between units [%s]", e.Phase, strings.Join(e.Units, ", "))
}

// UnhandledError carries a panic raised by a unit back to the transport caller.
type UnhandledError struct {
	UnitID string
	Phase  string
	Value  any
	Stack  []byte
}

func (e *UnhandledError) Error() string {
	return fmt.Sprintf("phaseflow: unit %s in phase %s panicked: %v", e.UnitID, e.Phase, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *UnhandledError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
