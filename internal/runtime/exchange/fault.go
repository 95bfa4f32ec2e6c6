package exchange

import (
	"errors"
	"fmt"
)

// FaultMode classifies a fault for fault-sequence units that react
// differently to application and runtime failures.
type FaultMode int

const (
	// RuntimeFault is an unexpected failure in the framework or a unit.
	RuntimeFault FaultMode = iota
	// LogicalRuntimeFault is a runtime failure raised by a logical (user) unit.
	LogicalRuntimeFault
	// CheckedApplicationFault is a declared business error of the invoked handler.
	CheckedApplicationFault
	// UncheckedApplicationFault is an undeclared error returned by the handler.
	UncheckedApplicationFault
)

func (m FaultMode) String() string {
	switch m {
	case LogicalRuntimeFault:
		return "logical-runtime"
	case CheckedApplicationFault:
		return "checked-application"
	case UncheckedApplicationFault:
		return "unchecked-application"
	default:
		return "runtime"
	}
}

// Fault is the normalised failure recorded on a carrier when a traversal is
// diverted to its fault sequence.
type Fault struct {
	Code    string            `json:"code"`
	Reason  string            `json:"reason"`
	Mode    FaultMode         `json:"-"`
	UnitID  string            `json:"unit,omitempty"`
	Phase   string            `json:"phase,omitempty"`
	Details map[string]string `json:"details,omitempty"`
	Cause   error             `json:"-"`
}

// Default fault codes.
const (
	CodeServer = "server"
	CodeClient = "client"
)

// NewFault builds a runtime fault.
func NewFault(code, reason string) *Fault {
	return &Fault{Code: code, Reason: reason}
}

// ApplicationFault marks err as a declared business error.
func ApplicationFault(code string, err error) *Fault {
	return &Fault{Code: code, Reason: err.Error(), Mode: CheckedApplicationFault, Cause: err}
}

func (f *Fault) Error() string {
	if f.UnitID != "" {
		return fmt.Sprintf("%s fault in %s/%s: %s", f.Code, f.Phase, f.UnitID, f.Reason)
	}
	return fmt.Sprintf("%s fault: %s", f.Code, f.Reason)
}

func (f *Fault) Unwrap() error { return f.Cause }

// WithDetail returns f after recording key=value.
func (f *Fault) WithDetail(key, value string) *Fault {
	if f.Details == nil {
		f.Details = make(map[string]string)
	}
	f.Details[key] = value
	return f
}

// AsFault returns the Fault in err's chain, or wraps err as a runtime fault.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Code: CodeServer, Reason: err.Error(), Mode: RuntimeFault, Cause: err}
}
