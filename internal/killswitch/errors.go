package killswitch

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by errors.Is.
var (
	ErrCreateFailed      = errors.New("create failed")
	ErrActivateFailed    = errors.New("activate failed")
	ErrDeactivateFailed  = errors.New("deactivate failed")
	ErrDeleteFailed      = errors.New("delete failed")
	ErrQueryFailed       = errors.New("state query failed")
	ErrUnsupportedAction = errors.New("unsupported action")
)

// OperationType represents the profile mutation that failed
type OperationType int

// Operation type constants
const (
	// CreateFailed indicates the profile could not be added
	CreateFailed OperationType = iota
	// ActivateFailed indicates the profile could not be brought up
	ActivateFailed
	// DeactivateFailed indicates the profile could not be brought down
	DeactivateFailed
	// DeleteFailed indicates the profile could not be removed
	DeleteFailed
)

// String returns a string representation of the operation type
func (t OperationType) String() string {
	switch t {
	case CreateFailed:
		return "CreateFailed"
	case ActivateFailed:
		return "ActivateFailed"
	case DeactivateFailed:
		return "DeactivateFailed"
	case DeleteFailed:
		return "DeleteFailed"
	default:
		return "UnknownError"
	}
}

func (t OperationType) sentinel() error {
	switch t {
	case CreateFailed:
		return ErrCreateFailed
	case ActivateFailed:
		return ErrActivateFailed
	case DeactivateFailed:
		return ErrDeactivateFailed
	case DeleteFailed:
		return ErrDeleteFailed
	default:
		return nil
	}
}

// OperationError represents a failed create/activate/deactivate/delete call
type OperationError struct {
	Type    OperationType
	Profile string // Profile name the call targeted
	Output  string // Raw diagnostic text from the network service
	Cause   error  // Underlying error
}

// Error implements the error interface for OperationError
func (oe *OperationError) Error() string {
	msg := fmt.Sprintf("kill switch operation failed [%s] for %s", oe.Type.String(), oe.Profile)
	if oe.Cause != nil {
		msg += ": " + oe.Cause.Error()
	}
	if out := strings.TrimSpace(oe.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (oe *OperationError) Unwrap() error {
	return oe.Cause
}

func (oe *OperationError) Is(target error) bool {
	return target != nil && target == oe.Type.sentinel()
}

// IsTimeout returns true if the call was abandoned after its deadline
func (oe *OperationError) IsTimeout() bool {
	return errors.Is(oe.Cause, context.DeadlineExceeded)
}

// QueryError reports that the defined or active profile sets could not be read
type QueryError struct {
	Query  string
	Output string
	Cause  error
}

func (qe *QueryError) Error() string {
	msg := fmt.Sprintf("query %s profiles: %v", qe.Query, qe.Cause)
	if out := strings.TrimSpace(qe.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (qe *QueryError) Unwrap() error {
	return qe.Cause
}

func (qe *QueryError) Is(target error) bool {
	return target == ErrQueryFailed
}

// UnsupportedActionError is returned for action values the Orchestrator
// does not recognize
type UnsupportedActionError struct {
	Value string
}

func (ue *UnsupportedActionError) Error() string {
	return fmt.Sprintf("incorrect option for kill switch manager: %q", ue.Value)
}

func (ue *UnsupportedActionError) Is(target error) bool {
	return target == ErrUnsupportedAction
}
