package funding

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the funding service and its stores.
var (
	ErrUnknownProject       = errors.New("unknown project")
	ErrProjectNotActive     = errors.New("project not in active set")
	ErrProjectExists        = errors.New("project already exists")
	ErrNoQueuedProject      = errors.New("no queued project for owner")
	ErrLockContention       = errors.New("project record lock contention")
	ErrUnknownInvoice       = errors.New("unknown pending invoice")
	ErrInvoiceExists        = errors.New("pending invoice already exists")
	ErrInvalidProjectID     = errors.New("invalid project id")
	ErrInvalidOwnerID       = errors.New("invalid owner id")
	ErrInvalidDonationID    = errors.New("invalid donation id")
	ErrInvalidAmountUnits   = errors.New("invalid amount units")
	ErrInvalidRecordType    = errors.New("invalid record type")
	ErrInvalidRecord        = errors.New("invalid ledger record")
	ErrInvalidTargetAmount  = errors.New("invalid target amount")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
