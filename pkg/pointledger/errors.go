package pointledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger engine.
var (
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrInsufficientLotBalance   = errors.New("insufficient lot balance")
	ErrConfiguration            = errors.New("category configuration invalid")
	ErrContention               = errors.New("operation contention")
	ErrImmutableRecord          = errors.New("transaction record is immutable")
	ErrUnknownLot               = errors.New("unknown lot")
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrInvalidCategoryKind      = errors.New("invalid category kind")
	ErrInvalidReason            = errors.New("invalid reason")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidMetadataJSON      = errors.New("invalid metadata json")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
	ErrInvalidSweepScope        = errors.New("invalid sweep scope")
	ErrInvalidTransactionFilter = errors.New("invalid transaction filter")
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
