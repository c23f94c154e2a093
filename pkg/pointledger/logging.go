package pointledger

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation string
	UserID    UserID
	Kind      CategoryKind
	Amount    int64
	Reason    string
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithLockTimeout overrides how long a consume waits for its serialization slot.
func WithLockTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.lockTimeout = timeout
		}
	}
}

// WithExpiryHorizon overrides the number of months before a lot expires.
func WithExpiryHorizon(months int) ServiceOption {
	return func(service *Service) {
		if months > 0 {
			service.expiryMonths = months
		}
	}
}
