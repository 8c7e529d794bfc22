package funding

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing funding operation.
type OperationLog struct {
	Operation  string
	DonationID DonationID
	ProjectID  ProjectID
	Owner      OwnerID
	Donor      DonorName
	Amount     int64
	Status     string
	Error      error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithRecordTokenGenerator overrides the random token used in ledger record ids.
func WithRecordTokenGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.tokenFn = generate
		}
	}
}
