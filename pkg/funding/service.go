package funding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service coordinates the donation ledger, the per-project record store, and
// the pending-invoice tracker. It is the single entry point for confirmed
// payments arriving from the gateway webhook.
type Service struct {
	ledger   LedgerStore
	projects ProjectStore
	invoices InvoiceStore
	nowFn    func() time.Time
	tokenFn  func() string
	logger   OperationLogger
}

// Confirmation carries one confirmed payment from the gateway callback.
// Signature validation happens before this point.
type Confirmation struct {
	DonationID    DonationID
	ProjectID     ProjectID
	Amount        AmountUnits
	DonorName     DonorName
	DonorMessage  string
	PaymentMethod string
}

// NewService wires a Service.
func NewService(ledger LedgerStore, projects ProjectStore, invoices InvoiceStore, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if projects == nil {
		return nil, fmt.Errorf("%w: project store dependency is nil", ErrInvalidServiceConfig)
	}
	if invoices == nil {
		return nil, fmt.Errorf("%w: invoice store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		ledger:   ledger,
		projects: projects,
		invoices: invoices,
		nowFn:    now,
		tokenFn:  uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ConfirmDonation appends the donation to the ledger, reconciles the target
// project, and removes the matching pending invoice. Only a ledger append
// failure or exhausted lock retries surface as errors; everything downstream
// of a durable append is best-effort and logged, since the money is already
// recorded and a reconciliation pass can rebuild every cache from the ledger.
func (service *Service) ConfirmDonation(ctx context.Context, confirmation Confirmation) error {
	timestamp := service.timestamp()
	record := LedgerRecord{
		ID:            service.newRecordID(),
		Timestamp:     timestamp,
		Type:          RecordTypeDonation,
		Amount:        confirmation.Amount.Int64(),
		ProjectID:     confirmation.ProjectID.String(),
		DonorName:     confirmation.DonorName.String(),
		DonorMessage:  confirmation.DonorMessage,
		PaymentMethod: confirmation.PaymentMethod,
		System:        systemName,
	}
	if err := service.ledger.Append(ctx, record); err != nil {
		wrapped := WrapError(operationConfirm, "ledger", "append", err)
		service.logOperation(ctx, OperationLog{
			Operation:  operationConfirm,
			DonationID: confirmation.DonationID,
			ProjectID:  confirmation.ProjectID,
			Donor:      confirmation.DonorName,
			Amount:     confirmation.Amount.Int64(),
			Error:      wrapped,
		})
		return wrapped
	}

	entry := DonationEntry{
		Donor:     confirmation.DonorName.String(),
		Message:   confirmation.DonorMessage,
		Amount:    confirmation.Amount.Int64(),
		Timestamp: timestamp,
	}
	applyError := service.applyDonation(ctx, confirmation.ProjectID, entry)

	if !confirmation.DonationID.IsZero() {
		if err := service.invoices.Delete(ctx, confirmation.DonationID); err != nil && !errors.Is(err, ErrUnknownInvoice) {
			service.logOperation(ctx, OperationLog{
				Operation:  operationTrackInvoice,
				DonationID: confirmation.DonationID,
				ProjectID:  confirmation.ProjectID,
				Error:      WrapError(operationConfirm, "invoice", "delete", err),
			})
		}
	}

	service.logOperation(ctx, OperationLog{
		Operation:  operationConfirm,
		DonationID: confirmation.DonationID,
		ProjectID:  confirmation.ProjectID,
		Donor:      confirmation.DonorName,
		Amount:     confirmation.Amount.Int64(),
		Error:      applyError,
	})
	return applyError
}

// applyDonation runs the locked update cycle for one ledger-recorded amount
// and then checks goal attainment. A project missing from the active set is
// the completion race, not an error: the amount is rerouted to the owner's
// next queued project.
func (service *Service) applyDonation(ctx context.Context, projectID ProjectID, entry DonationEntry) error {
	updated, err := service.projects.UpdateActive(ctx, projectID, func(project Project) (Project, error) {
		records, loadErr := service.ledger.Load(ctx)
		if loadErr != nil {
			return Project{}, loadErr
		}
		project.CurrentAmount = ComputeBalance(records, projectID)
		project.SupportersCount = CountSupporters(records, projectID)
		project.RecentDonations = spliceDonation(project.RecentDonations, entry)
		return project, nil
	})
	if errors.Is(err, ErrProjectNotActive) || errors.Is(err, ErrUnknownProject) {
		return service.rerouteDonation(ctx, projectID, entry)
	}
	if err != nil {
		wrapped := WrapError(operationConfirm, "project", "update", err)
		if errors.Is(err, ErrLockContention) {
			return wrapped
		}
		// The amount is durably in the ledger; a failed visual update is
		// recoverable by a reconciliation pass.
		service.logOperation(ctx, OperationLog{
			Operation: operationConfirm,
			ProjectID: projectID,
			Amount:    entry.Amount,
			Error:     wrapped,
		})
		return nil
	}
	if completionErr := service.checkCompletion(ctx, projectID, updated); completionErr != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationComplete,
			ProjectID: projectID,
			Error:     completionErr,
		})
	}
	return nil
}

// rerouteDonation handles a donation whose target project was completed and
// relocated before this update could run. The completed record still carries
// ownership, which resolves the next queued project; the entire amount is
// redirected there because none of it could be applied to the original target.
func (service *Service) rerouteDonation(ctx context.Context, projectID ProjectID, entry DonationEntry) error {
	found, location, err := service.projects.Find(ctx, projectID)
	if err != nil || location != LocationCompleted {
		service.logOperation(ctx, OperationLog{
			Operation: operationRollover,
			ProjectID: projectID,
			Amount:    entry.Amount,
			Status:    operationStatusUnassigned,
			Error:     WrapError(operationRollover, "project", "find", ErrUnknownProject),
		})
		return nil
	}
	owner, ownerErr := NewOwnerID(found.Owner)
	if ownerErr != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationRollover,
			ProjectID: projectID,
			Amount:    entry.Amount,
			Status:    operationStatusUnassigned,
			Error:     WrapError(operationRollover, "project", "owner", ownerErr),
		})
		return nil
	}
	return service.rolloverAmount(ctx, owner, projectID, entry.Amount)
}

// checkCompletion fires the active -> completed transition once the
// ledger-derived balance reaches a positive target. Relocation is the
// linearization point: of two racing completions only the one whose rename
// succeeds appends the excess rollover.
func (service *Service) checkCompletion(ctx context.Context, projectID ProjectID, project Project) error {
	if project.TargetAmount <= 0 || project.CurrentAmount < project.TargetAmount {
		return nil
	}
	_, err := service.projects.UpdateActive(ctx, projectID, func(current Project) (Project, error) {
		current.Status = ProjectStatusCompleted
		return current, nil
	})
	if errors.Is(err, ErrProjectNotActive) {
		// Another delivery already completed this project.
		return nil
	}
	if err != nil {
		return WrapError(operationComplete, "project", "update", err)
	}
	if err := service.projects.Relocate(ctx, projectID); err != nil {
		if errors.Is(err, ErrProjectNotActive) {
			return nil
		}
		service.logOperation(ctx, OperationLog{
			Operation: operationComplete,
			ProjectID: projectID,
			Error:     WrapError(operationComplete, "project", "relocate", err),
		})
		return nil
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationComplete,
		ProjectID: projectID,
		Amount:    project.CurrentAmount,
	})

	excess := project.CurrentAmount - project.TargetAmount
	if excess == 0 {
		return nil
	}
	owner, ownerErr := NewOwnerID(project.Owner)
	if ownerErr != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationRollover,
			ProjectID: projectID,
			Amount:    excess,
			Status:    operationStatusUnassigned,
			Error:     WrapError(operationRollover, "project", "owner", ownerErr),
		})
		return nil
	}
	return service.rolloverAmount(ctx, owner, projectID, excess)
}

// rolloverAmount appends a rollover record crediting the owner's next queued
// project and recurses the locked update cycle on it, so that an overflow
// landing on an already-full project chains onward without losing a unit. If
// the owner has no further queued project the amount stays recorded in the
// ledger and the condition is logged for administrative follow-up.
func (service *Service) rolloverAmount(ctx context.Context, owner OwnerID, fromProject ProjectID, amount int64) error {
	next, err := service.projects.NextActive(ctx, owner, fromProject)
	if err != nil {
		status := operationStatusError
		if errors.Is(err, ErrNoQueuedProject) {
			status = operationStatusUnassigned
		}
		service.logOperation(ctx, OperationLog{
			Operation: operationRollover,
			ProjectID: fromProject,
			Owner:     owner,
			Amount:    amount,
			Status:    status,
			Error:     WrapError(operationRollover, "project", "next", err),
		})
		return nil
	}
	nextID, idErr := NewProjectID(next.ProjectID)
	if idErr != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationRollover,
			ProjectID: fromProject,
			Owner:     owner,
			Amount:    amount,
			Status:    operationStatusError,
			Error:     WrapError(operationRollover, "project", "id", idErr),
		})
		return nil
	}
	timestamp := service.timestamp()
	record := LedgerRecord{
		ID:        service.newRecordID(),
		Timestamp: timestamp,
		Type:      RecordTypeRollover,
		Amount:    amount,
		ProjectID: nextID.String(),
		DonorName: RolloverDonorName,
		Notes:     fmt.Sprintf("rolled over from project %s", fromProject.String()),
		System:    systemName,
	}
	if err := service.ledger.Append(ctx, record); err != nil {
		// The amount is still recorded under the source project's records.
		service.logOperation(ctx, OperationLog{
			Operation: operationRollover,
			ProjectID: nextID,
			Owner:     owner,
			Amount:    amount,
			Error:     WrapError(operationRollover, "ledger", "append", err),
		})
		return nil
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationRollover,
		ProjectID: nextID,
		Owner:     owner,
		Amount:    amount,
	})
	entry := DonationEntry{
		Donor:     RolloverDonorName,
		Message:   record.Notes,
		Amount:    amount,
		Timestamp: timestamp,
	}
	// Failures past this point stay internal: the rollover is already in the
	// ledger, so surfacing them would only trigger a duplicate redelivery of
	// the original donation.
	if applyErr := service.applyDonation(ctx, nextID, entry); applyErr != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationRollover,
			ProjectID: nextID,
			Owner:     owner,
			Amount:    amount,
			Error:     applyErr,
		})
	}
	return nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) newRecordID() string {
	return fmt.Sprintf("%d-%s", service.nowFn().UTC().Year(), service.tokenFn())
}

func (service *Service) timestamp() string {
	return service.nowFn().UTC().Format(time.RFC3339)
}

// spliceDonation inserts an entry at the head of the display list and
// truncates it to the cap. Display convenience only, never authoritative.
func spliceDonation(entries []DonationEntry, entry DonationEntry) []DonationEntry {
	spliced := make([]DonationEntry, 0, len(entries)+1)
	spliced = append(spliced, entry)
	spliced = append(spliced, entries...)
	if len(spliced) > recentDonationsCap {
		spliced = spliced[:recentDonationsCap]
	}
	return spliced
}
