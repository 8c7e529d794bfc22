package funding

import (
	"context"
	"errors"
	"fmt"
)

// CreateProject registers a new active project with zeroed caches. A zero
// target is allowed; such a project collects donations indefinitely and never
// auto-completes.
func (service *Service) CreateProject(ctx context.Context, projectID ProjectID, owner OwnerID, title string, targetAmount int64) error {
	if targetAmount < 0 {
		return fmt.Errorf("%w: must not be negative", ErrInvalidTargetAmount)
	}
	project := Project{
		ProjectID:    projectID.String(),
		Owner:        owner.String(),
		Title:        title,
		TargetAmount: targetAmount,
		Status:       ProjectStatusActive,
	}
	operationError := service.projects.Create(ctx, project)
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateProject,
		ProjectID: projectID,
		Owner:     owner,
		Amount:    targetAmount,
		Error:     operationError,
	})
	return operationError
}

// ProjectView returns a project's cached record and which set it lives in.
func (service *Service) ProjectView(ctx context.Context, projectID ProjectID) (Project, ProjectLocation, error) {
	return service.projects.Find(ctx, projectID)
}

// TrackInvoice records a payment request awaiting gateway confirmation.
func (service *Service) TrackInvoice(ctx context.Context, invoice PendingInvoice) error {
	operationError := service.invoices.Create(ctx, invoice)
	donationID, idErr := NewDonationID(invoice.DonationID)
	if idErr != nil {
		donationID = DonationID{}
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationTrackInvoice,
		DonationID: donationID,
		Amount:     invoice.Amount,
		Error:      operationError,
	})
	return operationError
}

// InvoicePending reports whether a donation id still awaits confirmation.
// Absence of the row is the canonical "paid" signal.
func (service *Service) InvoicePending(ctx context.Context, donationID DonationID) (bool, error) {
	_, err := service.invoices.Get(ctx, donationID)
	if errors.Is(err, ErrUnknownInvoice) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordSiteDistribution appends a distribution_from_site_income record.
// Distributions are recipient-level income and carry no project id, so they
// never feed project balances; they exist for the monthly audit rollups.
func (service *Service) RecordSiteDistribution(ctx context.Context, recipientName string, amount AmountUnits, notes string, processedBy string) error {
	record := LedgerRecord{
		ID:            service.newRecordID(),
		Timestamp:     service.timestamp(),
		Type:          RecordTypeDistribution,
		Amount:        amount.Int64(),
		RecipientName: recipientName,
		Notes:         notes,
		System:        systemName,
		ProcessedBy:   processedBy,
	}
	operationError := service.ledger.Append(ctx, record)
	if operationError != nil {
		operationError = WrapError(operationDistribute, "ledger", "append", operationError)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationDistribute,
		Amount:    amount.Int64(),
		Error:     operationError,
	})
	return operationError
}

// LedgerSummary folds the full ledger into per-month, per-type totals.
func (service *Service) LedgerSummary(ctx context.Context) (map[string]map[RecordType]int64, error) {
	records, err := service.ledger.Load(ctx)
	if err != nil {
		return nil, WrapError(operationReconcile, "ledger", "load", err)
	}
	return MonthlyTotals(records), nil
}

// Reconcile rebuilds every active project's cached fields from the ledger.
// This is the operational remedy after partial webhook failures: the ledger
// is the source of truth, so caches can always be replayed. Completion checks
// run as part of the pass so a project left past its goal settles too.
func (service *Service) Reconcile(ctx context.Context) error {
	projects, err := service.projects.ListActive(ctx)
	if err != nil {
		return WrapError(operationReconcile, "project", "list", err)
	}
	records, err := service.ledger.Load(ctx)
	if err != nil {
		return WrapError(operationReconcile, "ledger", "load", err)
	}
	var firstError error
	for _, project := range projects {
		projectID, idErr := NewProjectID(project.ProjectID)
		if idErr != nil {
			service.logOperation(ctx, OperationLog{
				Operation: operationReconcile,
				Error:     WrapError(operationReconcile, "project", "id", idErr),
			})
			continue
		}
		updated, updateErr := service.projects.UpdateActive(ctx, projectID, func(current Project) (Project, error) {
			current.CurrentAmount = ComputeBalance(records, projectID)
			current.SupportersCount = CountSupporters(records, projectID)
			return current, nil
		})
		if errors.Is(updateErr, ErrProjectNotActive) {
			continue
		}
		if updateErr != nil {
			if firstError == nil {
				firstError = WrapError(operationReconcile, "project", "update", updateErr)
			}
			service.logOperation(ctx, OperationLog{
				Operation: operationReconcile,
				ProjectID: projectID,
				Error:     updateErr,
			})
			continue
		}
		if completionErr := service.checkCompletion(ctx, projectID, updated); completionErr != nil && firstError == nil {
			firstError = completionErr
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationReconcile,
		Error:     firstError,
	})
	return firstError
}
