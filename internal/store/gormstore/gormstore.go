package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/fundraise/pkg/funding"
)

const (
	constraintPendingInvoicePrimary = "pending_invoices_pkey"
	defaultMetadataJSON             = "{}"
	pgUniqueViolationCode           = "23505"
	sqliteConstraintCode            = 19
	errorOperationStore             = "store"
	errorSubjectInvoice             = "invoice"
	errorCodeCreate                 = "create"
	errorCodeDuplicate              = "duplicate"
	errorCodeGet                    = "get"
	errorCodeDelete                 = "delete"
	errorCodeUnknown                = "unknown"
)

// Store implements funding.InvoiceStore using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create records a payment request awaiting confirmation.
func (store *Store) Create(ctx context.Context, invoice funding.PendingInvoice) error {
	model := PendingInvoice{
		DonationID:        invoice.DonationID,
		ProjectID:         invoice.ProjectID,
		AmountUnits:       invoice.Amount,
		ExternalReference: invoice.ExternalReference,
		Status:            invoice.Status,
		Metadata:          datatypes.JSON([]byte(defaultMetadataJSON)),
		CreatedAt:         invoice.CreatedAt,
	}
	if model.Status == "" {
		model.Status = "pending"
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isDuplicateInvoice(err) {
		return wrapStoreError(errorCodeDuplicate, funding.ErrInvoiceExists)
	}
	if err != nil {
		return wrapStoreError(errorCodeCreate, err)
	}
	return nil
}

// Get answers the status-polling question: is this donation still pending?
func (store *Store) Get(ctx context.Context, donationID funding.DonationID) (funding.PendingInvoice, error) {
	var model PendingInvoice
	err := store.db.WithContext(ctx).
		Where("donation_id = ?", donationID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return funding.PendingInvoice{}, wrapStoreError(errorCodeUnknown, funding.ErrUnknownInvoice)
		}
		return funding.PendingInvoice{}, wrapStoreError(errorCodeGet, err)
	}
	return funding.PendingInvoice{
		DonationID:        model.DonationID,
		ProjectID:         model.ProjectID,
		Amount:            model.AmountUnits,
		ExternalReference: model.ExternalReference,
		Status:            model.Status,
		CreatedAt:         model.CreatedAt,
	}, nil
}

// Delete removes a confirmed invoice. Deleting an unknown donation id is
// reported so the caller can tell a duplicate delivery from a first one.
func (store *Store) Delete(ctx context.Context, donationID funding.DonationID) error {
	result := store.db.WithContext(ctx).
		Where("donation_id = ?", donationID.String()).
		Delete(&PendingInvoice{})
	if result.Error != nil {
		return wrapStoreError(errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorCodeUnknown, funding.ErrUnknownInvoice)
	}
	return nil
}

func wrapStoreError(code string, err error) error {
	return funding.WrapError(errorOperationStore, errorSubjectInvoice, code, err)
}

func isDuplicateInvoice(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintPendingInvoicePrimary
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
