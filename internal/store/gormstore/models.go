package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// PendingInvoice mirrors the pending_invoices table. A row exists only while
// the payment awaits gateway confirmation; deletion is the "paid" signal.
type PendingInvoice struct {
	DonationID        string         `gorm:"primaryKey"`
	ProjectID         string         `gorm:"not null;index:idx_pending_project"`
	AmountUnits       int64          `gorm:"not null"`
	ExternalReference string         `gorm:"not null"`
	Status            string         `gorm:"not null;default:pending"`
	Metadata          datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt         time.Time      `gorm:"not null"`
}

func (PendingInvoice) TableName() string { return "pending_invoices" }
