package funding

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AmountUnits is an integer amount in the smallest currency unit.
type AmountUnits int64

// ProjectID identifies a fundraising project. Identifiers are decimal
// strings; their numeric value orders an owner's queue.
type ProjectID struct {
	value string
}

// OwnerID identifies the recipient who owns one or more projects.
type OwnerID struct {
	value string
}

// DonationID identifies a single payment request end to end: it keys the
// pending invoice and is echoed back by the gateway webhook.
type DonationID struct {
	value string
}

// DonorName is the display identity attached to a donation.
type DonorName struct {
	value string
}

// RecordType enumerates ledger record kinds.
type RecordType string

const (
	RecordTypeDonation     RecordType = "project_donation"
	RecordTypeDistribution RecordType = "distribution_from_site_income"
	RecordTypeRollover     RecordType = "rollover"
)

// ProjectStatus defines the project lifecycle.
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
)

// ProjectLocation reports which set a project record was found in.
type ProjectLocation string

const (
	LocationActive    ProjectLocation = "active"
	LocationCompleted ProjectLocation = "completed"
)

// NewProjectID validates and normalizes a project id.
func NewProjectID(raw string) (ProjectID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ProjectID{}, fmt.Errorf("%w: empty value", ErrInvalidProjectID)
	}
	number, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || number <= 0 {
		return ProjectID{}, fmt.Errorf("%w: must be a positive decimal string", ErrInvalidProjectID)
	}
	return ProjectID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ProjectID) String() string {
	return id.value
}

// Number returns the numeric value used for queue ordering.
func (id ProjectID) Number() int64 {
	number, _ := strconv.ParseInt(id.value, 10, 64)
	return number
}

// IsZero reports whether the id is unset.
func (id ProjectID) IsZero() bool {
	return id.value == ""
}

// NewOwnerID validates and normalizes an owner id.
func NewOwnerID(raw string) (OwnerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OwnerID{}, fmt.Errorf("%w: empty value", ErrInvalidOwnerID)
	}
	if strings.ContainsAny(trimmed, "/\\") || trimmed == "." || trimmed == ".." {
		return OwnerID{}, fmt.Errorf("%w: must not contain path separators", ErrInvalidOwnerID)
	}
	return OwnerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OwnerID) String() string {
	return id.value
}

// NewDonationID validates and normalizes a donation id.
func NewDonationID(raw string) (DonationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DonationID{}, fmt.Errorf("%w: empty value", ErrInvalidDonationID)
	}
	return DonationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id DonationID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id DonationID) IsZero() bool {
	return id.value == ""
}

// NewDonorName normalizes a donor display name, substituting the anonymous
// placeholder for empty input.
func NewDonorName(raw string) DonorName {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = AnonymousDonorName
	}
	return DonorName{value: trimmed}
}

// String returns the normalized name.
func (name DonorName) String() string {
	return name.value
}

// NewAmountUnits validates an amount and ensures it is strictly positive.
func NewAmountUnits(raw int64) (AmountUnits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountUnits)
	}
	return AmountUnits(raw), nil
}

// Int64 returns the raw amount.
func (amount AmountUnits) Int64() int64 {
	return int64(amount)
}

// ParseRecordType validates a record type string.
func ParseRecordType(raw string) (RecordType, error) {
	switch RecordType(raw) {
	case RecordTypeDonation, RecordTypeDistribution, RecordTypeRollover:
		return RecordType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRecordType, raw)
}

// LedgerRecord is a single immutable line in the ledger. The JSON field names
// are a durable contract consumed by audit tooling.
type LedgerRecord struct {
	ID            string     `json:"id"`
	Timestamp     string     `json:"timestamp"`
	Type          RecordType `json:"type"`
	Amount        int64      `json:"amount"`
	ProjectID     string     `json:"project_id,omitempty"`
	DonorName     string     `json:"donor_name,omitempty"`
	DonorMessage  string     `json:"donor_message,omitempty"`
	RecipientName string     `json:"recipient_name,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	System        string     `json:"system,omitempty"`
	ProcessedBy   string     `json:"processed_by,omitempty"`
}

// DonationEntry is one element of a project's bounded display list.
type DonationEntry struct {
	Donor     string `json:"donor"`
	Message   string `json:"message,omitempty"`
	Amount    int64  `json:"amount"`
	Timestamp string `json:"timestamp"`
}

// Project is the mutable per-project record. CurrentAmount and
// SupportersCount are caches; the ledger is authoritative.
type Project struct {
	ProjectID       string
	Owner           string
	Title           string
	TargetAmount    int64
	CurrentAmount   int64
	SupportersCount int
	Status          ProjectStatus
	RecentDonations []DonationEntry
}

// PendingInvoice is a payment request awaiting gateway confirmation. Its
// deletion is the canonical "paid" signal for status pollers.
type PendingInvoice struct {
	DonationID        string
	ProjectID         string
	Amount            int64
	ExternalReference string
	Status            string
	CreatedAt         time.Time
}

// LedgerStore is the append-only system of record for money movements.
type LedgerStore interface {
	Append(ctx context.Context, record LedgerRecord) error
	Load(ctx context.Context) ([]LedgerRecord, error)
}

// ProjectStore persists per-project records partitioned into an active and a
// completed set per owner.
type ProjectStore interface {
	Create(ctx context.Context, project Project) error
	Find(ctx context.Context, projectID ProjectID) (Project, ProjectLocation, error)
	UpdateActive(ctx context.Context, projectID ProjectID, mutate func(project Project) (Project, error)) (Project, error)
	Relocate(ctx context.Context, projectID ProjectID) error
	NextActive(ctx context.Context, owner OwnerID, exclude ProjectID) (Project, error)
	ListActive(ctx context.Context) ([]Project, error)
}

// InvoiceStore tracks pending invoices keyed by donation id.
type InvoiceStore interface {
	Create(ctx context.Context, invoice PendingInvoice) error
	Get(ctx context.Context, donationID DonationID) (PendingInvoice, error)
	Delete(ctx context.Context, donationID DonationID) error
}
