package submission

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/shared"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a form submission
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every accepted status in lifecycle order
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusCancelled}

// IsValid reports whether s is one of the accepted statuses
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus normalizes and validates a raw status string
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", shared.Wrapf(shared.ErrInvalidStatus, "submission status %q", raw)
	}
	return s, nil
}

// Record is a customer form submission held in the relational store.
// OrderDetails and AdditionalData are opaque JSON payloads.
type Record struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FormType           string         `gorm:"type:varchar(100);not null;index" json:"form_type"`
	FormName           string         `gorm:"type:varchar(200);not null" json:"form_name"`
	CustomerName       string         `gorm:"type:varchar(200)" json:"customer_name"`
	CustomerEmail      string         `gorm:"type:varchar(200)" json:"customer_email"`
	CustomerPhone      string         `gorm:"type:varchar(50)" json:"customer_phone"`
	DeliveryAddress    string         `gorm:"type:text" json:"delivery_address"`
	DeliveryCity       string         `gorm:"type:varchar(100)" json:"delivery_city"`
	DeliveryPostalCode string         `gorm:"type:varchar(20)" json:"delivery_postal_code"`
	OrderDetails       datatypes.JSON `json:"order_details,omitempty"`
	AdditionalData     datatypes.JSON `json:"additional_data,omitempty"`
	Status             Status         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Notes              string         `gorm:"type:text" json:"notes"`
	CreatedAt          time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName returns the table name for GORM
func (Record) TableName() string {
	return "form_submissions"
}

// New builds a pending submission with a fresh id and timestamps
func New(formType, formName string, now time.Time) *Record {
	now = now.UTC()
	return &Record{
		ID:        uuid.New(),
		FormType:  formType,
		FormName:  formName,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NextUpdatedAt returns a timestamp strictly after prev, normally now.
// Timestamps are truncated to microseconds so they survive a round trip through Postgres.
func NextUpdatedAt(prev, now time.Time) time.Time {
	next := now.UTC().Truncate(time.Microsecond)
	if !next.After(prev) {
		next = prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return next
}

// Key identifies a (form type, form name) bucket in grouped views
type Key struct {
	FormType string `json:"form_type"`
	FormName string `json:"form_name"`
}

// GroupKey returns the record's grouping key
func (r Record) GroupKey() Key {
	return Key{FormType: r.FormType, FormName: r.FormName}
}
