package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/submission"
	"gorm.io/gorm"
)

// GormSubmissionStore implements the submission store adapter using GORM
type GormSubmissionStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormSubmissionStore creates a new GormSubmissionStore
func NewGormSubmissionStore(db *gorm.DB) *GormSubmissionStore {
	return &GormSubmissionStore{db: db, now: time.Now}
}

// List returns every submission, newest first
func (s *GormSubmissionStore) List(ctx context.Context) ([]submission.Record, error) {
	var records []submission.Record
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, translateError(err)
	}
	return records, nil
}

// Create inserts a new submission. Missing ids, statuses and timestamps are filled in.
func (s *GormSubmissionStore) Create(ctx context.Context, record *submission.Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = submission.StatusPending
	}
	if !record.Status.IsValid() {
		return shared.Wrapf(shared.ErrInvalidStatus, "submission status %q", record.Status)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().Truncate(time.Microsecond)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.CreatedAt

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return translateError(err)
	}
	return nil
}

// UpdateStatus sets status and notes on a submission and bumps updated_at strictly forward.
// The status is validated before any statement is issued.
func (s *GormSubmissionStore) UpdateStatus(ctx context.Context, id uuid.UUID, status submission.Status, notes string) (*submission.Record, error) {
	if !status.IsValid() {
		return nil, shared.Wrapf(shared.ErrInvalidStatus, "submission status %q", status)
	}

	var updated submission.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&updated).Error; err != nil {
			return err
		}

		next := submission.NextUpdatedAt(updated.UpdatedAt, s.now())
		result := tx.Model(&submission.Record{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":     status,
				"notes":      notes,
				"updated_at": next,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		updated.Status = status
		updated.Notes = notes
		updated.UpdatedAt = next
		return nil
	})
	if err != nil {
		return nil, translateError(err)
	}
	return &updated, nil
}

// Delete removes a submission. Deleting an id that does not exist succeeds.
func (s *GormSubmissionStore) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&submission.Record{}).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return translateError(err)
	}
	return nil
}
