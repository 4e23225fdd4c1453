package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func seedSubmission(t *testing.T, store *GormSubmissionStore, formName string, createdAt time.Time) *submission.Record {
	t.Helper()
	rec := submission.New("order", formName, createdAt)
	rec.CustomerName = "Ayesha"
	rec.CustomerEmail = "ayesha@example.com"
	rec.OrderDetails = datatypes.JSON(`{"items":[{"sku":"LS-01","qty":2}]}`)
	require.NoError(t, store.Create(context.Background(), rec))
	return rec
}

func TestGormSubmissionStore_List(t *testing.T) {
	store := NewGormSubmissionStore(newSQLiteDB(t))
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	seedSubmission(t, store, "first", base)
	seedSubmission(t, store, "third", base.Add(2*time.Hour))
	seedSubmission(t, store, "second", base.Add(time.Hour))

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "third", records[0].FormName)
	assert.Equal(t, "second", records[1].FormName)
	assert.Equal(t, "first", records[2].FormName)
	assert.JSONEq(t, `{"items":[{"sku":"LS-01","qty":2}]}`, string(records[0].OrderDetails))
}

func TestGormSubmissionStore_Create(t *testing.T) {
	store := NewGormSubmissionStore(newSQLiteDB(t))
	fixed := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	rec := &submission.Record{FormType: "contact", FormName: "Website"}
	require.NoError(t, store.Create(context.Background(), rec))

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, submission.StatusPending, rec.Status)
	assert.True(t, rec.CreatedAt.Equal(fixed))

	bad := &submission.Record{FormType: "contact", Status: "archived"}
	err := store.Create(context.Background(), bad)
	assert.True(t, errors.Is(err, shared.ErrInvalidStatus))
}

func TestGormSubmissionStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("bumps updated_at strictly even when the clock stands still", func(t *testing.T) {
		store := NewGormSubmissionStore(newSQLiteDB(t))
		created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
		rec := seedSubmission(t, store, "sale", created)

		store.now = func() time.Time { return created }

		first, err := store.UpdateStatus(ctx, rec.ID, submission.StatusProcessing, "called customer")
		require.NoError(t, err)
		assert.True(t, first.UpdatedAt.After(rec.UpdatedAt))

		second, err := store.UpdateStatus(ctx, rec.ID, submission.StatusProcessing, "called customer")
		require.NoError(t, err)
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

		var stored submission.Record
		require.NoError(t, store.db.WithContext(ctx).First(&stored, "id = ?", rec.ID).Error)
		assert.Equal(t, submission.StatusProcessing, stored.Status)
		assert.Equal(t, "called customer", stored.Notes)
		assert.True(t, stored.UpdatedAt.Equal(second.UpdatedAt))
	})

	t.Run("invalid status is rejected before any write", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		store := NewGormSubmissionStore(db)

		_, err := store.UpdateStatus(ctx, uuid.New(), submission.Status("shipped"), "")
		assert.True(t, errors.Is(err, shared.ErrInvalidStatus))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing id is NotFound", func(t *testing.T) {
		store := NewGormSubmissionStore(newSQLiteDB(t))
		_, err := store.UpdateStatus(ctx, uuid.New(), submission.StatusCompleted, "")
		assert.True(t, errors.Is(err, shared.ErrNotFound))
	})
}

func TestGormSubmissionStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("double delete succeeds", func(t *testing.T) {
		store := NewGormSubmissionStore(newSQLiteDB(t))
		rec := seedSubmission(t, store, "sale", time.Now())

		require.NoError(t, store.Delete(ctx, rec.ID))
		require.NoError(t, store.Delete(ctx, rec.ID))

		var remaining int64
		require.NoError(t, store.db.WithContext(ctx).Model(&submission.Record{}).Where("id = ?", rec.ID).Count(&remaining).Error)
		assert.Zero(t, remaining)
	})

	t.Run("issues a keyed delete", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		store := NewGormSubmissionStore(db)

		id := uuid.New()
		mock.ExpectExec(`DELETE FROM "form_submissions" WHERE id = \$1`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, store.Delete(ctx, id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("connection failure is StoreUnavailable", func(t *testing.T) {
		db, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		store := NewGormSubmissionStore(db)

		mock.ExpectExec(`DELETE FROM "form_submissions"`).
			WillReturnError(errors.New("connection refused"))

		err := store.Delete(ctx, uuid.New())
		assert.True(t, errors.Is(err, shared.ErrStoreUnavailable))
	})
}

func TestGormSubmissionStore_ListUnavailable(t *testing.T) {
	db, mock, mockDB := newMockDB(t)
	defer mockDB.Close()
	store := NewGormSubmissionStore(db)

	mock.ExpectQuery(`SELECT \* FROM "form_submissions" ORDER BY created_at DESC`).
		WillReturnError(errors.New("i/o timeout"))

	_, err := store.List(context.Background())
	assert.True(t, errors.Is(err, shared.ErrStoreUnavailable))
	assert.NoError(t, mock.ExpectationsWereMet())
}
