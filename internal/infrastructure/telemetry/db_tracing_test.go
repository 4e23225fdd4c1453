package telemetry_test

import (
	"testing"
	"time"

	"github.com/storefront/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type tracedRow struct {
	ID   uint
	Name string
}

func TestRegisterDBTracing(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		require.NoError(t, err)

		err = telemetry.RegisterDBTracing(db, telemetry.DBTracingConfig{Enabled: false}, zaptest.NewLogger(t))
		assert.NoError(t, err)
		assert.Nil(t, db.Callback().Query().Get("otel_timing:before_query"))
	})

	t.Run("enabled registers callbacks and queries still work", func(t *testing.T) {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		require.NoError(t, err)

		err = telemetry.RegisterDBTracing(db, telemetry.DBTracingConfig{
			Enabled:         true,
			SlowQueryThresh: time.Millisecond,
			DBSystem:        "sqlite",
		}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.NotNil(t, db.Callback().Query().Get("otel_timing:before_query"))

		require.NoError(t, db.AutoMigrate(&tracedRow{}))
		require.NoError(t, db.Create(&tracedRow{Name: "a"}).Error)

		var rows []tracedRow
		require.NoError(t, db.Find(&rows).Error)
		assert.Len(t, rows, 1)
	})
}
