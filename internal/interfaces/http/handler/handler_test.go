package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/backend/internal/application/reconcile"
	"github.com/storefront/backend/internal/domain/order"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/submission"
	"github.com/storefront/backend/internal/interfaces/http/dto"
	"github.com/storefront/backend/internal/interfaces/http/middleware"
	"github.com/storefront/backend/internal/interfaces/http/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu         sync.Mutex
	snap       reconcile.Snapshot
	refreshErr error
	mutateErr  error
	gone       bool

	orderRow    int
	orderStatus string
	updatedID   uuid.UUID
	deletedIDs  []uuid.UUID
	acked       bool
	created     []*submission.Record
}

func (f *fakeService) Snapshot() reconcile.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeService) Grouped() reconcile.GroupedView {
	snap := f.Snapshot()
	return reconcile.Group(&snap)
}

func (f *fakeService) Refresh(context.Context) (reconcile.Snapshot, error) {
	return f.Snapshot(), f.refreshErr
}

func (f *fakeService) UpdateOrderStatus(_ context.Context, row int, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderRow, f.orderStatus = row, status
	return f.mutateErr
}

func (f *fakeService) UpdateSubmission(_ context.Context, id uuid.UUID, status, notes string) (*submission.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedID = id
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	if f.gone {
		return nil, nil
	}
	st, err := submission.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return &submission.Record{ID: id, Status: st, Notes: notes}, nil
}

func (f *fakeService) DeleteSubmission(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedIDs = append(f.deletedIDs, id)
	return f.mutateErr
}

func (f *fakeService) MarkNotificationsRead(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = true
	f.snap.NewSubmissionsCount = 0
	return f.mutateErr
}

func (f *fakeService) CreateSubmission(_ context.Context, rec *submission.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return f.mutateErr
	}
	f.created = append(f.created, rec)
	return nil
}

func newFakeService() *fakeService {
	return &fakeService{snap: reconcile.Snapshot{
		Orders: []order.Record{
			{RowIndex: 2, Origin: "sheet", ProductName: "Lawn Suit", Quantity: 2, Price: decimal.NewFromInt(3500), Status: "Pending"},
		},
		Submissions: []submission.Record{
			{ID: uuid.New(), FormType: "order", FormName: "Eid Collection", Status: submission.StatusPending},
		},
		Sources: map[string]reconcile.SourceStatus{
			reconcile.SourceOrders:      {Name: reconcile.SourceOrders, OK: true, Origin: reconcile.OriginLive},
			reconcile.SourceSubmissions: {Name: reconcile.SourceSubmissions, OK: false, Stale: true, Origin: reconcile.OriginCache},
			reconcile.SourceProducts:    {Name: reconcile.SourceProducts, OK: true, Origin: reconcile.OriginLive},
		},
		NewSubmissionsCount: 1,
	}}
}

func newTestRouter(svc *fakeService) *gin.Engine {
	middleware.SetupValidator()
	engine := gin.New()
	engine.Use(middleware.RequestID())

	intake := NewIntakeHandler(svc)
	intake.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }

	router.NewRouter(engine).
		Register(NewAdminHandler(svc).Routes()).
		Register(intake.Routes()).
		Register(NewHealthHandler(svc).Routes()).
		Setup()
	return engine
}

func do(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func dataAs[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.True(t, env.Success, w.Body.String())
	return env.Data
}

func TestAdminHandler_Reads(t *testing.T) {
	engine := newTestRouter(newFakeService())

	t.Run("dashboard", func(t *testing.T) {
		w := do(engine, http.MethodGet, "/api/v1/admin/dashboard", "")
		require.Equal(t, http.StatusOK, w.Code)
		snap := dataAs[reconcile.Snapshot](t, w)
		assert.Len(t, snap.Orders, 1)
		assert.Equal(t, 1, snap.NewSubmissionsCount)
		assert.True(t, snap.Sources[reconcile.SourceSubmissions].Stale)
	})

	t.Run("grouped", func(t *testing.T) {
		w := do(engine, http.MethodGet, "/api/v1/admin/grouped", "")
		require.Equal(t, http.StatusOK, w.Code)
		view := dataAs[reconcile.GroupedView](t, w)
		require.Len(t, view.Submissions, 1)
		assert.Equal(t, "Eid Collection", view.Submissions[0].FormName)
		assert.Equal(t, 1, view.Submissions[0].Pending)
		require.Len(t, view.Orders, 1)
		assert.Equal(t, "7000", view.Orders[0].Revenue.String())
	})
}

func TestAdminHandler_Refresh(t *testing.T) {
	t.Run("partial failure is still 200", func(t *testing.T) {
		engine := newTestRouter(newFakeService())
		w := do(engine, http.MethodPost, "/api/v1/admin/refresh", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("all sources down is 503", func(t *testing.T) {
		svc := newFakeService()
		svc.refreshErr = shared.ErrReconciliationFailed
		engine := newTestRouter(svc)

		w := do(engine, http.MethodPost, "/api/v1/admin/refresh", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, dto.ErrCodeReconciliationFailed, resp.Error.Code)
	})
}

func TestAdminHandler_UpdateOrderStatus(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc := newFakeService()
		engine := newTestRouter(svc)

		w := do(engine, http.MethodPut, "/api/v1/admin/orders/2/status", `{"status":"Shipped"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, dto.OrderStatusResponse{Row: 2, Status: "Shipped"}, dataAs[dto.OrderStatusResponse](t, w))
		assert.Equal(t, 2, svc.orderRow)
		assert.Equal(t, "Shipped", svc.orderStatus)
	})

	t.Run("non numeric row", func(t *testing.T) {
		engine := newTestRouter(newFakeService())
		w := do(engine, http.MethodPut, "/api/v1/admin/orders/abc/status", `{"status":"Shipped"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidInput, decodeResponse(t, w).Error.Code)
	})

	t.Run("missing status fails validation", func(t *testing.T) {
		svc := newFakeService()
		engine := newTestRouter(svc)
		w := do(engine, http.MethodPut, "/api/v1/admin/orders/2/status", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, decodeResponse(t, w).Error.Code)
		assert.Zero(t, svc.orderRow, "service not called")
	})

	t.Run("feed outage is 503", func(t *testing.T) {
		svc := newFakeService()
		svc.mutateErr = shared.Wrap(shared.ErrFeedUnavailable, errors.New("timeout"))
		engine := newTestRouter(svc)
		w := do(engine, http.MethodPut, "/api/v1/admin/orders/2/status", `{"status":"Shipped"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, dto.ErrCodeFeedUnavailable, decodeResponse(t, w).Error.Code)
	})
}

func TestAdminHandler_Submissions(t *testing.T) {
	id := uuid.New()

	t.Run("update", func(t *testing.T) {
		svc := newFakeService()
		engine := newTestRouter(svc)
		w := do(engine, http.MethodPut, "/api/v1/admin/submissions/"+id.String(), `{"status":"Completed","notes":"paid"}`)
		require.Equal(t, http.StatusOK, w.Code)
		rec := dataAs[submission.Record](t, w)
		assert.Equal(t, submission.StatusCompleted, rec.Status)
		assert.Equal(t, "paid", rec.Notes)
		assert.Equal(t, id, svc.updatedID)
	})

	t.Run("update of a removed submission is 204", func(t *testing.T) {
		svc := newFakeService()
		svc.gone = true
		engine := newTestRouter(svc)
		w := do(engine, http.MethodPut, "/api/v1/admin/submissions/"+id.String(), `{"status":"completed","notes":"done"}`)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, id, svc.updatedID)
	})

	t.Run("invalid status is 400 INVALID_STATUS", func(t *testing.T) {
		engine := newTestRouter(newFakeService())
		w := do(engine, http.MethodPut, "/api/v1/admin/submissions/"+id.String(), `{"status":"archived"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidStatus, decodeResponse(t, w).Error.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		engine := newTestRouter(newFakeService())
		w := do(engine, http.MethodDelete, "/api/v1/admin/submissions/42", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidInput, decodeResponse(t, w).Error.Code)
	})

	t.Run("delete twice is 204 both times", func(t *testing.T) {
		svc := newFakeService()
		engine := newTestRouter(svc)
		for range 2 {
			w := do(engine, http.MethodDelete, "/api/v1/admin/submissions/"+id.String(), "")
			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Empty(t, w.Body.String())
		}
		assert.Equal(t, []uuid.UUID{id, id}, svc.deletedIDs)
	})

	t.Run("store outage on delete is 503", func(t *testing.T) {
		svc := newFakeService()
		svc.mutateErr = shared.Wrap(shared.ErrStoreUnavailable, errors.New("conn reset"))
		engine := newTestRouter(svc)
		w := do(engine, http.MethodDelete, "/api/v1/admin/submissions/"+id.String(), "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestAdminHandler_MarkNotificationsRead(t *testing.T) {
	svc := newFakeService()
	engine := newTestRouter(svc)

	w := do(engine, http.MethodPost, "/api/v1/admin/notifications/read", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, dataAs[dto.NotificationsResponse](t, w).NewSubmissionsCount)
	assert.True(t, svc.acked)
}

func TestIntakeHandler_Create(t *testing.T) {
	t.Run("stores pending submission", func(t *testing.T) {
		svc := newFakeService()
		engine := newTestRouter(svc)

		body := `{
			"form_type": "order",
			"form_name": "Eid Collection",
			"customer_name": "Ayesha Khan",
			"customer_email": "ayesha@example.com",
			"delivery_city": "Lahore",
			"order_details": {"product": "Lawn Suit", "quantity": 2}
		}`
		w := do(engine, http.MethodPost, "/api/v1/submissions", body)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		require.Len(t, svc.created, 1)
		rec := svc.created[0]
		assert.NotEqual(t, uuid.Nil, rec.ID)
		assert.Equal(t, submission.StatusPending, rec.Status)
		assert.Equal(t, "Ayesha Khan", rec.CustomerName)
		assert.Equal(t, "Lahore", rec.DeliveryCity)
		assert.JSONEq(t, `{"product":"Lawn Suit","quantity":2}`, string(rec.OrderDetails))
		assert.Nil(t, rec.AdditionalData)
		assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), rec.CreatedAt)
	})

	t.Run("validation failure names fields", func(t *testing.T) {
		svc := newFakeService()
		engine := newTestRouter(svc)
		w := do(engine, http.MethodPost, "/api/v1/submissions", `{"form_name":"x","customer_email":"bad"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		fields := make([]string, 0, len(resp.Error.Details))
		for _, d := range resp.Error.Details {
			fields = append(fields, d.Field)
		}
		assert.ElementsMatch(t, []string{"form_type", "customer_email"}, fields)
		assert.Empty(t, svc.created)
	})

	t.Run("store outage is 503", func(t *testing.T) {
		svc := newFakeService()
		svc.mutateErr = shared.Wrap(shared.ErrStoreUnavailable, errors.New("down"))
		engine := newTestRouter(svc)
		w := do(engine, http.MethodPost, "/api/v1/submissions", `{"form_type":"contact","form_name":"Contact"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, dto.ErrCodeStoreUnavailable, decodeResponse(t, w).Error.Code)
	})
}

func TestHealthHandler(t *testing.T) {
	svc := newFakeService()
	engine := newTestRouter(svc)

	w := do(engine, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	health := dataAs[dto.HealthResponse](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, reconcile.OriginCache, health.Sources[reconcile.SourceSubmissions])

	svc.mu.Lock()
	svc.snap.Degraded = true
	svc.mu.Unlock()

	w = do(engine, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	health = dataAs[dto.HealthResponse](t, w)
	assert.Equal(t, "degraded", health.Status)
	assert.True(t, health.Degraded)
}

type fakeGuard struct {
	held     map[string]bool
	claimErr error
	released []string
}

func (g *fakeGuard) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	if g.claimErr != nil {
		return false, g.claimErr
	}
	if g.held[key] {
		return false, nil
	}
	g.held[key] = true
	return true, nil
}

func (g *fakeGuard) Release(_ context.Context, key string) error {
	delete(g.held, key)
	g.released = append(g.released, key)
	return nil
}

func TestIntakeHandler_IdempotencyKey(t *testing.T) {
	const body = `{"form_type":"contact","form_name":"Contact"}`

	newEngine := func(svc *fakeService, guard *fakeGuard) *gin.Engine {
		middleware.SetupValidator()
		h := NewIntakeHandler(svc)
		h.SetDuplicateGuard(guard, time.Hour)
		engine := gin.New()
		router.NewRouter(engine).Register(h.Routes()).Setup()
		return engine
	}
	post := func(engine *gin.Engine, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	t.Run("retry with same key is rejected", func(t *testing.T) {
		svc := newFakeService()
		engine := newEngine(svc, &fakeGuard{held: map[string]bool{}})

		require.Equal(t, http.StatusCreated, post(engine, "abc").Code)
		w := post(engine, "abc")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, dto.ErrCodeDuplicateSubmission, decodeResponse(t, w).Error.Code)
		assert.Len(t, svc.created, 1)
	})

	t.Run("requests without a key are never deduplicated", func(t *testing.T) {
		svc := newFakeService()
		engine := newEngine(svc, &fakeGuard{held: map[string]bool{}})

		require.Equal(t, http.StatusCreated, post(engine, "").Code)
		require.Equal(t, http.StatusCreated, post(engine, "").Code)
		assert.Len(t, svc.created, 2)
	})

	t.Run("failed store releases the key", func(t *testing.T) {
		svc := newFakeService()
		svc.mutateErr = shared.Wrap(shared.ErrStoreUnavailable, errors.New("down"))
		guard := &fakeGuard{held: map[string]bool{}}
		engine := newEngine(svc, guard)

		assert.Equal(t, http.StatusServiceUnavailable, post(engine, "retry-me").Code)
		assert.Equal(t, []string{"retry-me"}, guard.released)

		svc.mutateErr = nil
		assert.Equal(t, http.StatusCreated, post(engine, "retry-me").Code)
	})

	t.Run("guard outage lets the submission through", func(t *testing.T) {
		svc := newFakeService()
		engine := newEngine(svc, &fakeGuard{held: map[string]bool{}, claimErr: shared.ErrStoreUnavailable})

		assert.Equal(t, http.StatusCreated, post(engine, "abc").Code)
		assert.Len(t, svc.created, 1)
	})

	t.Run("oversized key", func(t *testing.T) {
		engine := newEngine(newFakeService(), &fakeGuard{held: map[string]bool{}})
		assert.Equal(t, http.StatusBadRequest, post(engine, strings.Repeat("k", 129)).Code)
	})
}
