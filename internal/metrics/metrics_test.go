package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
	"github.com/nemonet1337/zaiWarehouse/pkg/purchasing"
)

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	m := New()
	router := mux.NewRouter()
	router.Use(m.Middleware)
	router.HandleFunc("/api/v1/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)
	router.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products/p-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/v1/products/{id}", "GET", "404")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "zaiwarehouse_http_requests_total"))
}

func TestWrapJob(t *testing.T) {
	m := New()
	ok := m.WrapJob("export:generate", func(ctx context.Context, payload []byte) error { return nil })
	fail := m.WrapJob("export:generate", func(ctx context.Context, payload []byte) error { return errors.New("失敗") })

	require.NoError(t, ok(context.Background(), nil))
	require.Error(t, fail(context.Background(), nil))
	require.NoError(t, ok(context.Background(), nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("export:generate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("export:generate", "failure")))
}

type stubPublisher struct {
	changed int
	orders  int
}

func (s *stubPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	s.changed++
	return nil
}

func (s *stubPublisher) PublishLowStock(ctx context.Context, event inventory.LowStockEvent) error {
	return nil
}

func (s *stubPublisher) PublishOrderConfirmed(ctx context.Context, event purchasing.OrderConfirmedEvent) error {
	s.orders++
	return nil
}

func TestPublisher_CountsAndForwards(t *testing.T) {
	m := New()
	inner := &stubPublisher{}
	p := NewPublisher(m, inner, inner)
	ctx := context.Background()

	require.NoError(t, p.PublishStockChanged(ctx, inventory.StockChangedEvent{Type: inventory.MovementIn, Reason: inventory.ReasonPurchase}))
	require.NoError(t, p.PublishLowStock(ctx, inventory.LowStockEvent{}))
	require.NoError(t, p.PublishOrderConfirmed(ctx, purchasing.OrderConfirmedEvent{Status: purchasing.StatusCompleted}))

	assert.Equal(t, 1, inner.changed)
	assert.Equal(t, 1, inner.orders)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.movements.WithLabelValues("in", "purchase")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lowStock))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orders.WithLabelValues("completed")))

	// 転送先なしでも計数する
	bare := NewPublisher(m, nil, nil)
	require.NoError(t, bare.PublishOrderConfirmed(ctx, purchasing.OrderConfirmedEvent{Status: purchasing.StatusCancelled}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orders.WithLabelValues("cancelled")))
}
