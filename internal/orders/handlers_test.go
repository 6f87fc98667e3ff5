package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/orderflow/internal/dedup"
	"github.com/ksred/orderflow/internal/types"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  []types.FieldError `json:"fields"`
	} `json:"error"`
}

func newTestRouter(t *testing.T, db *gorm.DB, enq Enqueuer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := NewService(db, dedup.New(dedup.NewMemoryStore(), time.Minute), enq)
	handlers := NewGinHandlers(svc)

	router := gin.New()
	v1 := router.Group("/api/v1")
	ordersGroup := v1.Group("/orders")
	ordersGroup.POST("", handlers.CreateOrderHandler())
	ordersGroup.GET("", handlers.ListOrdersHandler())
	ordersGroup.GET("/:order_id", handlers.GetOrderStatusHandler())

	return router
}

func postOrder(router *gin.Engine, body string) (*httptest.ResponseRecorder, apiEnvelope) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var envelope apiEnvelope
	_ = json.Unmarshal(w.Body.Bytes(), &envelope)
	return w, envelope
}

const limitOrderBody = `{"type":"limit","side":"sell","instrument":"stringstring","limit_price":150.00,"quantity":100}`

func TestCreateOrderEndToEnd(t *testing.T) {
	db := newTestDB(t)
	enq := &stubEnqueuer{}
	router := newTestRouter(t, db, enq)

	w, envelope := postOrder(router, limitOrderBody)
	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, envelope.Success)

	var created types.Order
	require.NoError(t, json.Unmarshal(envelope.Data, &created))
	assert.Equal(t, types.OrderStatusPending, created.Status)
	require.NotNil(t, created.LimitPrice)
	assert.Equal(t, "150.00", created.LimitPrice.String())
	require.Len(t, enq.orderIDs, 1)

	// Background processing with a cooperating venue completes the order.
	p := NewProcessor(db, &stubVenue{})
	require.NoError(t, p.Process(context.Background(), enq.orderIDs[0]))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+created.OrderID, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var fetched apiEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	var final types.Order
	require.NoError(t, json.Unmarshal(fetched.Data, &final))
	assert.Equal(t, types.OrderStatusCompleted, final.Status)
}

func TestCreateOrderDuplicateReturnsConflict(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &stubEnqueuer{})

	w, _ := postOrder(router, limitOrderBody)
	require.Equal(t, http.StatusCreated, w.Code)

	w, envelope := postOrder(router, limitOrderBody)
	require.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "Duplicate order detected. Please wait before retrying.", envelope.Error.Message)
}

func TestCreateOrderMarketWithLimitPriceRejected(t *testing.T) {
	db := newTestDB(t)
	enq := &stubEnqueuer{}
	router := newTestRouter(t, db, enq)

	body := `{"type":"market","side":"buy","instrument":"stringstring","limit_price":150.00,"quantity":10}`
	w, envelope := postOrder(router, body)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, envelope.Error)
	require.Len(t, envelope.Error.Fields, 1)
	assert.Contains(t, envelope.Error.Fields[0].Message, "Providing a `limit_price` is prohibited for type `market`")

	// Validation failures never reach persistence or the queue.
	assert.Equal(t, int64(0), orderCount(t, db))
	assert.Empty(t, enq.orderIDs)
}

func TestCreateOrderMalformedBodyRejected(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &stubEnqueuer{})

	w, envelope := postOrder(router, `{"type":`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, envelope.Error)
}

func TestListOrdersReturnsStablePages(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &stubEnqueuer{})

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(
			`{"type":"market","side":"buy","instrument":"instrument%02d","quantity":%d}`, i, i+1)
		w, _ := postOrder(router, body)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	fetch := func() types.OrderListResponse {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?skip=0&limit=2", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var envelope apiEnvelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		var list types.OrderListResponse
		require.NoError(t, json.Unmarshal(envelope.Data, &list))
		return list
	}

	first := fetch()
	assert.Equal(t, int64(3), first.Total)
	require.Len(t, first.Orders, 2)
	assert.Equal(t, 2, first.Limit)
	assert.Equal(t, 0, first.Skip)

	second := fetch()
	assert.Equal(t, first.Total, second.Total)
	require.Len(t, second.Orders, 2)
	assert.Equal(t, first.Orders[0].OrderID, second.Orders[0].OrderID)
	assert.Equal(t, first.Orders[1].OrderID, second.Orders[1].OrderID)
}

func TestGetOrderStatusNotFound(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &stubEnqueuer{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/no-such-order", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
