package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionLedger/internal/adapters/metrics"
	"positionLedger/internal/adapters/sqlite"
	"positionLedger/internal/app"
	"positionLedger/internal/locking"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := &mockLogger{}
	store, err := sqlite.NewRepository(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "api.db"), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc, err := app.NewPositionService(app.Config{LockTimeout: time.Second}, logger, store, locking.New(), metrics.Noop{})
	require.NoError(t, err)

	h, err := NewHandler(svc, logger, Config{
		RequestTimeout: 5 * time.Second,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(data) > 0 {
		require.NoError(t, sonic.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func openPosition(t *testing.T, srv *httptest.Server, portfolio, instrument string) string {
	t.Helper()
	status, body := do(t, srv, http.MethodPost, "/positions",
		`{"portfolioId":"`+portfolio+`","instrument":"`+instrument+`","quantity":10,"price":"100","timestamp":"2024-03-01T14:30:00Z"}`)
	require.Equal(t, http.StatusCreated, status, body)
	id, ok := body["positionId"].(string)
	require.True(t, ok)
	return id
}

func TestHandler_PositionLifecycle(t *testing.T) {
	srv := setupServer(t)
	id := openPosition(t, srv, "pf-1", "aapl")

	status, body := do(t, srv, http.MethodPut, "/positions/"+id+"/buy",
		`{"quantity":5,"price":110,"timestamp":"2024-03-01T14:40:00Z","note":"add"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(15), body["totalQuantity"])

	status, body = do(t, srv, http.MethodPut, "/positions/"+id+"/stop-loss",
		`{"stopPrice":"98.5","timestamp":"2024-03-01T14:45:00Z"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, id, body["positionId"])

	status, body = do(t, srv, http.MethodPut, "/positions/"+id+"/sell",
		`{"quantity":8,"price":"120","timestamp":"2024-03-01T14:50:00Z"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(7), body["remainingQuantity"])
	assert.Equal(t, false, body["isClosed"])

	status, body = do(t, srv, http.MethodGet, "/positions/"+id, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "AAPL", body["instrument"])
	assert.Equal(t, "open", body["status"])
	assert.Equal(t, float64(7), body["currentQuantity"])
	assert.Equal(t, "103.3333", body["averageCost"])
	assert.Equal(t, "133.3333", body["realizedPnl"])
	assert.Equal(t, "98.5", body["activeStopLoss"])
	events, ok := body["events"].([]interface{})
	require.True(t, ok)
	require.Len(t, events, 4)
	first := events[0].(map[string]interface{})
	assert.Equal(t, "OPEN", first["type"])
	assert.Equal(t, "2024-03-01T14:30:00Z", first["timestamp"])

	status, body = do(t, srv, http.MethodPut, "/positions/"+id+"/sell",
		`{"quantity":7,"price":"115","timestamp":"2024-03-01T15:00:00Z"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["isClosed"])
}

func TestHandler_Errors(t *testing.T) {
	srv := setupServer(t)
	id := openPosition(t, srv, "pf-1", "MSFT")
	missing := "8f14e45f-ceea-467f-a9f5-9b6a1d1f0c3e"

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "malformed json", method: http.MethodPost, path: "/positions", body: `{"portfolioId":`, wantStatus: 400, wantCode: "INVALID_INPUT"},
		{name: "empty body", method: http.MethodPost, path: "/positions", body: "", wantStatus: 400, wantCode: "INVALID_INPUT"},
		{name: "bad timestamp", method: http.MethodPut, path: "/positions/" + id + "/buy", body: `{"quantity":1,"price":"1","timestamp":"yesterday"}`, wantStatus: 400, wantCode: "INVALID_INPUT"},
		{name: "zero quantity", method: http.MethodPut, path: "/positions/" + id + "/buy", body: `{"quantity":0,"price":"1","timestamp":"2024-03-01T15:00:00Z"}`, wantStatus: 400, wantCode: "INVALID_INPUT"},
		{name: "fractional quantity", method: http.MethodPut, path: "/positions/" + id + "/buy", body: `{"quantity":1.5,"price":"1","timestamp":"2024-03-01T15:00:00Z"}`, wantStatus: 400, wantCode: "INVALID_INPUT"},
		{name: "malformed id", method: http.MethodGet, path: "/positions/abc", wantStatus: 400, wantCode: "INVALID_INPUT"},
		{name: "unknown id", method: http.MethodGet, path: "/positions/" + missing, wantStatus: 404, wantCode: "NOT_FOUND"},
		{name: "unknown id buy", method: http.MethodPut, path: "/positions/" + missing + "/buy", body: `{"quantity":1,"price":"1","timestamp":"2024-03-01T15:00:00Z"}`, wantStatus: 404, wantCode: "NOT_FOUND"},
		{name: "oversell", method: http.MethodPut, path: "/positions/" + id + "/sell", body: `{"quantity":11,"price":"1","timestamp":"2024-03-01T15:00:00Z"}`, wantStatus: 422, wantCode: "SELL_EXCEEDS_HOLDING"},
		{name: "buy before open", method: http.MethodPut, path: "/positions/" + id + "/buy", body: `{"quantity":1,"price":"1","timestamp":"2024-03-01T14:00:00Z"}`, wantStatus: 400, wantCode: "INVALID_INPUT"},
		{name: "bad status filter", method: http.MethodGet, path: "/positions?status=pending", wantStatus: 400, wantCode: "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.Equal(t, float64(tt.wantStatus), body["status"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestHandler_ClosedPosition(t *testing.T) {
	srv := setupServer(t)
	id := openPosition(t, srv, "pf-1", "TSLA")

	status, _ := do(t, srv, http.MethodPut, "/positions/"+id+"/sell", `{"quantity":10,"price":"90","timestamp":"2024-03-01T15:00:00Z"}`)
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, srv, http.MethodPut, "/positions/"+id+"/buy", `{"quantity":1,"price":"90","timestamp":"2024-03-01T16:00:00Z"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "POSITION_CLOSED", body["code"])
}

func TestHandler_ListPositions(t *testing.T) {
	srv := setupServer(t)
	a := openPosition(t, srv, "pf-1", "AAPL")
	openPosition(t, srv, "pf-2", "AAPL")
	c := openPosition(t, srv, "pf-1", "NVDA")
	status, _ := do(t, srv, http.MethodPut, "/positions/"+c+"/sell", `{"quantity":10,"price":"500","timestamp":"2024-03-01T15:00:00Z"}`)
	require.Equal(t, http.StatusOK, status)

	ids := func(body map[string]interface{}) []string {
		var out []string
		for _, p := range body["positions"].([]interface{}) {
			out = append(out, p.(map[string]interface{})["positionId"].(string))
		}
		return out
	}

	status, body := do(t, srv, http.MethodGet, "/positions", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, ids(body), 3)

	status, body = do(t, srv, http.MethodGet, "/positions?portfolioId=pf-1&status=open", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{a}, ids(body))

	status, body = do(t, srv, http.MethodGet, "/positions?status=closed", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{c}, ids(body))

	status, body = do(t, srv, http.MethodGet, "/positions?instrument=aapl", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, ids(body), 2)
}

func TestHandler_MetricsAndHealth(t *testing.T) {
	srv := setupServer(t)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
