package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"investcore/internal/audit"
	"investcore/internal/ledger"
	"investcore/internal/lock"
	"investcore/internal/market"
	"investcore/internal/models"
	"investcore/internal/optimization"
	"investcore/internal/provider"
	"investcore/internal/repository/memory"
	"investcore/internal/service"
	"investcore/internal/settlement"
)

type testServer struct {
	engine *gin.Engine
	repo   *memory.Store
	oracle *market.Static
	ledger *ledger.Ledger
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := memory.New()
	locker := lock.NewLocal()
	l := &ledger.Ledger{Repo: repo, Locker: locker, Logger: zap.NewNop()}
	oracle := market.NewStatic(true, map[string]decimal.Decimal{"AAPL": d("160")})
	settings := &service.SystemSettingsService{Repo: repo}
	settle := &settlement.Service{Repo: repo, Ledger: l, Oracle: oracle, Logger: zap.NewNop()}
	optimizer := provider.NewStatic(&provider.Result{
		Recommendations: []models.Recommendation{{Symbol: "AAPL", TargetQuantity: d("15")}},
		Confidence:      d("0.7"),
	}, nil)
	mgr := &optimization.Manager{
		Repo:      repo,
		Locker:    locker,
		Optimizer: optimizer,
		Engine:    &optimization.Engine{Repo: repo, Ledger: l, Settlement: settle, Logger: zap.NewNop()},
		Gate:      settings,
		Logger:    zap.NewNop(),
		CoolOff:   24 * time.Hour,
	}

	r := gin.New()
	r.Use(audit.RequireUserMiddleware())
	(&HealthHandler{Checks: map[string]Check{"store": func(context.Context) error { return nil }}}).Register(r)
	(&PortfolioHandler{Portfolios: &service.PortfolioService{Repo: repo, Ledger: l, Oracle: oracle, Flags: settings}}).Register(r)
	(&TransactionHandler{Settlement: settle, Operators: []string{"ops"}}).Register(r)
	(&OptimizationHandler{Manager: mgr}).Register(r)
	(&SettingsHandler{Settings: settings}).Register(r)
	return &testServer{engine: r, repo: repo, oracle: oracle, ledger: l}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any) (int, apiEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(audit.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	var env apiEnvelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func (s *testServer) portfolio(t *testing.T, user string) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/portfolios", user, map[string]any{"name": "core"})
	require.Equal(t, http.StatusCreated, code)
	var p models.Portfolio
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p.ID
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestReadyReportsFailedCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	(&HealthHandler{Checks: map[string]Check{"db": func(context.Context) error { return errors.New("down") }}}).Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "down")
}

func TestMissingUserIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodGet, "/api/v1/portfolios", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestTransactionFlow(t *testing.T) {
	s := newTestServer(t)
	pid := s.portfolio(t, "u1")

	code, env := s.do(t, http.MethodPost, "/api/v1/transactions", "u1", map[string]any{
		"portfolio_id": pid, "symbol": "aapl", "quantity": "10", "price_per_share": "150", "type": "buy",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var tx models.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	assert.Equal(t, models.TransactionSucceeded, tx.Status)

	code, env = s.do(t, http.MethodGet, "/api/v1/portfolios/"+pid+"/holdings", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var holdings []models.Holding
	require.NoError(t, json.Unmarshal(env.Data, &holdings))
	require.Len(t, holdings, 1)
	assert.True(t, holdings[0].Quantity.Equal(d("10")))

	code, env = s.do(t, http.MethodPost, "/api/v1/transactions", "u1", map[string]any{
		"portfolio_id": pid, "symbol": "AAPL", "quantity": "11", "price_per_share": "150", "type": "sell",
	})
	require.Equal(t, http.StatusCreated, code)
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	assert.Equal(t, models.TransactionFailed, tx.Status)

	code, env = s.do(t, http.MethodGet, "/api/v1/transactions?portfolio_id="+pid, "u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, env.Meta["total"])

	code, _ = s.do(t, http.MethodGet, "/api/v1/transactions/"+tx.ID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTransactionValidationAndCancel(t *testing.T) {
	s := newTestServer(t)
	pid := s.portfolio(t, "u1")

	code, env := s.do(t, http.MethodPost, "/api/v1/transactions", "u1", map[string]any{
		"portfolio_id": pid, "symbol": "AAPL", "quantity": "0", "price_per_share": "150", "type": "buy",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", env.Meta["kind"])

	s.oracle.SetOpen(false)
	code, env = s.do(t, http.MethodPost, "/api/v1/transactions", "u1", map[string]any{
		"portfolio_id": pid, "symbol": "AAPL", "quantity": "1", "price_per_share": "150", "type": "buy",
	})
	require.Equal(t, http.StatusCreated, code)
	var tx models.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	assert.Equal(t, models.TransactionOnHold, tx.Status)

	code, _ = s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/cancel", "u1", nil)
	assert.Equal(t, http.StatusOK, code)
	code, env = s.do(t, http.MethodPost, "/api/v1/transactions/"+tx.ID+"/cancel", "u1", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_state", env.Meta["kind"])
}

func TestOptimizationFlow(t *testing.T) {
	s := newTestServer(t)
	pid := s.portfolio(t, "u1")
	_, err := s.ledger.ApplyBuy(context.Background(), pid, "AAPL", d("10"), d("140"), d("140"))
	require.NoError(t, err)

	code, env := s.do(t, http.MethodPost, "/api/v1/portfolios/"+pid+"/optimizations", "u1", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var res optimization.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.True(t, res.Successful)
	id := res.Record.ID

	code, env = s.do(t, http.MethodPost, "/api/v1/optimizations/"+id+"/apply", "u1", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = s.do(t, http.MethodPost, "/api/v1/optimizations/"+id+"/apply", "u1", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", env.Meta["kind"])

	code, env = s.do(t, http.MethodPost, "/api/v1/portfolios/"+pid+"/optimizations", "u1", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Greater(t, env.Meta["remaining_cool_off_seconds"], float64(0))

	code, env = s.do(t, http.MethodGet, "/api/v1/portfolios/"+pid+"/optimizations/status", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var st portfolioOptimizationStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.False(t, st.Ongoing)
	assert.InDelta(t, 24*3600, st.RemainingCoolOffSeconds, 5)

	code, env = s.do(t, http.MethodGet, "/api/v1/optimizations/"+id+"/status", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "applied")

	h, err := s.repo.GetHoldingForUpdate(context.Background(), pid, "AAPL")
	require.NoError(t, err)
	assert.True(t, h.Quantity.Equal(d("15")))
}

func TestOptimizationRequestsSwitch(t *testing.T) {
	s := newTestServer(t)
	pid := s.portfolio(t, "u1")
	_, err := s.ledger.ApplyBuy(context.Background(), pid, "AAPL", d("1"), d("140"), d("140"))
	require.NoError(t, err)

	code, _ := s.do(t, http.MethodPut, "/api/v1/settings/"+service.FeatureOptimizationRequests, "admin", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, code)
	code, env := s.do(t, http.MethodGet, "/api/v1/settings/"+service.FeatureOptimizationRequests, "admin", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"enabled":false`)

	code, _ = s.do(t, http.MethodPost, "/api/v1/portfolios/"+pid+"/optimizations", "u1", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodPut, "/api/v1/settings/feature.unknown", "admin", map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodPut, "/api/v1/settings/"+service.FeaturePriceRefresh, "admin", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHistoryRejectsBadTime(t *testing.T) {
	s := newTestServer(t)
	pid := s.portfolio(t, "u1")
	code, env := s.do(t, http.MethodGet, "/api/v1/portfolios/"+pid+"/history?since=yesterday", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", env.Meta["kind"])
	code, _ = s.do(t, http.MethodGet, "/api/v1/portfolios/"+pid+"/history?since=2026-01-01", "u1", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHistoryUntilDateCoversWholeDay(t *testing.T) {
	s := newTestServer(t)
	pid := s.portfolio(t, "u1")
	require.NoError(t, s.repo.InsertPortfolioSnapshot(context.Background(), &models.PortfolioSnapshot{
		PortfolioID: pid,
		SnapshotAt:  time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC),
	}))

	cases := map[string]int{
		"until=2026-01-02":                  1,
		"until=2026-01-01":                  0,
		"until=2026-01-02T12:00:00Z":        0,
		"since=2026-01-02&until=2026-01-02": 1,
	}
	for query, want := range cases {
		code, env := s.do(t, http.MethodGet, "/api/v1/portfolios/"+pid+"/history?"+query, "u1", nil)
		require.Equal(t, http.StatusOK, code, query)
		var items []models.PortfolioSnapshot
		require.NoError(t, json.Unmarshal(env.Data, &items), query)
		assert.Len(t, items, want, query)
	}
}

func TestSettlePendingRequiresOperator(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodPost, "/api/v1/transactions/settle-pending", "u1", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := s.do(t, http.MethodPost, "/api/v1/transactions/settle-pending", "ops", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"settled":0`)
}
