package server_test

import (
	"PerpEngine/internal/observability"
	"PerpEngine/internal/projection"
	"PerpEngine/internal/query"
	"PerpEngine/internal/server"
	"PerpEngine/internal/state"
	"PerpEngine/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type env struct {
	seeded  *testutil.Seeded
	fees    *projection.FeeHistory
	metrics *observability.Metrics
	router  http.Handler
}

func newEnv(t *testing.T, configure func(*server.Deps)) *env {
	s := testutil.NewSeededEngine(t)
	reg := prometheus.NewRegistry()
	e := &env{
		seeded:  s,
		fees:    projection.NewFeeHistory(16),
		metrics: observability.NewMetrics(reg),
	}
	deps := &server.Deps{
		Reader:   query.NewLiveReader(s.Engine, s.Feed, s.Clock),
		Fees:     e.fees,
		Metrics:  e.metrics,
		Gatherer: reg,
		Logger:   zerolog.Nop(),
	}
	if configure != nil {
		configure(deps)
	}
	e.router = server.NewRouter(deps)
	return e
}

func (e *env) get(t *testing.T, path string, out interface{}) int {
	return e.do(t, http.MethodGet, path, out)
}

func (e *env) do(t *testing.T, method, path string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

// ============================================================================
// Test: Live reads
// ============================================================================

func TestGetPool(t *testing.T) {
	e := newEnv(t, nil)

	var pool query.PoolView
	require.Equal(t, http.StatusOK, e.get(t, "/v1/pools/main", &pool))
	require.Equal(t, "main", pool.ID)
	require.Equal(t, "lp", pool.LPTokenMint)
	require.ElementsMatch(t, []string{"sol", "usdc"}, pool.Custodies)
	require.False(t, pool.PricesStale)
	require.True(t, pool.AUMUSD.IsPositive())
	require.True(t, pool.LPSupply.IsPositive())
}

func TestGetPool_StalePricesAreFlagged(t *testing.T) {
	e := newEnv(t, nil)
	e.seeded.Clock.Advance(2 * time.Hour)

	var pool query.PoolView
	require.Equal(t, http.StatusOK, e.get(t, "/v1/pools/main", &pool))
	require.True(t, pool.PricesStale)
	require.True(t, pool.AUMUSD.IsZero())
}

func TestGetPool_Unknown(t *testing.T) {
	e := newEnv(t, nil)
	require.Equal(t, http.StatusNotFound, e.get(t, "/v1/pools/nope", nil))
}

func TestGetCustody(t *testing.T) {
	e := newEnv(t, nil)

	var c query.CustodyView
	require.Equal(t, http.StatusOK, e.get(t, "/v1/custodies/sol", &c))
	require.Equal(t, "sol", c.Mint)
	require.Equal(t, uint8(6), c.Decimals)
	require.False(t, c.IsStable)
	require.Equal(t, "10", c.Owned.String())
	require.Equal(t, e.seeded.Engine.Sequence()-1, c.AsOfSequence)

	require.Equal(t, http.StatusNotFound, e.get(t, "/v1/custodies/btc", nil))
}

func TestListPositions(t *testing.T) {
	e := newEnv(t, nil)
	e.seeded.OpenLong()

	var resp struct {
		Positions []query.PositionView `json:"positions"`
	}
	require.Equal(t, http.StatusOK, e.get(t, "/v1/owners/"+e.seeded.Trader.String()+"/positions", &resp))
	require.Len(t, resp.Positions, 1)

	p := resp.Positions[0]
	require.Equal(t, e.seeded.Trader, p.Owner)
	require.Equal(t, "long", p.Side)
	require.Equal(t, "Open", p.Status)
	require.Equal(t, "sol", p.Custody)
	require.NotNil(t, p.ProfitUSD)
	require.NotNil(t, p.LossUSD)
	require.NotNil(t, p.Leverage)
}

func TestListPositions_EmptyAndInvalidOwner(t *testing.T) {
	e := newEnv(t, nil)

	var resp struct {
		Positions []query.PositionView `json:"positions"`
	}
	require.Equal(t, http.StatusOK, e.get(t, "/v1/owners/"+uuid.NewString()+"/positions", &resp))
	require.Empty(t, resp.Positions)

	require.Equal(t, http.StatusBadRequest, e.get(t, "/v1/owners/not-a-uuid/positions", nil))
}

func TestGetStaking(t *testing.T) {
	e := newEnv(t, nil)

	require.Equal(t, http.StatusBadRequest, e.get(t, "/v1/stakings/"+e.seeded.LP.String()+"/gold", nil))
	require.Equal(t, http.StatusNotFound, e.get(t, "/v1/stakings/"+e.seeded.LP.String()+"/lm", nil))
	require.Equal(t, http.StatusBadRequest, e.get(t, "/v1/staking-pools/gold", nil))
}

// ============================================================================
// Test: Fee history
// ============================================================================

func TestListFees_FromRing(t *testing.T) {
	e := newEnv(t, nil)
	owner := uuid.New()
	e.fees.Add(projection.FeeHistoryEntry{Sequence: 1, CustodyID: "sol", Mint: "sol", Amount: 100, Owner: owner})
	e.fees.Add(projection.FeeHistoryEntry{Sequence: 2, CustodyID: "usdc", Mint: "usdc", Amount: 200})
	e.fees.Add(projection.FeeHistoryEntry{Sequence: 3, CustodyID: "sol", Mint: "sol", Amount: 300})

	var resp struct {
		Fees []query.FeeView `json:"fees"`
	}
	require.Equal(t, http.StatusOK, e.get(t, "/v1/fees?custody=sol", &resp))
	require.Len(t, resp.Fees, 2)
	require.Equal(t, int64(3), resp.Fees[0].Sequence)
	require.Equal(t, int64(1), resp.Fees[1].Sequence)

	require.Equal(t, http.StatusOK, e.get(t, "/v1/owners/"+owner.String()+"/fees", &resp))
	require.Len(t, resp.Fees, 1)
	require.Equal(t, "100", resp.Fees[0].Amount.String())

	require.Equal(t, http.StatusBadRequest, e.get(t, "/v1/fees?limit=ten", nil))
}

// ============================================================================
// Test: Optional surfaces
// ============================================================================

func TestHistoryRoutes_UnavailableWithoutPostgres(t *testing.T) {
	e := newEnv(t, nil)
	owner := uuid.NewString()

	for _, path := range []string{
		"/v1/owners/" + owner + "/balances",
		"/v1/owners/" + owner + "/journal",
		"/v1/owners/" + owner + "/positions/history",
		"/v1/admin/integrity",
	} {
		require.Equal(t, http.StatusServiceUnavailable, e.get(t, path, nil), path)
	}
	require.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodPost, "/v1/admin/snapshot", nil))
}

func TestAdminSnapshot(t *testing.T) {
	e := newEnv(t, func(d *server.Deps) {
		d.TakeSnapshot = func(context.Context) (int64, error) { return 42, nil }
		d.RebuildProjections = func(context.Context) error { return errors.New("db down") }
	})

	var resp map[string]int64
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/v1/admin/snapshot", &resp))
	require.Equal(t, int64(42), resp["sequence"])

	require.Equal(t, http.StatusInternalServerError, e.do(t, http.MethodPost, "/v1/admin/rebuild-projections", nil))
}

func TestHealthAndMetrics(t *testing.T) {
	health := observability.NewHealthChecker()
	e := newEnv(t, func(d *server.Deps) { d.Health = health })

	require.Equal(t, http.StatusOK, e.get(t, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, e.get(t, "/readyz", nil))
	health.SetReady(true)
	require.Equal(t, http.StatusOK, e.get(t, "/readyz", nil))

	e.get(t, "/v1/custodies/sol", nil)
	e.get(t, "/v1/custodies/sol", nil)
	e.get(t, "/v1/custodies/btc", nil)
	require.Equal(t, 2.0, promtest.ToFloat64(e.metrics.QueryRequests.WithLabelValues("/v1/custodies/{id}", "200")))
	require.Equal(t, 1.0, promtest.ToFloat64(e.metrics.QueryRequests.WithLabelValues("/v1/custodies/{id}", "404")))

	require.Equal(t, http.StatusOK, e.get(t, "/metrics", nil))
}

func TestStakingTypeRoundTrip(t *testing.T) {
	typ, err := query.ParseStakingType("lp")
	require.NoError(t, err)
	require.Equal(t, state.StakingTypeLP, typ)
}
