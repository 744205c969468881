package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"altair/internal/domain"
	"altair/internal/engine"
	"altair/internal/gateway"
	"altair/internal/routing"
	"altair/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// brokerSnap returns a healthy snapshot; callers tweak the factors that
// should dominate.
func brokerSnap(id string) domain.BrokerPerformanceSnapshot {
	return domain.BrokerPerformanceSnapshot{
		BrokerID:            id,
		AvgPriceImprovement: 0.01,
		AvgExecutionTimeMs:  50,
		FillRate:            0.95,
		SlippageRate:        0.02,
		SuccessRate:         0.97,
		UptimePercent:       99.5,
		CurrentLoad:         0.40,
		AvailableCapacity:   60,
		MaxConcurrentOrders: 100,
		AvgFee:              0.002,
		AvgImpactCost:       0.004,
	}
}

type fixture struct {
	handler http.Handler
	eng     *engine.Engine
	gw      *gateway.SimGateway
	perf    *routing.PerformanceStore
	audit   *store.ParquetJournal
}

// newFixture wires a server over a simulated gateway and three seeded
// brokers: alpha dominates every factor, beta is middling, gamma trails.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testLogger()

	gw := gateway.NewSimGateway(log)
	eng := engine.New(engine.Config{
		Workers:           2,
		MaxSubmitAttempts: 2,
		SubmitTimeout:     time.Second,
		RetryBackoff:      2 * time.Millisecond,
		SweepInterval:     10 * time.Millisecond,
		Minute:            20 * time.Millisecond,
	}, gw, nil, log)
	gw.SetListener(eng)
	t.Cleanup(func() { eng.Close() })

	perf := routing.NewPerformanceStore()
	alpha := brokerSnap("alpha")
	alpha.AvgPriceImprovement = 0.03
	alpha.AvgExecutionTimeMs = 20
	alpha.SuccessRate = 0.99
	alpha.AvgFee = 0.001
	alpha.AvailableCapacity = 80
	beta := brokerSnap("beta")
	gamma := brokerSnap("gamma")
	gamma.AvgPriceImprovement = 0.005
	gamma.AvgExecutionTimeMs = 90
	gamma.SuccessRate = 0.90
	gamma.AvgFee = 0.006
	gamma.AvailableCapacity = 20
	perf.UpsertBatch([]domain.BrokerPerformanceSnapshot{alpha, beta, gamma})

	audit := store.NewParquetJournal(t.TempDir())
	srv := NewServer(eng,
		routing.NewSelector(perf, 3, log),
		routing.NewSplitter(1, nil, log),
		perf, audit, log)

	return &fixture{handler: srv.Handler(), eng: eng, gw: gw, perf: perf, audit: audit}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func stopLossBody(id string, stop float64) createOrderRequest {
	return createOrderRequest{
		ID:       id,
		Symbol:   "aapl",
		Side:     domain.SideSell,
		Quantity: 100,
		Strategy: domain.StrategyStopLoss,
		Params:   domain.StrategyParams{StopLoss: &domain.StopLossParams{StopPrice: stop}},
	}
}

// ---------------------------------------------------------------------------
// Status & brokers
// ---------------------------------------------------------------------------

func TestStatusEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(t, fx.handler, "GET", "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeAs[statusResponse](t, rec)
	if resp.Service != "altair" {
		t.Errorf("service = %q, want altair", resp.Service)
	}
	if resp.Brokers != 3 {
		t.Errorf("brokers = %d, want 3", resp.Brokers)
	}
	if resp.Engine.ActiveOrders != 0 || resp.Engine.Health != 1.0 {
		t.Errorf("engine stats = %+v, want idle healthy engine", resp.Engine)
	}
	if resp.PerformanceVersion != fx.perf.Version() {
		t.Errorf("performance version = %d, want %d", resp.PerformanceVersion, fx.perf.Version())
	}
}

func TestBrokersEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(t, fx.handler, "GET", "/api/brokers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeAs[brokersResponse](t, rec)
	if resp.Count != 3 || len(resp.Brokers) != 3 {
		t.Fatalf("count = %d, brokers = %d, want 3", resp.Count, len(resp.Brokers))
	}
	if resp.Version != fx.perf.Version() {
		t.Errorf("version = %d, want %d", resp.Version, fx.perf.Version())
	}
}

// ---------------------------------------------------------------------------
// Order lifecycle
// ---------------------------------------------------------------------------

func TestOrderLifecycleOverHTTP(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(t, fx.handler, "POST", "/api/orders", stopLossBody("web-1", 95))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeAs[domain.ConditionalOrder](t, rec)
	if created.ID != "web-1" || created.Symbol != "AAPL" || created.State != domain.StatePending {
		t.Fatalf("created = %+v, want pending AAPL web-1", created)
	}

	rec = doJSON(t, fx.handler, "GET", "/api/orders", nil)
	list := decodeAs[ordersResponse](t, rec)
	if list.Count != 1 {
		t.Fatalf("list count = %d, want 1", list.Count)
	}

	rec = doJSON(t, fx.handler, "GET", "/api/orders/web-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, fx.handler, "PATCH", "/api/orders/web-1", modifyOrderRequest{
		Params: domain.StrategyParams{StopLoss: &domain.StopLossParams{StopPrice: 90}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("modify status = %d, body %s", rec.Code, rec.Body.String())
	}
	modified := decodeAs[domain.ConditionalOrder](t, rec)
	if modified.Params.StopLoss == nil || modified.Params.StopLoss.StopPrice != 90 {
		t.Fatalf("modified params = %+v, want stop 90", modified.Params)
	}

	rec = doJSON(t, fx.handler, "DELETE", "/api/orders/web-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", rec.Code)
	}

	rec = doJSON(t, fx.handler, "GET", "/api/orders/web-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after cancel status = %d, want 404", rec.Code)
	}
}

func TestListOrdersFilters(t *testing.T) {
	fx := newFixture(t)

	doJSON(t, fx.handler, "POST", "/api/orders", stopLossBody("so-1", 95))
	doJSON(t, fx.handler, "POST", "/api/orders", createOrderRequest{
		ID:       "ts-1",
		Symbol:   "MSFT",
		Side:     domain.SideSell,
		Quantity: 50,
		Strategy: domain.StrategyTrailingStop,
		Params: domain.StrategyParams{TrailingStop: &domain.TrailingStopParams{
			ReferencePrice: 400, TrailAmount: 5,
		}},
	})

	rec := doJSON(t, fx.handler, "GET", "/api/orders?symbol=msft", nil)
	list := decodeAs[ordersResponse](t, rec)
	if list.Count != 1 || list.Orders[0].ID != "ts-1" {
		t.Errorf("symbol filter = %+v, want only ts-1", list)
	}

	rec = doJSON(t, fx.handler, "GET", "/api/orders?strategy=stop_loss", nil)
	list = decodeAs[ordersResponse](t, rec)
	if list.Count != 1 || list.Orders[0].ID != "so-1" {
		t.Errorf("strategy filter = %+v, want only so-1", list)
	}

	rec = doJSON(t, fx.handler, "GET", "/api/orders?symbol=MSFT&strategy=stop_loss", nil)
	list = decodeAs[ordersResponse](t, rec)
	if list.Count != 0 {
		t.Errorf("combined filter count = %d, want 0", list.Count)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	fx := newFixture(t)

	bad := stopLossBody("", 95)
	bad.Quantity = 0
	rec := doJSON(t, fx.handler, "POST", "/api/orders", bad)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("zero quantity status = %d, want 422", rec.Code)
	}
	errBody := decodeAs[map[string]string](t, rec)
	if errBody["error"] == "" {
		t.Error("error body missing")
	}

	req := httptest.NewRequest("POST", "/api/orders", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	fx.handler.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d, want 400", raw.Code)
	}

	doJSON(t, fx.handler, "POST", "/api/orders", stopLossBody("dup-1", 95))
	rec = doJSON(t, fx.handler, "POST", "/api/orders", stopLossBody("dup-1", 95))
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate id status = %d, want 409", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestRouteEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(t, fx.handler, "POST", "/api/route", routeRequest{
		Symbol: "aapl", Quantity: 1000, OrderType: "market",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("route status = %d, body %s", rec.Code, rec.Body.String())
	}
	decision := decodeAs[domain.RoutingDecision](t, rec)
	if decision.BrokerID != "alpha" {
		t.Fatalf("selected %s, want alpha", decision.BrokerID)
	}
	if decision.Symbol != "AAPL" || decision.Quantity != 1000 {
		t.Errorf("decision echo = %s/%d, want AAPL/1000", decision.Symbol, decision.Quantity)
	}
	if len(decision.Alternatives) != 2 {
		t.Errorf("alternatives = %d, want 2", len(decision.Alternatives))
	}

	date := decision.DecidedAt.UTC().Format("2006-01-02")
	recs, err := fx.audit.ReadDecisions(context.Background(), date)
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("journaled decisions = %d, want 1", len(recs))
	}
	if recs[0].Kind != "route" || recs[0].BrokerID != "alpha" || recs[0].Quantity != 1000 {
		t.Errorf("journaled record = %+v", recs[0])
	}
}

func TestRouteNoEligibleBroker(t *testing.T) {
	fx := newFixture(t)

	criteria := domain.DefaultRoutingCriteria()
	criteria.MinBrokerHealth = 0.999
	rec := doJSON(t, fx.handler, "POST", "/api/route", routeRequest{
		Symbol: "AAPL", Quantity: 100, Criteria: &criteria,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 when every broker is filtered", rec.Code)
	}
}

func TestRouteValidation(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(t, fx.handler, "POST", "/api/route", routeRequest{Quantity: 100})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing symbol status = %d, want 422", rec.Code)
	}

	rec = doJSON(t, fx.handler, "POST", "/api/route", routeRequest{Symbol: "AAPL"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("zero quantity status = %d, want 422", rec.Code)
	}

	criteria := domain.DefaultRoutingCriteria()
	criteria.PriceWeight = 2.0
	rec = doJSON(t, fx.handler, "POST", "/api/route", routeRequest{
		Symbol: "AAPL", Quantity: 100, Criteria: &criteria,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad weights status = %d, want 422", rec.Code)
	}
}

func TestSplitEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(t, fx.handler, "POST", "/api/split", splitRequest{
		ParentOrderID: "p-1",
		Symbol:        "AAPL",
		Side:          domain.SideBuy,
		Quantity:      300,
		Strategy:      domain.SplitEqual,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("split status = %d, body %s", rec.Code, rec.Body.String())
	}
	plan := decodeAs[domain.OrderSplitPlan](t, rec)
	if plan.TotalQuantity != 300 || len(plan.Allocations) != 3 {
		t.Fatalf("plan = %+v, want 300 across 3 brokers", plan)
	}
	if got := plan.AllocatedQuantity(); got != 300 {
		t.Errorf("allocated = %d, want 300", got)
	}

	date := plan.CreatedAt.UTC().Format("2006-01-02")
	recs, err := fx.audit.ReadDecisions(context.Background(), date)
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("journaled decisions = %d, want one per allocation", len(recs))
	}
	var total int64
	for _, dr := range recs {
		if dr.Kind != "split" {
			t.Errorf("record kind = %q, want split", dr.Kind)
		}
		total += dr.Quantity
	}
	if total != 300 {
		t.Errorf("journaled quantity = %d, want 300", total)
	}
}

func TestSplitValidation(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(t, fx.handler, "POST", "/api/split", splitRequest{
		Symbol: "AAPL", Side: domain.SideBuy, Quantity: 300, Strategy: "pro-rata",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown strategy status = %d, want 422", rec.Code)
	}

	rec = doJSON(t, fx.handler, "POST", "/api/split", splitRequest{
		Symbol: "AAPL", Side: "hold", Quantity: 300, Strategy: domain.SplitEqual,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad side status = %d, want 422", rec.Code)
	}

	rec = doJSON(t, fx.handler, "POST", "/api/split", splitRequest{
		Side: domain.SideBuy, Quantity: 300, Strategy: domain.SplitEqual,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing symbol status = %d, want 422", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Journal read-back
// ---------------------------------------------------------------------------

func TestExecutionsEndpoint(t *testing.T) {
	fx := newFixture(t)

	day := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	seed := []store.ExecutionRecord{
		{OrderID: "so-1", Symbol: "AAPL", Timestamp: day.UnixMilli(),
			State: string(domain.StateSubmitted), Price: 94, Reason: "triggered"},
		{OrderID: "so-1", Symbol: "AAPL", Timestamp: day.Add(time.Second).UnixMilli(),
			State: string(domain.StateFilled), Price: 94, Filled: 100, Attempts: 1, Reason: "filled"},
	}
	if err := fx.audit.AppendExecutions(context.Background(), seed); err != nil {
		t.Fatalf("seeding journal: %v", err)
	}

	rec := doJSON(t, fx.handler, "GET", "/api/executions/2026-03-02", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); !strings.Contains(body, `"order_id"`) {
		t.Errorf("body %s missing snake_case fields", body)
	}
	resp := decodeAs[executionsResponse](t, rec)
	if resp.Date != "2026-03-02" || resp.Count != 2 || len(resp.Executions) != 2 {
		t.Fatalf("resp = %+v, want both records", resp)
	}
	if got := resp.Executions[1]; got.State != string(domain.StateFilled) || got.Filled != 100 {
		t.Errorf("fill record = %+v", got)
	}

	rec = doJSON(t, fx.handler, "GET", "/api/executions/2026-03-03", nil)
	empty := decodeAs[executionsResponse](t, rec)
	if rec.Code != http.StatusOK || empty.Count != 0 || empty.Executions == nil {
		t.Errorf("empty day = %d/%+v, want 200 with empty list", rec.Code, empty)
	}
}

func TestDecisionsEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(t, fx.handler, "POST", "/api/route", routeRequest{Symbol: "AAPL", Quantity: 500})
	if rec.Code != http.StatusOK {
		t.Fatalf("route status = %d, body %s", rec.Code, rec.Body.String())
	}
	decision := decodeAs[domain.RoutingDecision](t, rec)

	date := decision.DecidedAt.UTC().Format("2006-01-02")
	rec = doJSON(t, fx.handler, "GET", "/api/decisions/"+date, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeAs[decisionsResponse](t, rec)
	if resp.Count != 1 || len(resp.Decisions) != 1 {
		t.Fatalf("resp = %+v, want the routed decision", resp)
	}
	if got := resp.Decisions[0]; got.Kind != "route" || got.BrokerID != "alpha" || got.Quantity != 500 {
		t.Errorf("decision record = %+v", got)
	}
}

func TestJournalDateValidation(t *testing.T) {
	fx := newFixture(t)

	for _, path := range []string{"/api/executions/03-02-2026", "/api/decisions/yesterday"} {
		rec := doJSON(t, fx.handler, "GET", path, nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("GET %s status = %d, want 422", path, rec.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// Middleware & degraded wiring
// ---------------------------------------------------------------------------

func TestCORSPreflight(t *testing.T) {
	fx := newFixture(t)

	rec := doJSON(t, fx.handler, "OPTIONS", "/api/orders", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}

func TestRoutingUnconfigured(t *testing.T) {
	log := testLogger()
	gw := gateway.NewSimGateway(log)
	eng := engine.New(engine.Config{Workers: 1}, gw, nil, log)
	gw.SetListener(eng)
	t.Cleanup(func() { eng.Close() })

	h := NewServer(eng, nil, nil, nil, nil, log).Handler()

	rec := doJSON(t, h, "POST", "/api/route", routeRequest{Symbol: "AAPL", Quantity: 100})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("route status = %d, want 503", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/api/split", splitRequest{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 100, Strategy: domain.SplitEqual})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("split status = %d, want 503", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/api/executions/2026-03-02", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("executions status = %d, want 503", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/api/brokers", nil)
	brokers := decodeAs[brokersResponse](t, rec)
	if rec.Code != http.StatusOK || brokers.Count != 0 {
		t.Errorf("brokers = %d/%+v, want empty 200", rec.Code, brokers)
	}

	rec = doJSON(t, h, "GET", "/api/status", nil)
	status := decodeAs[statusResponse](t, rec)
	if rec.Code != http.StatusOK || status.Brokers != 0 {
		t.Errorf("status = %d/%+v, want 200 with zero brokers", rec.Code, status)
	}
}
