package altair

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"altair/internal/domain"
	"altair/internal/engine"
	"altair/internal/gateway"
	"altair/internal/httpapi"
	"altair/internal/routing"
	"altair/internal/store"
)

// newTestBackend starts a full in-process server: simulated gateway, engine,
// and three seeded brokers with alpha ahead of beta ahead of gamma on every
// factor.
func newTestBackend(t *testing.T) *Client {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

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
	alpha := domain.BrokerPerformanceSnapshot{
		BrokerID:            "alpha",
		AvgPriceImprovement: 0.03,
		AvgExecutionTimeMs:  20,
		FillRate:            0.98,
		SuccessRate:         0.99,
		UptimePercent:       99.9,
		CurrentLoad:         0.30,
		AvailableCapacity:   80,
		MaxConcurrentOrders: 100,
		AvgFee:              0.001,
		AvgImpactCost:       0.002,
	}
	beta := alpha
	beta.BrokerID = "beta"
	beta.AvgPriceImprovement = 0.015
	beta.AvgExecutionTimeMs = 50
	beta.SuccessRate = 0.96
	beta.AvgFee = 0.003
	beta.AvailableCapacity = 50
	gamma := alpha
	gamma.BrokerID = "gamma"
	gamma.AvgPriceImprovement = 0.005
	gamma.AvgExecutionTimeMs = 90
	gamma.SuccessRate = 0.92
	gamma.AvgFee = 0.006
	gamma.AvailableCapacity = 20
	perf.UpsertBatch([]domain.BrokerPerformanceSnapshot{alpha, beta, gamma})

	srv := httpapi.NewServer(eng,
		routing.NewSelector(perf, 3, log),
		routing.NewSplitter(1, nil, log),
		perf, store.NewParquetJournal(t.TempDir()), log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return NewClient(ts.URL)
}

func TestClientOrderLifecycle(t *testing.T) {
	c := newTestBackend(t)
	ctx := context.Background()

	created, err := c.CreateOrder(ctx, OrderRequest{
		ID:       "sdk-1",
		Symbol:   "aapl",
		Side:     domain.SideSell,
		Quantity: 100,
		Strategy: domain.StrategyStopLoss,
		Params:   domain.StrategyParams{StopLoss: &domain.StopLossParams{StopPrice: 95}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if created.ID != "sdk-1" || created.Symbol != "AAPL" || created.State != domain.StatePending {
		t.Fatalf("created = %+v, want pending AAPL sdk-1", created)
	}

	got, err := c.GetOrder(ctx, "sdk-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Params.StopLoss == nil || got.Params.StopLoss.StopPrice != 95 {
		t.Fatalf("params = %+v, want stop 95", got.Params)
	}

	orders, err := c.ListOrders(ctx, "AAPL", domain.StrategyStopLoss)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "sdk-1" {
		t.Fatalf("orders = %+v, want only sdk-1", orders)
	}

	modified, err := c.ModifyOrder(ctx, "sdk-1", domain.StrategyParams{
		StopLoss: &domain.StopLossParams{StopPrice: 90},
	})
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	if modified.Params.StopLoss.StopPrice != 90 {
		t.Fatalf("modified stop = %v, want 90", modified.Params.StopLoss.StopPrice)
	}

	if err := c.CancelOrder(ctx, "sdk-1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	_, err = c.GetOrder(ctx, "sdk-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("GetOrder after cancel = %v, want 404 APIError", err)
	}
}

func TestClientValidationError(t *testing.T) {
	c := newTestBackend(t)

	_, err := c.CreateOrder(context.Background(), OrderRequest{
		Symbol:   "AAPL",
		Side:     domain.SideSell,
		Quantity: 0,
		Strategy: domain.StrategyStopLoss,
		Params:   domain.StrategyParams{StopLoss: &domain.StopLossParams{StopPrice: 95}},
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message == "" {
		t.Errorf("APIError = %+v, want 422 with message", apiErr)
	}
}

func TestClientRouteAndSplit(t *testing.T) {
	c := newTestBackend(t)
	ctx := context.Background()

	decision, err := c.Route(ctx, RouteRequest{Symbol: "AAPL", Quantity: 1000, OrderType: "market"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if decision.BrokerID != "alpha" {
		t.Errorf("routed to %s, want alpha", decision.BrokerID)
	}
	if len(decision.Alternatives) != 2 || decision.Alternatives[0].BrokerID != "beta" {
		t.Errorf("alternatives = %+v, want beta then gamma", decision.Alternatives)
	}

	plan, err := c.Split(ctx, SplitRequest{
		ParentOrderID: "p-1",
		Symbol:        "AAPL",
		Side:          domain.SideBuy,
		Quantity:      500,
		Strategy:      domain.SplitWeighted,
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if plan.AllocatedQuantity() != 500 {
		t.Errorf("allocated = %d, want 500", plan.AllocatedQuantity())
	}
	// gamma normalizes to zero on every factor and carries no weight.
	if len(plan.Allocations) != 2 || plan.Allocations[0].BrokerID != "alpha" {
		t.Fatalf("allocations = %+v, want alpha then beta", plan.Allocations)
	}
	if plan.Allocations[0].Quantity <= plan.Allocations[1].Quantity {
		t.Errorf("weighted split not favoring alpha: %+v", plan.Allocations)
	}
}

func TestClientJournalReadback(t *testing.T) {
	c := newTestBackend(t)
	ctx := context.Background()

	decision, err := c.Route(ctx, RouteRequest{Symbol: "MSFT", Quantity: 250})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	date := decision.DecidedAt.UTC().Format("2006-01-02")
	decisions, err := c.Decisions(ctx, date)
	if err != nil {
		t.Fatalf("Decisions: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Kind != "route" || decisions[0].Symbol != "MSFT" {
		t.Fatalf("decisions = %+v, want the journaled route", decisions)
	}

	execs, err := c.Executions(ctx, date)
	if err != nil {
		t.Fatalf("Executions: %v", err)
	}
	if len(execs) != 0 {
		t.Errorf("executions = %+v, want none journaled", execs)
	}

	_, err = c.Decisions(ctx, "last-tuesday")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad date error = %v, want 422 APIError", err)
	}
}

func TestClientStatusAndBrokers(t *testing.T) {
	c := newTestBackend(t)
	ctx := context.Background()

	status, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Service != "altair" || status.Brokers != 3 {
		t.Errorf("status = %+v, want altair with 3 brokers", status)
	}

	brokers, err := c.Brokers(ctx)
	if err != nil {
		t.Fatalf("Brokers: %v", err)
	}
	if len(brokers) != 3 {
		t.Errorf("brokers = %d, want 3", len(brokers))
	}
}
