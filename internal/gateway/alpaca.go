package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"altair/internal/domain"
	"altair/internal/util"
)

var _ ExecutionGateway = (*AlpacaGateway)(nil)

// AlpacaGateway routes child orders to the Alpaca trading API (paper or
// live, depending on the base URL). Fills stream back over the trade-update
// WebSocket and are forwarded to the registered FillListener.
type AlpacaGateway struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
	log     *slog.Logger

	mu       sync.Mutex
	venueIDs map[string]string // child order id -> venue order id
	listener FillListener
}

// NewAlpacaGateway creates an AlpacaGateway configured with the given
// credentials. baseURL selects the paper or live endpoint; empty uses the
// SDK default. ratePerMin <= 0 disables client-side rate limiting.
func NewAlpacaGateway(apiKey, apiSecret, baseURL string, ratePerMin int, log *slog.Logger) *AlpacaGateway {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}

	return &AlpacaGateway{
		client:   alpaca.NewClient(opts),
		limiter:  util.NewRateLimiter(ratePerMin),
		log:      log.With("gateway", "alpaca"),
		venueIDs: make(map[string]string),
	}
}

// Name returns the venue identifier.
func (g *AlpacaGateway) Name() string { return "alpaca" }

// SetListener registers the receiver for trade updates. It must be called
// before Run.
func (g *AlpacaGateway) SetListener(l FillListener) {
	g.mu.Lock()
	g.listener = l
	g.mu.Unlock()
}

// Submit places the child order with the venue. LimitPrice == 0 submits at
// market; otherwise a day limit order. The child ID is sent as the client
// order id so trade updates can be matched back.
func (g *AlpacaGateway) Submit(ctx context.Context, child domain.ChildOrder) (ExecutionAck, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return ExecutionAck{}, err
	}

	qty := decimal.NewFromInt(child.Quantity)
	req := alpaca.PlaceOrderRequest{
		Symbol:        child.Symbol,
		Qty:           &qty,
		Side:          alpacaSide(child.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: child.ID,
	}
	if child.LimitPrice > 0 {
		limit := decimal.NewFromFloat(child.LimitPrice)
		req.Type = alpaca.Limit
		req.LimitPrice = &limit
	}

	order, err := g.client.PlaceOrder(req)
	if err != nil {
		return ExecutionAck{}, fmt.Errorf("placing order %s: %w", child.ID, err)
	}

	g.mu.Lock()
	g.venueIDs[child.ID] = order.ID
	g.mu.Unlock()

	g.log.Debug("order placed",
		"child", child.ID,
		"venue_order", order.ID,
		"symbol", child.Symbol,
		"side", child.Side,
		"qty", child.Quantity,
	)

	return ExecutionAck{
		ChildOrderID:  child.ID,
		BrokerOrderID: order.ID,
		SubmittedAt:   order.SubmittedAt,
	}, nil
}

// Cancel requests cancellation of the child order at the venue. Orders not
// seen by this process are resolved through the client order id.
func (g *AlpacaGateway) Cancel(ctx context.Context, childOrderID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	venueID, ok := g.venueIDs[childOrderID]
	g.mu.Unlock()
	if !ok {
		order, err := g.client.GetOrderByClientOrderID(childOrderID)
		if err != nil {
			return fmt.Errorf("resolving order %s: %w", childOrderID, err)
		}
		venueID = order.ID
	}

	if err := g.client.CancelOrder(venueID); err != nil {
		return fmt.Errorf("cancelling order %s: %w", childOrderID, err)
	}
	return nil
}

// Run streams trade updates from the venue and forwards them to the
// registered listener. It blocks until ctx is cancelled.
func (g *AlpacaGateway) Run(ctx context.Context) error {
	g.log.Info("trade update stream starting")
	if err := g.client.StreamTradeUpdates(ctx, g.handleUpdate, alpaca.StreamTradeUpdatesRequest{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("streaming trade updates: %w", err)
	}
	return ctx.Err()
}

func (g *AlpacaGateway) handleUpdate(u alpaca.TradeUpdate) {
	g.mu.Lock()
	listener := g.listener
	g.mu.Unlock()

	childID := u.Order.ClientOrderID
	if listener == nil || childID == "" {
		return
	}

	switch u.Event {
	case "fill", "partial_fill":
		var qty int64
		if u.Qty != nil {
			qty = u.Qty.IntPart()
		}
		var price float64
		if u.Price != nil {
			price, _ = u.Price.Float64()
		}
		if qty <= 0 {
			return
		}
		listener.OnFill(childID, qty, price)

	case "rejected", "expired":
		listener.OnReject(childID, u.Event)

	case "canceled":
		// Confirms a cancel this process requested; nothing to forward.
		g.log.Debug("venue confirmed cancel", "child", childID)
	}
}

func alpacaSide(s domain.Side) alpaca.Side {
	if s == domain.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}
