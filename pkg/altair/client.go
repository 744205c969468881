// Package altair provides a Go client for the altair-server REST API.
package altair

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"altair/internal/domain"
	"altair/internal/engine"
	"altair/internal/store"
)

// Client talks to an altair-server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Status is the server health summary.
type Status struct {
	Service            string       `json:"service"`
	Time               time.Time    `json:"time"`
	Engine             engine.Stats `json:"engine"`
	Brokers            int          `json:"brokers"`
	PerformanceVersion uint64       `json:"performance_version"`
}

// OrderRequest registers a conditional order.
type OrderRequest struct {
	ID            string                `json:"id,omitempty"`
	ParentOrderID string                `json:"parent_order_id,omitempty"`
	Symbol        string                `json:"symbol"`
	Side          domain.Side           `json:"side"`
	Quantity      int64                 `json:"quantity"`
	Strategy      domain.StrategyType   `json:"strategy"`
	Params        domain.StrategyParams `json:"params"`
	ExpiresAt     time.Time             `json:"expires_at,omitempty"`
}

// RouteRequest asks for a broker selection.
type RouteRequest struct {
	Symbol     string                  `json:"symbol"`
	Quantity   int64                   `json:"quantity"`
	OrderType  string                  `json:"order_type,omitempty"`
	Candidates []string                `json:"candidates,omitempty"`
	Criteria   *domain.RoutingCriteria `json:"criteria,omitempty"`
}

// SplitRequest asks for an order split plan.
type SplitRequest struct {
	ParentOrderID string                  `json:"parent_order_id,omitempty"`
	Symbol        string                  `json:"symbol"`
	Side          domain.Side             `json:"side"`
	Quantity      int64                   `json:"quantity"`
	Strategy      domain.SplitStrategy    `json:"strategy"`
	Candidates    []string                `json:"candidates,omitempty"`
	Criteria      *domain.RoutingCriteria `json:"criteria,omitempty"`
}

// Status fetches the server health summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrder registers a conditional order and returns the stored copy.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*domain.ConditionalOrder, error) {
	var out domain.ConditionalOrder
	if err := c.do(ctx, http.MethodPost, "/api/orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches one active order.
func (c *Client) GetOrder(ctx context.Context, id string) (*domain.ConditionalOrder, error) {
	var out domain.ConditionalOrder
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrders returns active orders, optionally filtered by symbol and
// strategy; empty values mean no filter.
func (c *Client) ListOrders(ctx context.Context, symbol string, strategy domain.StrategyType) ([]*domain.ConditionalOrder, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if strategy != "" {
		q.Set("strategy", string(strategy))
	}
	path := "/api/orders"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Count  int                        `json:"count"`
		Orders []*domain.ConditionalOrder `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// CancelOrder cancels an active order. Cancelling an unknown or finished
// order is a no-op.
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/orders/"+url.PathEscape(id), nil, nil)
}

// ModifyOrder replaces an order's strategy parameters and returns the
// updated order.
func (c *Client) ModifyOrder(ctx context.Context, id string, params domain.StrategyParams) (*domain.ConditionalOrder, error) {
	body := struct {
		Params domain.StrategyParams `json:"params"`
	}{Params: params}

	var out domain.ConditionalOrder
	if err := c.do(ctx, http.MethodPatch, "/api/orders/"+url.PathEscape(id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Brokers returns the current broker performance snapshots.
func (c *Client) Brokers(ctx context.Context) ([]domain.BrokerPerformanceSnapshot, error) {
	var out struct {
		Brokers []domain.BrokerPerformanceSnapshot `json:"brokers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/brokers", nil, &out); err != nil {
		return nil, err
	}
	return out.Brokers, nil
}

// Route asks the server to pick the best broker for an order.
func (c *Client) Route(ctx context.Context, req RouteRequest) (*domain.RoutingDecision, error) {
	var out domain.RoutingDecision
	if err := c.do(ctx, http.MethodPost, "/api/route", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Split asks the server for an allocation plan across brokers.
func (c *Client) Split(ctx context.Context, req SplitRequest) (*domain.OrderSplitPlan, error) {
	var out domain.OrderSplitPlan
	if err := c.do(ctx, http.MethodPost, "/api/split", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Executions returns the execution events journaled on a date (YYYY-MM-DD).
func (c *Client) Executions(ctx context.Context, date string) ([]store.ExecutionRecord, error) {
	var out struct {
		Executions []store.ExecutionRecord `json:"executions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(date), nil, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

// Decisions returns the routing and split decisions journaled on a date
// (YYYY-MM-DD).
func (c *Client) Decisions(ctx context.Context, date string) ([]store.DecisionRecord, error) {
	var out struct {
		Decisions []store.DecisionRecord `json:"decisions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/decisions/"+url.PathEscape(date), nil, &out); err != nil {
		return nil, err
	}
	return out.Decisions, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
