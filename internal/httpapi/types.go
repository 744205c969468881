// Package httpapi exposes the conditional-order engine and the broker
// routing engine over a JSON REST API.
package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"altair/internal/domain"
	"altair/internal/engine"
	"altair/internal/store"
)

// statusResponse is the GET /api/status payload.
type statusResponse struct {
	Service            string       `json:"service"`
	Time               time.Time    `json:"time"`
	Engine             engine.Stats `json:"engine"`
	Brokers            int          `json:"brokers"`
	PerformanceVersion uint64       `json:"performance_version"`
}

// ordersResponse lists active conditional orders.
type ordersResponse struct {
	Count  int                        `json:"count"`
	Orders []*domain.ConditionalOrder `json:"orders"`
}

// brokersResponse lists the current broker performance snapshots.
type brokersResponse struct {
	Count   int                                `json:"count"`
	Version uint64                             `json:"version"`
	Brokers []domain.BrokerPerformanceSnapshot `json:"brokers"`
}

// executionsResponse is the GET /api/executions/{date} payload.
type executionsResponse struct {
	Date       string                  `json:"date"`
	Count      int                     `json:"count"`
	Executions []store.ExecutionRecord `json:"executions"`
}

// decisionsResponse is the GET /api/decisions/{date} payload.
type decisionsResponse struct {
	Date      string                 `json:"date"`
	Count     int                    `json:"count"`
	Decisions []store.DecisionRecord `json:"decisions"`
}

// createOrderRequest is the POST /api/orders body. Lifecycle fields are
// owned by the engine and cannot be set by clients.
type createOrderRequest struct {
	ID            string                `json:"id,omitempty"`
	ParentOrderID string                `json:"parent_order_id,omitempty"`
	Symbol        string                `json:"symbol"`
	Side          domain.Side           `json:"side"`
	Quantity      int64                 `json:"quantity"`
	Strategy      domain.StrategyType   `json:"strategy"`
	Params        domain.StrategyParams `json:"params"`
	ExpiresAt     time.Time             `json:"expires_at,omitempty"`
}

func (req createOrderRequest) toOrder() *domain.ConditionalOrder {
	return &domain.ConditionalOrder{
		ID:            req.ID,
		ParentOrderID: req.ParentOrderID,
		Symbol:        strings.ToUpper(req.Symbol),
		Side:          req.Side,
		Quantity:      req.Quantity,
		Strategy:      req.Strategy,
		Params:        req.Params,
		ExpiresAt:     req.ExpiresAt,
	}
}

// modifyOrderRequest is the PATCH /api/orders/{id} body.
type modifyOrderRequest struct {
	Params domain.StrategyParams `json:"params"`
}

// routeRequest is the POST /api/route body. A nil criteria uses the
// balanced defaults; an empty candidate list means every known broker.
type routeRequest struct {
	Symbol     string                  `json:"symbol"`
	Quantity   int64                   `json:"quantity"`
	OrderType  string                  `json:"order_type,omitempty"`
	Candidates []string                `json:"candidates,omitempty"`
	Criteria   *domain.RoutingCriteria `json:"criteria,omitempty"`
}

// splitRequest is the POST /api/split body. The candidate pool is ranked
// with the given criteria before the split strategy allocates across it.
type splitRequest struct {
	ParentOrderID string                  `json:"parent_order_id,omitempty"`
	Symbol        string                  `json:"symbol"`
	Side          domain.Side             `json:"side"`
	Quantity      int64                   `json:"quantity"`
	Strategy      domain.SplitStrategy    `json:"strategy"`
	Candidates    []string                `json:"candidates,omitempty"`
	Criteria      *domain.RoutingCriteria `json:"criteria,omitempty"`
}

// errStatus maps domain errors to HTTP status codes.
func errStatus(err error) int {
	var vErr *domain.ValidationError
	var bErr *domain.BrokerUnavailableError
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateOrder), errors.Is(err, domain.ErrOrderTerminal):
		return http.StatusConflict
	case errors.Is(err, engine.ErrEngineClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &bErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
