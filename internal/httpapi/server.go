package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"altair/internal/domain"
	"altair/internal/engine"
	"altair/internal/routing"
	"altair/internal/store"
)

// Server serves the order-management REST API. The engine is required;
// selector, splitter, perf and audit may be nil, in which case the routing
// endpoints report the feature as unavailable and decisions go unjournaled.
type Server struct {
	engine   *engine.Engine
	selector *routing.Selector
	splitter *routing.Splitter
	perf     *routing.PerformanceStore
	audit    store.AuditJournal
	log      *slog.Logger
}

// NewServer creates the API server.
func NewServer(
	eng *engine.Engine,
	selector *routing.Selector,
	splitter *routing.Splitter,
	perf *routing.PerformanceStore,
	audit store.AuditJournal,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:   eng,
		selector: selector,
		splitter: splitter,
		perf:     perf,
		audit:    audit,
		log:      log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("POST /api/orders", s.handleCreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("PATCH /api/orders/{id}", s.handleModifyOrder)
	mux.HandleFunc("GET /api/brokers", s.handleBrokers)
	mux.HandleFunc("POST /api/route", s.handleRoute)
	mux.HandleFunc("POST /api/split", s.handleSplit)
	mux.HandleFunc("GET /api/executions/{date}", s.handleExecutions)
	mux.HandleFunc("GET /api/decisions/{date}", s.handleDecisions)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Service: "altair",
		Time:    time.Now().UTC(),
		Engine:  s.engine.Stats(),
	}
	if s.perf != nil {
		resp.Brokers = s.perf.Len()
		resp.PerformanceVersion = s.perf.Version()
	}
	writeJSON(w, resp)
}

// ---------------------------------------------------------------------------
// Conditional orders
// ---------------------------------------------------------------------------

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.ListActive()

	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	strategy := domain.StrategyType(r.URL.Query().Get("strategy"))
	if symbol != "" || strategy != "" {
		filtered := make([]*domain.ConditionalOrder, 0, len(orders))
		for _, o := range orders {
			if symbol != "" && o.Symbol != symbol {
				continue
			}
			if strategy != "" && o.Strategy != strategy {
				continue
			}
			filtered = append(filtered, o)
		}
		orders = filtered
	}
	if orders == nil {
		orders = []*domain.ConditionalOrder{}
	}

	writeJSON(w, ordersResponse{Count: len(orders), Orders: orders})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	id, err := s.engine.RegisterStrategy(req.toOrder())
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	created, err := s.engine.GetOrder(id)
	if err != nil {
		// The order finished between registration and this read.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": id})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.GetOrder(r.PathValue("id"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(r.PathValue("id")); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req modifyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := s.engine.Modify(id, req.Params); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	order, err := s.engine.GetOrder(id)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, order)
}

// ---------------------------------------------------------------------------
// Broker routing
// ---------------------------------------------------------------------------

func (s *Server) handleBrokers(w http.ResponseWriter, r *http.Request) {
	resp := brokersResponse{Brokers: []domain.BrokerPerformanceSnapshot{}}
	if s.perf != nil {
		snaps, version := s.perf.SnapshotAll()
		if snaps != nil {
			resp.Brokers = snaps
		}
		resp.Version = version
	}
	resp.Count = len(resp.Brokers)
	writeJSON(w, resp)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if s.selector == nil {
		writeError(w, http.StatusServiceUnavailable, "routing not configured")
		return
	}

	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Symbol == "" {
		err := &domain.ValidationError{Field: "symbol", Reason: "must not be empty"}
		writeError(w, errStatus(err), err.Error())
		return
	}
	if req.Quantity <= 0 {
		err := &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
		writeError(w, errStatus(err), err.Error())
		return
	}

	criteria := domain.DefaultRoutingCriteria()
	if req.Criteria != nil {
		criteria = *req.Criteria
	}

	decision, err := s.selector.Select(strings.ToUpper(req.Symbol), req.Quantity, req.OrderType, req.Candidates, criteria)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	s.journalRoute(r.Context(), decision)
	writeJSON(w, decision)
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	if s.selector == nil || s.splitter == nil {
		writeError(w, http.StatusServiceUnavailable, "routing not configured")
		return
	}

	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Symbol == "" {
		err := &domain.ValidationError{Field: "symbol", Reason: "must not be empty"}
		writeError(w, errStatus(err), err.Error())
		return
	}

	criteria := domain.DefaultRoutingCriteria()
	if req.Criteria != nil {
		criteria = *req.Criteria
	}

	symbol := strings.ToUpper(req.Symbol)
	ranked, err := s.selector.Rank(symbol, req.Candidates, criteria)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	plan, err := s.splitter.Split(req.ParentOrderID, symbol, req.Side, req.Quantity, ranked, req.Strategy)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	s.journalSplit(r.Context(), plan, ranked)
	writeJSON(w, plan)
}

// ---------------------------------------------------------------------------
// Journal read-back
// ---------------------------------------------------------------------------

// journalDate validates the {date} path value and checks that a journal is
// configured. A false return means the error response has been written.
func (s *Server) journalDate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return "", false
	}
	date := r.PathValue("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		vErr := &domain.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
		writeError(w, errStatus(vErr), vErr.Error())
		return "", false
	}
	return date, true
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	date, ok := s.journalDate(w, r)
	if !ok {
		return
	}
	recs, err := s.audit.ReadExecutions(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []store.ExecutionRecord{}
	}
	writeJSON(w, executionsResponse{Date: date, Count: len(recs), Executions: recs})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	date, ok := s.journalDate(w, r)
	if !ok {
		return
	}
	recs, err := s.audit.ReadDecisions(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []store.DecisionRecord{}
	}
	writeJSON(w, decisionsResponse{Date: date, Count: len(recs), Decisions: recs})
}

// ---------------------------------------------------------------------------
// Decision journaling
// ---------------------------------------------------------------------------

func (s *Server) journalRoute(ctx context.Context, decision *domain.RoutingDecision) {
	if s.audit == nil {
		return
	}
	rec := store.DecisionRecord{
		Timestamp:    decision.DecidedAt.UnixMilli(),
		Kind:         "route",
		Symbol:       decision.Symbol,
		BrokerID:     decision.BrokerID,
		Quantity:     decision.Quantity,
		Score:        decision.Score,
		Alternatives: int64(len(decision.Alternatives)),
		Reason:       decision.PrimaryReason,
	}
	if err := s.audit.AppendDecisions(ctx, []store.DecisionRecord{rec}); err != nil {
		s.log.Error("journaling routing decision", "error", err)
	}
}

// journalSplit writes one record per allocation so the journal carries the
// full fan-out, not just the winning broker.
func (s *Server) journalSplit(ctx context.Context, plan *domain.OrderSplitPlan, ranked []domain.RankedBroker) {
	if s.audit == nil {
		return
	}
	scores := make(map[string]float64, len(ranked))
	for _, rb := range ranked {
		scores[rb.BrokerID] = rb.Score
	}

	ts := plan.CreatedAt.UnixMilli()
	recs := make([]store.DecisionRecord, 0, len(plan.Allocations))
	for _, a := range plan.Allocations {
		recs = append(recs, store.DecisionRecord{
			Timestamp:    ts,
			Kind:         "split",
			Symbol:       plan.Symbol,
			BrokerID:     a.BrokerID,
			Quantity:     a.Quantity,
			Score:        scores[a.BrokerID],
			Alternatives: int64(len(plan.Allocations)),
			Reason:       a.Reason,
		})
	}
	if err := s.audit.AppendDecisions(ctx, recs); err != nil {
		s.log.Error("journaling split decisions", "error", err)
	}
}
