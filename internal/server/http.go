package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	jsoniter "github.com/json-iterator/go"

	"StakePool/internal/ingestion"
	"StakePool/internal/observability"
	"StakePool/internal/persistence"
	"StakePool/internal/query"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Rebuilder restores the projection tables from the event log.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// ServerDeps holds the dependencies of the API server.
type ServerDeps struct {
	QueryService  *query.QueryService
	InjectService *ingestion.InjectService
	SnapshotMgr   *persistence.SnapshotManager
	Rebuilder     Rebuilder
	Hub           *Hub
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

// APIServer serves the JSON query and admin API plus the health probes
// and the websocket event stream.
type APIServer struct {
	httpServer *http.Server
	addr       string
	deps       *ServerDeps
}

// NewAPIServer creates the API server and registers all routes.
func NewAPIServer(addr string, deps *ServerDeps) (*APIServer, error) {
	s := &APIServer{addr: addr, deps: deps}

	mux := runtime.NewServeMux()
	routes := []struct {
		method, path string
		handler      runtime.HandlerFunc
	}{
		{"GET", "/v1/pool", s.handlePoolStatus},
		{"GET", "/v1/pool/integrity", s.handleIntegrity},
		{"GET", "/v1/users/{user_id}/position", s.handleUserPosition},
		{"GET", "/v1/users/{user_id}/requests", s.handleUserRequests},
		{"GET", "/v1/users/{user_id}/journal", s.handleJournal},
		{"GET", "/v1/batches", s.handleBatches},
		{"GET", "/v1/batches/{batch_id}", s.handleBatch},
		{"GET", "/v1/payouts", s.handlePayouts},
		{"POST", "/v1/inject/deposit", s.handleInjectDeposit},
		{"POST", "/v1/inject/delegate", s.handleInjectDelegate},
		{"POST", "/v1/inject/compound", s.handleInjectCompound},
		{"POST", "/v1/inject/close-batch", s.handleInjectBatchClose},
		{"POST", "/v1/inject/confirm", s.handleInjectConfirmation},
		{"POST", "/v1/inject/recover", s.handleInjectRecovery},
		{"POST", "/v1/inject/pause", s.handleInjectPause},
		{"POST", "/v1/admin/rebuild", s.handleRebuild},
		{"GET", "/v1/admin/log", s.handleLogInfo},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.path, err)
		}
	}

	httpMux := http.NewServeMux()
	if deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	}
	if deps.Hub != nil {
		httpMux.HandleFunc("/ws", deps.Hub.HandleWS)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: httpMux,
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *APIServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled (blocking).
func (s *APIServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: API server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: API server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ----------------------------------------------------------------------------
// Query handlers
// ----------------------------------------------------------------------------

func (s *APIServer) handlePoolStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	resp, err := s.deps.QueryService.GetPoolStatus(r.Context())
	if err != nil {
		s.writeError(w, "pool_status", http.StatusInternalServerError, err)
		return
	}
	s.observe("pool_status", start)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, "integrity", http.StatusInternalServerError, err)
		return
	}
	s.observe("integrity", start)
	s.writeJSON(w, http.StatusOK, report)
}

func (s *APIServer) handleUserPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	userID, err := uuid.Parse(pathParams["user_id"])
	if err != nil {
		s.writeError(w, "user_position", http.StatusBadRequest, fmt.Errorf("invalid user_id: %w", err))
		return
	}
	resp, err := s.deps.QueryService.GetUserPosition(r.Context(), userID)
	if err != nil {
		s.writeError(w, "user_position", http.StatusInternalServerError, err)
		return
	}
	s.observe("user_position", start)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleUserRequests(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	userID, err := uuid.Parse(pathParams["user_id"])
	if err != nil {
		s.writeError(w, "user_requests", http.StatusBadRequest, fmt.Errorf("invalid user_id: %w", err))
		return
	}
	requests, err := s.deps.QueryService.GetUserRequests(r.Context(), userID)
	if err != nil {
		s.writeError(w, "user_requests", http.StatusInternalServerError, err)
		return
	}
	s.observe("user_requests", start)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

func (s *APIServer) handleJournal(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	userID, err := uuid.Parse(pathParams["user_id"])
	if err != nil {
		s.writeError(w, "journal", http.StatusBadRequest, fmt.Errorf("invalid user_id: %w", err))
		return
	}
	limit := queryInt(r, "limit", 100)
	after := int64(queryInt(r, "after", 0))

	entries, err := s.deps.QueryService.GetJournalHistory(r.Context(), userID, limit, after)
	if err != nil {
		s.writeError(w, "journal", http.StatusInternalServerError, err)
		return
	}
	s.observe("journal", start)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *APIServer) handleBatches(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	includeSettled := r.URL.Query().Get("include_settled") == "true"
	limit := queryInt(r, "limit", 100)

	batches, err := s.deps.QueryService.GetBatches(r.Context(), includeSettled, limit)
	if err != nil {
		s.writeError(w, "batches", http.StatusInternalServerError, err)
		return
	}
	s.observe("batches", start)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"batches": batches})
}

func (s *APIServer) handleBatch(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	batchID, err := strconv.ParseInt(pathParams["batch_id"], 10, 64)
	if err != nil {
		s.writeError(w, "batch", http.StatusBadRequest, fmt.Errorf("invalid batch_id: %w", err))
		return
	}
	batch, err := s.deps.QueryService.GetBatch(r.Context(), batchID)
	if err != nil {
		s.writeError(w, "batch", http.StatusInternalServerError, err)
		return
	}
	if batch == nil {
		s.writeError(w, "batch", http.StatusNotFound, fmt.Errorf("batch %d not found", batchID))
		return
	}
	s.observe("batch", start)
	s.writeJSON(w, http.StatusOK, batch)
}

func (s *APIServer) handlePayouts(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	limit := queryInt(r, "limit", 100)

	var userID *uuid.UUID
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, "payouts", http.StatusBadRequest, fmt.Errorf("invalid user_id: %w", err))
			return
		}
		userID = &id
	}

	payouts := s.deps.QueryService.GetRecentPayouts(userID, limit)
	s.observe("payouts", start)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": payouts})
}

// ----------------------------------------------------------------------------
// Inject handlers
// ----------------------------------------------------------------------------

type injectDepositRequest struct {
	UserID   string `json:"user_id"`
	Amount   int64  `json:"amount"`
	Sequence int64  `json:"sequence"`
}

type injectTriggerRequest struct {
	ActorID      string `json:"actor_id"`
	RelayFeePaid int64  `json:"relay_fee_paid,omitempty"`
	Sequence     int64  `json:"sequence"`
}

type injectPauseRequest struct {
	ActorID  string `json:"actor_id"`
	Paused   bool   `json:"paused"`
	Sequence int64  `json:"sequence"`
}

func (s *APIServer) handleInjectDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req injectDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "inject_deposit", http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		s.writeError(w, "inject_deposit", http.StatusBadRequest, fmt.Errorf("invalid user_id: %w", err))
		return
	}
	if err := s.deps.InjectService.InjectDeposit(r.Context(), userID, req.Amount, req.Sequence); err != nil {
		s.writeError(w, "inject_deposit", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *APIServer) handleInjectDelegate(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleTrigger(w, r, "inject_delegate", func(ctx context.Context, actorID uuid.UUID, req injectTriggerRequest) error {
		return s.deps.InjectService.InjectDelegation(ctx, actorID, req.RelayFeePaid, req.Sequence)
	})
}

func (s *APIServer) handleInjectCompound(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleTrigger(w, r, "inject_compound", func(ctx context.Context, actorID uuid.UUID, req injectTriggerRequest) error {
		return s.deps.InjectService.InjectCompound(ctx, actorID, req.Sequence)
	})
}

func (s *APIServer) handleInjectBatchClose(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleTrigger(w, r, "inject_close_batch", func(ctx context.Context, actorID uuid.UUID, req injectTriggerRequest) error {
		return s.deps.InjectService.InjectBatchClose(ctx, actorID, req.Sequence)
	})
}

func (s *APIServer) handleInjectConfirmation(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleTrigger(w, r, "inject_confirm", func(ctx context.Context, actorID uuid.UUID, req injectTriggerRequest) error {
		return s.deps.InjectService.InjectConfirmation(ctx, actorID, req.Sequence)
	})
}

func (s *APIServer) handleInjectRecovery(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleTrigger(w, r, "inject_recover", func(ctx context.Context, actorID uuid.UUID, req injectTriggerRequest) error {
		return s.deps.InjectService.InjectRecovery(ctx, actorID, req.Sequence)
	})
}

func (s *APIServer) handleTrigger(
	w http.ResponseWriter,
	r *http.Request,
	endpoint string,
	inject func(ctx context.Context, actorID uuid.UUID, req injectTriggerRequest) error,
) {
	var req injectTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	actorID, err := uuid.Parse(req.ActorID)
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, fmt.Errorf("invalid actor_id: %w", err))
		return
	}
	if err := inject(r.Context(), actorID, req); err != nil {
		s.writeError(w, endpoint, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *APIServer) handleInjectPause(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req injectPauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "inject_pause", http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	actorID, err := uuid.Parse(req.ActorID)
	if err != nil {
		s.writeError(w, "inject_pause", http.StatusBadRequest, fmt.Errorf("invalid actor_id: %w", err))
		return
	}
	if err := s.deps.InjectService.InjectPause(r.Context(), actorID, req.Paused, req.Sequence); err != nil {
		s.writeError(w, "inject_pause", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// ----------------------------------------------------------------------------
// Admin handlers
// ----------------------------------------------------------------------------

// handleRebuild truncates and replays the projection tables. Pause the
// pool or stop ingestion first; the rebuild reads the event log directly
// and live folds racing a truncate can leave gaps until the next rebuild.
func (s *APIServer) handleRebuild(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.Rebuilder == nil {
		s.writeError(w, "rebuild", http.StatusNotImplemented, fmt.Errorf("rebuild not available"))
		return
	}
	if err := s.deps.Rebuilder.Rebuild(r.Context()); err != nil {
		s.writeError(w, "rebuild", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

func (s *APIServer) handleLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	lastSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		s.writeError(w, "log_info", http.StatusInternalServerError, err)
		return
	}
	s.observe("log_info", start)
	s.writeJSON(w, http.StatusOK, map[string]int64{"last_sequence": lastSeq})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: encode response: %v", err)
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, endpoint string, status int, err error) {
	if m := s.deps.Metrics; m != nil {
		m.QueryRequests.WithLabelValues(endpoint, "error").Inc()
		m.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *APIServer) observe(endpoint string, start time.Time) {
	if m := s.deps.Metrics; m != nil {
		m.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
		m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
