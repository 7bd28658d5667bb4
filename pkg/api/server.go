package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/accfleet/accfleet/pkg/core"
	"github.com/accfleet/accfleet/pkg/reports"
	"github.com/accfleet/accfleet/pkg/store"
)

// Context keys
type contextKey string

const traceIDKey contextKey = "trace_id"

// Interfaces for dependencies to enable mocking

type StoreInterface interface {
	AppendEvent(ctx context.Context, ev store.Event) (store.EventID, error)
	ReadRecentEvents(ctx context.Context, limit int) ([]store.Event, error)
	QueryEvents(ctx context.Context, filter store.EventFilter) ([]store.Event, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

type ElectionManagerInterface interface {
	IsLeader() bool
	LeaderAddr(ctx context.Context) (string, bool, error)
}

// WorkflowFactory builds the workflow to run when a warmup is started
// for an account.
type WorkflowFactory func(account core.AccountID) core.Workflow

// Server encapsulates the HTTP API server
type Server struct {
	store    StoreInterface
	core     *core.Core
	nodeID   string
	workflow WorkflowFactory
	server   *http.Server

	// accounts is swapped wholesale on fleet config reload.
	mu       sync.RWMutex
	accounts []core.AccountID

	// TLS Config
	tlsCertFile string
	tlsKeyFile  string

	// High Availability
	election ElectionManagerInterface
}

// NewServer creates a new API server instance
func NewServer(st StoreInterface, c *core.Core, nodeID string, accounts []core.AccountID, workflow WorkflowFactory, addr string) *Server {
	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/v1/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s := &Server{
		store:    st,
		core:     c,
		nodeID:   nodeID,
		accounts: accounts,
		workflow: workflow,
	}

	mux.HandleFunc("/v1/fleet", s.handleFleet)
	mux.HandleFunc("/v1/cooldowns", s.withLeaderCheck(s.handleCooldowns))
	mux.HandleFunc("/v1/warmups", s.withLeaderCheck(s.handleWarmupStart))
	mux.HandleFunc("/v1/warmups/", s.withLeaderCheck(s.handleWarmupCancel))
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/reports/", s.handleReports)
	mux.HandleFunc("/v1/admin/prune", s.withLeaderCheck(s.handlePrune))

	// Middleware: Logging, Panic Recovery, Security Headers
	handler := withLogging(withRecovery(withSecureHeaders(mux)))

	// Use default port if addr is empty
	if addr == "" {
		addr = ":8090"
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return s
}

// SetTLS configures the server to use TLS
func (s *Server) SetTLS(certFile, keyFile string) {
	s.tlsCertFile = certFile
	s.tlsKeyFile = keyFile
}

// SetElectionManager sets the election manager for HA routing
func (s *Server) SetElectionManager(em ElectionManagerInterface) {
	s.election = em
}

// SetAccounts replaces the configured fleet. Used on config hot reload.
func (s *Server) SetAccounts(accounts []core.AccountID) {
	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()
}

func (s *Server) accountList() []core.AccountID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts
}

// Accounts returns the configured fleet in priority order.
func (s *Server) Accounts() []core.AccountID {
	return s.accountList()
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		fmt.Printf(`{"level":"info","msg":"server_starting_tls","addr":"%s"}`+"\n", s.server.Addr)
		if err := s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile); err != http.ErrServerClosed {
			return err
		}
	} else {
		fmt.Printf(`{"level":"info","msg":"server_starting","addr":"%s"}`+"\n", s.server.Addr)
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	fmt.Println(`{"level":"info","msg":"server_stopping"}`)
	return s.server.Shutdown(ctx)
}

// handleFleet reports the orchestration state of every configured account.
func (s *Server) handleFleet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	sessions := make(map[core.AccountID]core.Session)
	for _, session := range s.core.Pool.Snapshot() {
		sessions[session.Account] = session
	}
	cooldowns := make(map[core.AccountID][]CooldownStatus)
	for _, status := range s.core.Ledger.Snapshot() {
		cooldowns[status.Account] = append(cooldowns[status.Account], CooldownStatus{
			Class:       string(status.Class),
			AvailableAt: status.AvailableAt,
			RemainingMs: status.Remaining.Milliseconds(),
		})
	}

	accounts := s.accountList()
	fleet := FleetStatus{
		NodeID:   s.nodeID,
		Leader:   s.election == nil || s.election.IsLeader(),
		Accounts: make([]AccountStatus, 0, len(accounts)),
	}
	for _, account := range accounts {
		status := AccountStatus{Account: string(account), Cooldowns: cooldowns[account]}
		if session, ok := sessions[account]; ok {
			status.SessionActive = true
			created := session.CreatedAt
			status.SessionCreatedAt = &created
		}
		if state, ok := s.core.Supervisor.State(account); ok {
			status.TaskState = string(state)
		}
		fleet.Accounts = append(fleet.Accounts, status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(fleet); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_encode_fleet","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}
}

// handleCooldowns records an operator-reported cooldown in the ledger.
func (s *Server) handleCooldowns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req CooldownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}
	if req.Account == "" || req.Class == "" {
		http.Error(w, `{"error":"missing_required_fields"}`, http.StatusBadRequest)
		return
	}
	if req.Seconds <= 0 {
		http.Error(w, `{"error":"seconds_must_be_positive"}`, http.StatusBadRequest)
		return
	}
	if !s.knownAccount(core.AccountID(req.Account)) {
		http.Error(w, `{"error":"unknown_account"}`, http.StatusNotFound)
		return
	}

	account := core.AccountID(req.Account)
	class := core.Class(req.Class)
	duration := time.Duration(req.Seconds * float64(time.Second))

	// The ledger emits the journal event through the daemon's sink.
	s.core.Ledger.Record(account, class, duration)

	fmt.Printf(`{"level":"info","msg":"cooldown_recorded","trace_id":"%s","account":"%s","class":"%s","seconds":%g}`+"\n",
		getTraceID(r.Context()), req.Account, req.Class, req.Seconds)

	resp := CooldownResponse{
		Account:     req.Account,
		Class:       req.Class,
		AvailableAt: time.Now().Add(s.core.Ledger.Remaining(account, class)),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_encode_response","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}
}

// handleWarmupStart launches the warmup workflow for an account.
func (s *Server) handleWarmupStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req WarmupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		http.Error(w, `{"error":"missing_required_fields"}`, http.StatusBadRequest)
		return
	}
	account := core.AccountID(req.Account)
	if !s.knownAccount(account) {
		http.Error(w, `{"error":"unknown_account"}`, http.StatusNotFound)
		return
	}

	if !s.core.Supervisor.Start(account, s.workflow(account)) {
		http.Error(w, `{"error":"task_already_active"}`, http.StatusConflict)
		return
	}

	fmt.Printf(`{"level":"info","msg":"warmup_started","trace_id":"%s","account":"%s"}`+"\n",
		getTraceID(r.Context()), req.Account)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(WarmupResponse{Account: req.Account, Status: "started"}); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_encode_response","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}
}

// handleWarmupCancel cancels a running warmup. DELETE /v1/warmups/{account}.
func (s *Server) handleWarmupCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	account := strings.TrimPrefix(r.URL.Path, "/v1/warmups/")
	if account == "" {
		http.Error(w, `{"error":"missing_account"}`, http.StatusBadRequest)
		return
	}

	// Cancel blocks until the workflow actually unwound.
	if !s.core.Supervisor.Cancel(core.AccountID(account)) {
		http.Error(w, `{"error":"no_active_task"}`, http.StatusNotFound)
		return
	}

	fmt.Printf(`{"level":"info","msg":"warmup_cancelled","trace_id":"%s","account":"%s"}`+"\n",
		getTraceID(r.Context()), account)

	w.WriteHeader(http.StatusNoContent)
}

// handleEvents returns recent journal events for diagnostics.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	filter := store.EventFilter{Limit: 50}
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			filter.Limit = val
		}
	}
	filter.Account = r.URL.Query().Get("account")
	if t := r.URL.Query().Get("type"); t != "" {
		filter.EventTypes = []store.EventType{store.EventType(t)}
	}

	events, err := s.store.QueryEvents(r.Context(), filter)
	if err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_read_events","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(events); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_encode_events","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}
}

// handleReports streams a CSV export. GET /v1/reports/{type} with
// optional from/to (RFC3339), account and limit query params.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	reportType := reports.ReportType(strings.TrimPrefix(r.URL.Path, "/v1/reports/"))
	generator, err := reports.NewReportGenerator(reportType, s.store)
	if err != nil {
		http.Error(w, `{"error":"unknown_report_type"}`, http.StatusNotFound)
		return
	}

	params := reports.ReportParams{Account: r.URL.Query().Get("account")}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			http.Error(w, `{"error":"invalid_from_timestamp"}`, http.StatusBadRequest)
			return
		}
		params.Start = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			http.Error(w, `{"error":"invalid_to_timestamp"}`, http.StatusBadRequest)
			return
		}
		params.End = t
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			params.Limit = val
		}
	}

	reader, err := generator.Generate(r.Context(), params)
	if err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_generate_report","trace_id":"%s","type":"%s","error":"%v"}`+"\n",
			getTraceID(r.Context()), reportType, err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, reportType))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_stream_report","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}
}

// handlePrune allows admin to delete old journal events.
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Retention string `json:"retention"` // e.g., "720h"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}

	retention, err := time.ParseDuration(req.Retention)
	if err != nil || retention <= 0 {
		http.Error(w, `{"error":"invalid_retention_format","example":"720h"}`, http.StatusBadRequest)
		return
	}

	count, err := s.store.PruneEvents(r.Context(), time.Now().Add(-retention))
	if err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_prune_events","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
		http.Error(w, fmt.Sprintf(`{"error":"prune_failed","details":"%v"}`, err), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"status":         "success",
		"pruned_count":   count,
		"retention_used": retention.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_encode_response","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}
}

func (s *Server) knownAccount(account core.AccountID) bool {
	for _, a := range s.accountList() {
		if a == account {
			return true
		}
	}
	return false
}

// handleHealth returns simple status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Middleware: Panic Recovery
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				fmt.Printf(`{"level":"error","msg":"panic_recovered","error":"%v","path":"%s"}`+"\n", err, r.URL.Path)
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 1. Extract or Generate Trace ID
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}

		// 2. Inject into Context
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		r = r.WithContext(ctx)

		// Wrap writer to capture status code
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		// 3. Set response header
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		fmt.Printf(`{"level":"info","msg":"http_request","trace_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`+"\n",
			traceID, r.Method, r.URL.Path, ww.status, duration.Milliseconds())
	})
}

func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback if random fails (unlikely)
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:;")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		next.ServeHTTP(w, r)
	})
}

// Middleware: Leader Check (Redirects writes to leader)
func (s *Server) withLeaderCheck(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Skip check if no election manager configured (standalone mode)
		if s.election == nil {
			next(w, r)
			return
		}

		// Only check for write methods (POST, PUT, PATCH, DELETE)
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch || r.Method == http.MethodDelete {
			if s.election.IsLeader() {
				next(w, r)
				return
			}

			// Not leader, find who is
			leaderAddr, ok, err := s.election.LeaderAddr(r.Context())
			if err != nil {
				// Don't expose internal error details, but log them
				fmt.Printf(`{"level":"error","msg":"failed_to_check_leader","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, `{"error":"service_unavailable","reason":"no_leader_elected"}`, http.StatusServiceUnavailable)
				return
			}

			// Redirect
			leaderAddr = strings.TrimRight(leaderAddr, "/")
			targetURL := fmt.Sprintf("%s%s", leaderAddr, r.URL.Path)
			if r.URL.RawQuery != "" {
				targetURL += "?" + r.URL.RawQuery
			}

			http.Redirect(w, r, targetURL, http.StatusTemporaryRedirect) // 307
			return
		}

		// Read methods allowed on followers
		next(w, r)
	}
}
