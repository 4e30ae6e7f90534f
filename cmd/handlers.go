package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pricedesk/quotes-cli/internal/backlog"
	"github.com/pricedesk/quotes-cli/internal/config"
	"github.com/pricedesk/quotes-cli/internal/model"
	"github.com/pricedesk/quotes-cli/internal/store"
)

// sessionChecker reports the messaging session state for a tenant. The
// handshake lives outside this service; only the status is read.
type sessionChecker interface {
	Status(tenantID string) model.SessionStatus
}

// staticSessions resolves webhook session identifiers to tenants and
// reports the configured status for every tenant.
type staticSessions struct {
	status  model.SessionStatus
	tenants map[string]string
}

var _ sessionChecker = (*staticSessions)(nil)

func (s *staticSessions) Status(string) model.SessionStatus { return s.status }

func (s *staticSessions) TenantFor(session string) (string, bool) {
	id, ok := s.tenants[session]
	return id, ok
}

// apiServer bundles the services behind the HTTP API.
type apiServer struct {
	env      *appEnv
	ingest   config.IngestConfig
	sessions *staticSessions
}

func newAPIServer(env *appEnv, ingest config.IngestConfig) *apiServer {
	return &apiServer{
		env:    env,
		ingest: ingest,
		sessions: &staticSessions{
			status:  model.SessionStatus(ingest.SessionStatus),
			tenants: ingest.Sessions,
		},
	}
}

func (s *apiServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/session", s.handleSession)
	r.Post("/webhook/messages", s.handleWebhookMessage)

	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Post("/messages", s.handleIngestMessage)
		r.Get("/messages", s.handleListMessages)
		r.Get("/backlog", s.handleBacklog)
		r.Post("/process", s.handleProcess)
		r.Post("/retry-failed", s.handleRetryFailed)
		r.Get("/products", s.handleListProducts)
		r.Get("/products/{productID}", s.handleGetProduct)
	})

	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleSession(w http.ResponseWriter, r *http.Request) {
	status := s.sessions.Status("")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"connected": status.Connected(),
	})
}

type incomingMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// webhookMessage is the payload pushed by the messaging integration.
// The session identifier, not the caller, names the tenant.
type webhookMessage struct {
	Session string `json:"session"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// handleWebhookMessage accepts messages pushed by the messaging
// integration, resolves the tenant from the session identifier, records
// the message, and runs extraction on it immediately. Intake is refused
// unless the tenant's session is connected.
func (s *apiServer) handleWebhookMessage(w http.ResponseWriter, r *http.Request) {
	var req webhookMessage
	if err := s.decodeBody(w, r, &req); err != nil {
		return
	}

	tenantID, ok := s.sessions.TenantFor(req.Session)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown session")
		return
	}
	if !s.sessions.Status(tenantID).Connected() {
		writeError(w, http.StatusConflict, "session not connected")
		return
	}

	msg, err := s.env.Backlog.RecordIncoming(r.Context(), tenantID, req.From, req.Message)
	if err != nil {
		s.recordError(w, err)
		return
	}

	outcome, err := s.env.Processor.ProcessMessage(r.Context(), *msg)
	if err != nil {
		// The message is recorded either way; a batch run picks it up.
		zap.L().Error("webhook processing", zap.String("message", msg.ID), zap.Error(err))
		writeJSON(w, http.StatusAccepted, map[string]any{"message": msg})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": msg,
		"outcome": outcome,
	})
}

// handleIngestMessage accepts a manually submitted message for the
// tenant in the path.
func (s *apiServer) handleIngestMessage(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req incomingMessage
	if err := s.decodeBody(w, r, &req); err != nil {
		return
	}

	msg, err := s.env.Backlog.RecordIncoming(r.Context(), tenantID, req.Sender, req.Content)
	if err != nil {
		s.recordError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// recordError distinguishes a rejected message from a store failure.
func (s *apiServer) recordError(w http.ResponseWriter, err error) {
	if eris.Is(err, backlog.ErrInvalid) {
		writeError(w, http.StatusBadRequest, "invalid message")
		return
	}
	s.internalError(w, "record message", err)
}

func (s *apiServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	filter := store.MessageFilter{
		Unprocessed: r.URL.Query().Get("unprocessed") == "true",
		Failed:      r.URL.Query().Get("failed") == "true",
	}

	msgs, err := s.env.Backlog.ListByTenant(r.Context(), tenantID, filter)
	if err != nil {
		s.internalError(w, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []model.RawMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *apiServer) handleBacklog(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	n, err := s.env.Backlog.UnprocessedCount(r.Context(), tenantID)
	if err != nil {
		s.internalError(w, "count backlog", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unprocessed": n})
}

func (s *apiServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	res, err := s.env.Processor.ProcessPendingForTenant(r.Context(), tenantID)
	if err != nil {
		s.internalError(w, "process batch", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	res, err := s.env.Processor.RetryFailedForTenant(r.Context(), tenantID)
	if err != nil {
		s.internalError(w, "retry failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	products, err := s.env.Aggregator.AggregateProducts(r.Context(), tenantID)
	if err != nil {
		s.internalError(w, "aggregate products", err)
		return
	}
	if products == nil {
		products = []model.AggregatedProduct{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *apiServer) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	productID := chi.URLParam(r, "productID")

	product, err := s.env.Aggregator.AggregateProduct(r.Context(), tenantID, productID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.internalError(w, "aggregate product", err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *apiServer) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, int64(s.ingest.MaxContentBytes))
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return err
	}
	return nil
}

func (s *apiServer) internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
