package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricedesk/quotes-cli/internal/backlog"
	"github.com/pricedesk/quotes-cli/internal/config"
	"github.com/pricedesk/quotes-cli/internal/extractor"
	"github.com/pricedesk/quotes-cli/internal/model"
	"github.com/pricedesk/quotes-cli/internal/pipeline"
	"github.com/pricedesk/quotes-cli/internal/store"
)

type stubExtractor struct {
	fact *model.ExtractedFact
}

func (s *stubExtractor) Extract(context.Context, string) (*model.ExtractedFact, error) {
	if s.fact == nil {
		return nil, extractor.ErrNoExtraction
	}
	return s.fact, nil
}

func newTestServer(t *testing.T, sessionStatus string, fact *model.ExtractedFact) (*apiServer, store.Store) {
	t.Helper()
	st := store.NewMemory()
	env := &appEnv{
		Store:      st,
		Processor:  pipeline.NewProcessor(st, &stubExtractor{fact: fact}, 1),
		Aggregator: pipeline.NewAggregator(st),
		Backlog:    backlog.New(st),
	}
	return newAPIServer(env, config.IngestConfig{
		SessionStatus:   sessionStatus,
		Sessions:        map[string]string{"main": "t1"},
		MaxContentBytes: 64 * 1024,
	}), st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "connected", nil)
	rec := doJSON(t, srv.router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_ResolvesTenantAndProcesses(t *testing.T) {
	fact := &model.ExtractedFact{
		ProductName:  "SSD Kingston 1TB",
		Price:        350,
		SupplierName: "Loja do Hardware",
	}
	srv, st := newTestServer(t, "connected", fact)
	router := srv.router()

	rec := doJSON(t, router, http.MethodPost, "/webhook/messages", webhookMessage{
		Session: "main", From: "+5511999", Message: "SSD por R$350",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		Outcome pipeline.MessageOutcome `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, pipeline.OutcomeQuoted, body.Outcome)

	// Extraction ran inline; no batch run is needed for the quote.
	n, err := st.CountUnprocessed(context.Background(), "t1")
	require.NoError(t, err)
	assert.Zero(t, n)

	rec = doJSON(t, router, http.MethodGet, "/tenants/t1/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var products []model.AggregatedProduct
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 1)
	require.NotNil(t, products[0].BestPrice)
	assert.Equal(t, 350.0, *products[0].BestPrice)
}

func TestWebhook_RecordsUnusableMessageAsFailed(t *testing.T) {
	srv, st := newTestServer(t, "connected", nil)

	rec := doJSON(t, srv.router(), http.MethodPost, "/webhook/messages", webhookMessage{
		Session: "main", From: "+5511999", Message: "bom dia",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	msgs, err := st.ListMessages(context.Background(), "t1", store.MessageFilter{Failed: true})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.ErrReasonExtractionFailed, msgs[0].ProcessingError)
}

func TestWebhook_UnknownSession(t *testing.T) {
	srv, st := newTestServer(t, "connected", nil)

	rec := doJSON(t, srv.router(), http.MethodPost, "/webhook/messages", webhookMessage{
		Session: "nope", From: "s", Message: "offer",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	n, err := st.CountUnprocessed(context.Background(), "t1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWebhook_RefusedWhenDisconnected(t *testing.T) {
	srv, st := newTestServer(t, "disconnected", nil)

	rec := doJSON(t, srv.router(), http.MethodPost, "/webhook/messages", webhookMessage{
		Session: "main", From: "s", Message: "offer",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	n, err := st.CountUnprocessed(context.Background(), "t1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWebhook_Validation(t *testing.T) {
	srv, _ := newTestServer(t, "connected", nil)
	router := srv.router()

	rec := doJSON(t, router, http.MethodPost, "/webhook/messages", webhookMessage{Session: "main", From: "s"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestAndProcessAndProducts(t *testing.T) {
	fact := &model.ExtractedFact{
		ProductName:  "SSD Kingston 1TB",
		Price:        350,
		SupplierName: "Loja do Hardware",
		Conditions:   "Validade 2 dias.",
	}
	srv, _ := newTestServer(t, "connected", fact)
	router := srv.router()

	rec := doJSON(t, router, http.MethodPost, "/tenants/t1/messages", incomingMessage{
		Sender: "+5511999", Content: "oferta SSD Kingston 1TB por R$350",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/tenants/t1/backlog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var count map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &count))
	assert.Equal(t, 1, count["unprocessed"])

	rec = doJSON(t, router, http.MethodPost, "/tenants/t1/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res pipeline.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Succeeded)

	rec = doJSON(t, router, http.MethodGet, "/tenants/t1/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var products []model.AggregatedProduct
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 1)
	require.NotNil(t, products[0].BestPrice)
	assert.Equal(t, 350.0, *products[0].BestPrice)
	assert.Equal(t, "Loja do Hardware", products[0].BestSupplierName)

	rec = doJSON(t, router, http.MethodGet, "/tenants/t1/products/"+products[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail pipeline.ProductDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.NotNil(t, detail.BestPrice)
	assert.Equal(t, 350.0, *detail.BestPrice)
	require.Len(t, detail.Quotes, 1)
	assert.Equal(t, 350.0, detail.Quotes[0].Price)
}

func TestGetProduct_QuoteHistoryNewestFirst(t *testing.T) {
	srv, st := newTestServer(t, "connected", nil)
	ctx := context.Background()

	require.NoError(t, st.CreateProduct(ctx, model.Product{ID: "p1", TenantID: "t1", Name: "Coffee"}, "coffee"))
	require.NoError(t, st.CreateSupplier(ctx, model.Supplier{ID: "s1", TenantID: "t1", Name: "Acme"}, "acme"))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, price := range []float64{30, 28, 29} {
		id := fmt.Sprintf("q%d", i+1)
		msg := model.RawMessage{ID: "m-" + id, TenantID: "t1", Sender: "s", Content: "c"}
		require.NoError(t, st.CreateMessage(ctx, msg))
		require.NoError(t, st.CommitQuote(ctx, model.Quote{
			ID: id, TenantID: "t1", ProductID: "p1", SupplierID: "s1",
			Price: price, ExtractedAt: base.Add(time.Duration(i) * time.Hour),
			SourceMessageID: msg.ID,
		}))
	}

	rec := doJSON(t, srv.router(), http.MethodGet, "/tenants/t1/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail pipeline.ProductDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.Quotes, 3)
	assert.Equal(t, "q3", detail.Quotes[0].ID)
	assert.Equal(t, "q2", detail.Quotes[1].ID)
	assert.Equal(t, "q1", detail.Quotes[2].ID)
	require.NotNil(t, detail.BestPrice)
	assert.Equal(t, 28.0, *detail.BestPrice)
}

func TestRetryFailedEndpoint(t *testing.T) {
	srv, st := newTestServer(t, "connected", nil)
	router := srv.router()

	rec := doJSON(t, router, http.MethodPost, "/tenants/t1/messages", incomingMessage{
		Sender: "s", Content: "unusable text",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/tenants/t1/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	failed, err := st.ListMessages(context.Background(), "t1", store.MessageFilter{Failed: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)

	rec = doJSON(t, router, http.MethodPost, "/tenants/t1/retry-failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res pipeline.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Failed, "still unusable after retry")
}

func TestListMessages_FailedFilter(t *testing.T) {
	srv, st := newTestServer(t, "connected", nil)
	router := srv.router()

	msg := model.RawMessage{ID: "m1", TenantID: "t1", Sender: "s", Content: "c"}
	require.NoError(t, st.CreateMessage(context.Background(), msg))
	require.NoError(t, st.MarkProcessed(context.Background(), "m1", model.ErrReasonExtractionFailed))

	rec := doJSON(t, router, http.MethodGet, "/tenants/t1/messages?failed=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []model.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

type failingStore struct {
	store.Store
}

func (failingStore) CreateMessage(context.Context, model.RawMessage) error {
	return eris.New("write refused")
}

func TestIngest_StoreFailureIsInternalError(t *testing.T) {
	st := failingStore{Store: store.NewMemory()}
	env := &appEnv{
		Store:      st,
		Processor:  pipeline.NewProcessor(st, &stubExtractor{}, 1),
		Aggregator: pipeline.NewAggregator(st),
		Backlog:    backlog.New(st),
	}
	srv := newAPIServer(env, config.IngestConfig{
		SessionStatus:   "connected",
		Sessions:        map[string]string{"main": "t1"},
		MaxContentBytes: 64 * 1024,
	})
	router := srv.router()

	rec := doJSON(t, router, http.MethodPost, "/tenants/t1/messages", incomingMessage{
		Sender: "s", Content: "offer",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// A payload the tracker rejects is still the caller's fault.
	rec = doJSON(t, router, http.MethodPost, "/tenants/t1/messages", incomingMessage{Sender: "s"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/webhook/messages", webhookMessage{
		Session: "main", From: "s", Message: "offer",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetProduct_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, "connected", nil)
	rec := doJSON(t, srv.router(), http.MethodGet, "/tenants/t1/products/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "pending_qr", nil)
	rec := doJSON(t, srv.router(), http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pending_qr", body["status"])
	assert.Equal(t, false, body["connected"])
}
