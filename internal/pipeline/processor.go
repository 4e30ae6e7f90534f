// Package pipeline turns unprocessed messages into quotes and derives
// best-price views from the accumulated quote history.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pricedesk/quotes-cli/internal/extractor"
	"github.com/pricedesk/quotes-cli/internal/model"
	"github.com/pricedesk/quotes-cli/internal/resilience"
	"github.com/pricedesk/quotes-cli/internal/resolver"
	"github.com/pricedesk/quotes-cli/internal/store"
)

// UnknownSupplierName is assigned when neither the extraction nor the
// message sender identifies the supplier.
const UnknownSupplierName = "Unknown Supplier"

const defaultConcurrency = 4

// MessageOutcome classifies the result of processing one message.
type MessageOutcome string

const (
	// OutcomeQuoted means a quote was committed.
	OutcomeQuoted MessageOutcome = "quoted"
	// OutcomeFailed means the message was marked processed with an error.
	OutcomeFailed MessageOutcome = "failed"
	// OutcomeSkipped means another worker already processed the message.
	OutcomeSkipped MessageOutcome = "skipped"
)

// BatchResult summarizes a batch run.
type BatchResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Processor drives message extraction end to end.
type Processor struct {
	store       store.Store
	extractor   extractor.Extractor
	resolver    *resolver.Resolver
	breaker     *resilience.CircuitBreaker
	concurrency int
	now         func() time.Time
}

// NewProcessor wires a processor. Concurrency bounds the number of
// messages extracted in parallel during a batch; values below 1 use the
// default.
func NewProcessor(st store.Store, ex extractor.Extractor, concurrency int) *Processor {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	cbCfg := resilience.DefaultCircuitBreakerConfig()
	cbCfg.ShouldTrip = func(err error) bool {
		return eris.Is(err, extractor.ErrUnavailable)
	}
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("extraction circuit state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Processor{
		store:       st,
		extractor:   ex,
		resolver:    resolver.New(st),
		breaker:     resilience.NewCircuitBreaker(cbCfg),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// ProcessMessage runs the extraction pipeline for a single message.
// Failures are terminal: the message is marked processed with a reason
// and will not be retried until an operator resets it. The returned
// error covers store failures only; an unusable message or an
// unavailable backend is a normal outcome, not an error.
func (p *Processor) ProcessMessage(ctx context.Context, msg model.RawMessage) (MessageOutcome, error) {
	if msg.Processed {
		return OutcomeSkipped, nil
	}

	fact, err := resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (*model.ExtractedFact, error) {
		return p.extractor.Extract(ctx, msg.Content)
	})
	if err != nil {
		// A canceled batch leaves untouched messages unprocessed.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		reason := classifyExtractionError(err)
		if reason == "" {
			return "", eris.Wrap(err, "pipeline: extract")
		}
		return p.recordFailure(ctx, msg, reason, err)
	}

	supplierName := fact.SupplierName
	if supplierName == "" {
		supplierName = msg.Sender
	}
	if supplierName == "" {
		supplierName = UnknownSupplierName
	}

	product, err := p.resolver.ResolveProduct(ctx, msg.TenantID, fact.ProductName)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: resolve product")
	}
	supplier, err := p.resolver.ResolveSupplier(ctx, msg.TenantID, supplierName)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: resolve supplier")
	}

	quote := model.Quote{
		ID:              uuid.New().String(),
		TenantID:        msg.TenantID,
		ProductID:       product.ID,
		SupplierID:      supplier.ID,
		Price:           fact.Price,
		Conditions:      fact.Conditions,
		ExtractedAt:     p.now().UTC(),
		SourceMessageID: msg.ID,
	}
	if err := p.store.CommitQuote(ctx, quote); err != nil {
		if eris.Is(err, store.ErrConflict) {
			// Another worker claimed the message; its quote stands.
			return OutcomeSkipped, nil
		}
		return "", eris.Wrap(err, "pipeline: commit quote")
	}

	zap.L().Info("quote extracted",
		zap.String("tenant", msg.TenantID),
		zap.String("message", msg.ID),
		zap.String("product", product.Name),
		zap.String("supplier", supplier.Name),
		zap.Float64("price", quote.Price),
	)
	return OutcomeQuoted, nil
}

// ProcessPendingForTenant processes every unprocessed message for the
// tenant with bounded parallelism. Messages fail and succeed
// independently; only context cancellation or a store failure aborts
// the batch.
func (p *Processor) ProcessPendingForTenant(ctx context.Context, tenantID string) (BatchResult, error) {
	msgs, err := p.store.ListMessages(ctx, tenantID, store.MessageFilter{Unprocessed: true})
	if err != nil {
		return BatchResult{}, eris.Wrap(err, "pipeline: list pending")
	}

	res := BatchResult{Total: len(msgs)}
	if len(msgs) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, msg := range msgs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outcome, err := p.ProcessMessage(ctx, msg)
			if err != nil {
				return err
			}
			mu.Lock()
			switch outcome {
			case OutcomeQuoted:
				res.Succeeded++
			case OutcomeFailed:
				res.Failed++
			case OutcomeSkipped:
				res.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	zap.L().Info("batch complete",
		zap.String("tenant", tenantID),
		zap.Int("total", res.Total),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// RetryFailedForTenant returns failed messages to the backlog and runs a
// batch over them.
func (p *Processor) RetryFailedForTenant(ctx context.Context, tenantID string) (BatchResult, error) {
	n, err := p.store.ResetFailed(ctx, tenantID)
	if err != nil {
		return BatchResult{}, eris.Wrap(err, "pipeline: reset failed")
	}
	zap.L().Info("failed messages reset for retry",
		zap.String("tenant", tenantID),
		zap.Int("count", n),
	)
	return p.ProcessPendingForTenant(ctx, tenantID)
}

func (p *Processor) recordFailure(ctx context.Context, msg model.RawMessage, reason string, cause error) (MessageOutcome, error) {
	zap.L().Warn("message extraction failed",
		zap.String("tenant", msg.TenantID),
		zap.String("message", msg.ID),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	if err := p.store.MarkProcessed(ctx, msg.ID, reason); err != nil {
		if eris.Is(err, store.ErrConflict) {
			return OutcomeSkipped, nil
		}
		return "", eris.Wrap(err, "pipeline: mark processed")
	}
	return OutcomeFailed, nil
}

// classifyExtractionError maps an extraction error onto the stored
// failure reason. Empty string means the error is not a recognized
// extraction outcome and should propagate.
func classifyExtractionError(err error) string {
	switch {
	case eris.Is(err, extractor.ErrUnavailable), eris.Is(err, resilience.ErrCircuitOpen):
		return model.ErrReasonServiceUnavailable
	case eris.Is(err, extractor.ErrNoExtraction):
		return model.ErrReasonExtractionFailed
	default:
		return ""
	}
}
