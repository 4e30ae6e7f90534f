package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pricedesk/quotes-cli/internal/model"
	"github.com/pricedesk/quotes-cli/internal/resilience"
	"github.com/pricedesk/quotes-cli/pkg/anthropic"
)

const systemText = "You are a procurement assistant extracting supplier price offers from chat messages. Messages may be in any language. Return only a valid JSON object."

const extractPrompt = `Analyze the following supplier message and extract the product name, price, supplier name, and any specific conditions (like payment terms or delivery deadlines).
The supplier name might be implicit from the sender or context; if not explicitly stated, infer it or use null.
Return a JSON object with keys: "productName", "price" (as a number), "supplierName" (string or null), "conditions" (string or null).
If multiple products are mentioned, focus on the most prominent one.
If crucial information like product name or price is missing, return null.

Example message: "Hi, we have new stock of 'Premium Coffee Beans' at $25.50 per kg. Payment 30 days. - The Coffee Co."
Expected JSON: {"productName": "Premium Coffee Beans", "price": 25.50, "supplierName": "The Coffee Co.", "conditions": "Payment 30 days."}

Example message: "oferta especial SSD Kingston 1TB por R$350,00. Validade 2 dias. Estoque limitado."
Expected JSON: {"productName": "SSD Kingston 1TB", "price": 350.00, "supplierName": null, "conditions": "Validade 2 dias. Estoque limitado."}

Example message: "Super promoção: açucar cristal marca DoceLar, pacote 5kg por apenas 18,90. Falar com Vendas."
Expected JSON: {"productName": "Açucar cristal DoceLar 5kg", "price": 18.90, "supplierName": null, "conditions": "Falar com Vendas."}

Message to analyze:
%q

JSON Output:`

// Low temperature keeps extraction near-deterministic.
const extractTemperature = 0.2

// AnthropicConfig configures the LLM-backed extractor.
type AnthropicConfig struct {
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// AnthropicExtractor implements Extractor on top of the Anthropic API.
// A nil client means the capability is unconfigured; every Extract call
// then fails with ErrUnavailable.
type AnthropicExtractor struct {
	client  anthropic.Client
	cfg     AnthropicConfig
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewAnthropic creates an extractor. Pass a nil client when no API key
// is configured.
func NewAnthropic(client anthropic.Client, cfg AnthropicConfig) *AnthropicExtractor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 2
	}
	retryCfg := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "extract")
	return &AnthropicExtractor{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   retryCfg,
	}
}

// Available reports whether the capability is configured.
func (e *AnthropicExtractor) Available() bool {
	return e.client != nil
}

func (e *AnthropicExtractor) Extract(ctx context.Context, text string) (*model.ExtractedFact, error) {
	if e.client == nil {
		return nil, ErrUnavailable
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extractor: rate limit wait")
	}

	temp := extractTemperature
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      systemText,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(extractPrompt, text)},
		},
	}

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		zap.L().Warn("extractor: message call failed", zap.Error(err))
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}

	fact, err := ParseFact(resp.Text())
	if err != nil {
		zap.L().Debug("extractor: unusable response",
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return nil, err
	}
	return fact, nil
}

// ParseFact parses a model response into a validated fact. Formatting
// noise (code fences, prose around the object) is stripped first; any
// non-conforming payload is ErrNoExtraction, never a crash.
func ParseFact(text string) (*model.ExtractedFact, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" || cleaned == "null" {
		return nil, ErrNoExtraction
	}

	var raw struct {
		ProductName  string          `json:"productName"`
		Price        json.RawMessage `json:"price"`
		SupplierName *string         `json:"supplierName"`
		Conditions   *string         `json:"conditions"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(ErrNoExtraction, err.Error())
	}

	price, ok := parsePrice(raw.Price)
	if !ok {
		return nil, eris.Wrap(ErrNoExtraction, "non-numeric price")
	}

	fact := model.ExtractedFact{
		ProductName: strings.TrimSpace(raw.ProductName),
		Price:       price,
	}
	if raw.SupplierName != nil {
		fact.SupplierName = strings.TrimSpace(*raw.SupplierName)
	}
	if raw.Conditions != nil {
		fact.Conditions = strings.TrimSpace(*raw.Conditions)
	}

	if err := fact.Validate(); err != nil {
		return nil, eris.Wrap(ErrNoExtraction, err.Error())
	}
	return &fact, nil
}

// parsePrice accepts a JSON number or a numeric string, tolerating a
// decimal comma ("18,90").
func parsePrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return 0, false
	}
	return n, true
}

// cleanJSON strips markdown code fences and surrounding prose from a
// model response, leaving the outermost JSON object (or "null").
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
