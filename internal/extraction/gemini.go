package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"invoicematch/internal/model"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash-lite"

const prompt = `Extract the invoice in the attached document as a single JSON object.
Header fields (strings, "" when absent): order_no, invoice_no, delivery_note,
vehicle_no, transporter, date, dealer_name, pws_no, company_name,
transaction_type, transaction_date, due_date, invoice_miti, invoice_date.
company_name is the supplier that issued the invoice.
Product fields are arrays with one element per product row, in row order:
sku, sku_code, quantity, shortage, breakage, leakage, batch, sno, rate,
discount, mrp, vat, hscode, altQty, unit.
Numeric arrays hold numbers without currency symbols or thousands separators.
Use 0 for a missing number and "" for a missing text value so that every
array has the same length. Return only the JSON object.`

// generateFunc performs one model call and returns the raw response text.
type generateFunc func(ctx context.Context, apiKey string, doc Document) (string, model.UsageReport, error)

// GeminiExtractor extracts invoices with a Gemini model.
type GeminiExtractor struct {
	model    string
	timeout  time.Duration
	logger   *slog.Logger
	generate generateFunc
}

// GeminiOption configures a GeminiExtractor.
type GeminiOption func(*GeminiExtractor)

// WithTimeout bounds each call. Zero means no per-call bound.
func WithTimeout(d time.Duration) GeminiOption { return func(g *GeminiExtractor) { g.timeout = d } }

func WithLogger(l *slog.Logger) GeminiOption { return func(g *GeminiExtractor) { g.logger = l } }

// NewGemini returns an extractor for the named model.
func NewGemini(modelName string, opts ...GeminiOption) *GeminiExtractor {
	if modelName == "" {
		modelName = DefaultModel
	}
	g := &GeminiExtractor{model: modelName, logger: slog.Default()}
	g.generate = g.callGemini
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Extract sends the document to the model and parses its answer. The
// returned error is always an *Error so that callers can classify it.
func (g *GeminiExtractor) Extract(ctx context.Context, secret string, doc Document) (*Result, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, &Error{Kind: KindInvalidInput, Message: "invalid credential: empty secret"}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	text, usage, err := g.generate(ctx, secret, doc)
	if err != nil {
		g.logger.Debug("Model call failed", "model", g.model, "elapsed", time.Since(start), "error", err)
		return nil, remoteError(err)
	}

	header, items, err := ParseResponse(text)
	if err != nil {
		g.logger.Warn("Unusable model response", "model", g.model, "error", err, "response_bytes", len(text))
		return nil, err
	}
	g.logger.Debug("Model call succeeded",
		"model", g.model,
		"elapsed", time.Since(start),
		"items", len(items),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens)
	return &Result{Header: header, Items: items, Usage: usage}, nil
}

func (g *GeminiExtractor) callGemini(ctx context.Context, apiKey string, doc Document) (string, model.UsageReport, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return "", model.UsageReport{}, fmt.Errorf("failed to create model client: %w", err)
	}
	defer client.Close()

	m := client.GenerativeModel(g.model)
	m.ResponseMIMEType = "application/json"
	var temperature float32
	m.Temperature = &temperature

	mime := strings.ToLower(strings.TrimSpace(strings.Split(doc.MIMEType, ";")[0]))
	resp, err := m.GenerateContent(ctx, genai.Blob{MIMEType: mime, Data: doc.Data}, genai.Text(prompt))
	if err != nil {
		return "", model.UsageReport{}, err
	}

	usage := model.UsageReport{Requests: 1}
	if md := resp.UsageMetadata; md != nil {
		usage.InputTokens = int64(md.PromptTokenCount)
		usage.OutputTokens = int64(md.CandidatesTokenCount)
		usage.TextCandidatesTokens = int64(md.CandidatesTokenCount)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	if b.Len() == 0 {
		return "", usage, errors.New("model returned no content")
	}
	return b.String(), usage, nil
}

// remoteError wraps a failed call, keeping the HTTP status when the API
// reported one.
func remoteError(err error) error {
	var extErr *Error
	if errors.As(err, &extErr) {
		return err
	}
	out := &Error{Kind: KindRemote, Err: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		out.Code = apiErr.Code
	}
	return out
}
