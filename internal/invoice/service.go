// Package invoice runs one extraction request end to end: credential
// acquisition, the retried model call, usage accounting and catalog matching.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"invoicematch/internal/catalog"
	"invoicematch/internal/extraction"
	"invoicematch/internal/ledger"
	"invoicematch/internal/logger"
	"invoicematch/internal/match"
	"invoicematch/internal/model"
	"invoicematch/internal/retry"

	"github.com/google/uuid"
)

const maxErrorText = 2000

// Ledger is the credential side of a request.
type Ledger interface {
	Acquire(ctx context.Context, tenantID string) (model.Credential, error)
	RecordUsage(ctx context.Context, credentialID uint, report model.UsageReport, attr model.Attribution) (*ledger.UsageOutcome, error)
}

// AttemptStore persists retried attempts.
type AttemptStore interface {
	CreateRetryAttempts(ctx context.Context, records []model.RetryAttemptRecord) error
}

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	Get(ctx context.Context) (*catalog.Snapshot, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Ledger    Ledger
	Executor  *retry.Executor
	Extractor extraction.Extractor
	Attempts  AttemptStore
	Catalog   CatalogSource
	Engine    *match.Engine
	Match     match.MatchOptions
	Logger    *slog.Logger
	// FallbackLogger receives retry attempts that could not be stored.
	// Defaults to Logger tagged as the fallback sink.
	FallbackLogger *slog.Logger
}

// Request is one uploaded invoice.
type Request struct {
	TenantID string
	Caller   string
	OrgUnit  string
	Document extraction.Document
}

// Service processes invoice requests. It is safe for concurrent use.
type Service struct {
	Deps
	newID func() string
}

// NewService validates deps and returns a Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("invoice: ledger is required")
	case deps.Executor == nil:
		return nil, errors.New("invoice: retry executor is required")
	case deps.Extractor == nil:
		return nil, errors.New("invoice: extractor is required")
	case deps.Catalog == nil:
		return nil, errors.New("invoice: catalog is required")
	}
	if deps.Engine == nil {
		deps.Engine = match.NewEngine()
	}
	if deps.Match.Scorer == nil {
		deps.Match.Scorer = match.TokenSetRatio
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FallbackLogger == nil {
		deps.FallbackLogger = logger.Fallback(deps.Logger)
	}
	deps.Logger = deps.Logger.With("component", "invoice")
	return &Service{Deps: deps, newID: uuid.NewString}, nil
}

// Process runs the request. It never returns nil; failures are reported in
// the Outcome with one of the fixed messages.
func (s *Service) Process(ctx context.Context, req Request) *Outcome {
	out := s.process(ctx, req)
	log := s.Logger.With("request_id", out.RequestID, "tenant_id", req.TenantID, "kind", out.Kind)
	if out.Kind == KindOK {
		log.Info("Invoice processed", "products", len(out.Response.Data.Products))
	} else {
		log.Warn("Invoice request failed", "diagnostic", out.Diagnostic)
	}
	return out
}

func (s *Service) process(ctx context.Context, req Request) *Outcome {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.Caller) == "" {
		return failure(KindInvalid, MessageInvalidRequest, "missing tenant or caller")
	}

	cred, err := s.Ledger.Acquire(ctx, req.TenantID)
	if err != nil {
		if msg := ledger.MessageFor(err); msg != "" {
			return failure(KindCredential, msg, err.Error())
		}
		if ctx.Err() != nil {
			return failure(KindCanceled, MessageCanceled, err.Error())
		}
		return failure(KindInternal, MessageFailed, err.Error())
	}

	requestID := s.newID()
	var result *extraction.Result
	report, runErr := s.Executor.Run(ctx, requestID, func(ctx context.Context, attempt int) error {
		r, err := s.Extractor.Extract(ctx, cred.Secret, req.Document)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if report != nil {
		s.persistAttempts(ctx, report, cred.ID, req.TenantID)
	}

	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("%w: %w", retry.ErrCanceled, ctx.Err())
	}
	if runErr != nil {
		out := s.runFailure(runErr)
		out.RequestID = requestID
		return out
	}

	data := &InvoiceData{Header: result.Header, Usage: result.Usage, RequestID: requestID}

	usage, err := s.Ledger.RecordUsage(ctx, cred.ID, result.Usage, model.Attribution{Caller: req.Caller, OrgUnit: req.OrgUnit})
	if err != nil {
		s.Logger.Error("Failed to record usage", "request_id", requestID, "credential_id", cred.ID, "error", err)
	} else if w := usage.Warning(); w != nil {
		data.QuotaWarning = ledger.MessageFor(w)
	}

	snap, err := s.Catalog.Get(ctx)
	if err != nil {
		out := failure(KindInternal, MessageUnavailable, err.Error())
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			out = failure(KindCanceled, MessageCanceled, err.Error())
		}
		out.RequestID = requestID
		return out
	}

	data.Products = make([]Product, len(result.Items))
	for i, item := range result.Items {
		data.Products[i] = Product{
			LineItem:  item,
			ItemMatch: s.Engine.MatchItem(ctx, match.Query{Product: item.SKU, Supplier: result.Header.CompanyName}, snap, s.Match),
		}
	}

	return &Outcome{
		Response:  Response{Status: StatusOK, Message: MessageSuccess, Data: data},
		Kind:      KindOK,
		RequestID: requestID,
	}
}

func (s *Service) runFailure(err error) *Outcome {
	var fatal *retry.FatalError
	var exhausted *retry.ExhaustedError
	switch {
	case errors.Is(err, retry.ErrCanceled):
		return failure(KindCanceled, MessageCanceled, err.Error())
	case errors.As(err, &fatal):
		return failure(KindFatal, MessageFailed, fmt.Sprintf("fatal on attempt %d (rule %s): %v", fatal.Attempt, fatal.Rule, fatal.Err))
	case errors.As(err, &exhausted):
		return failure(KindExhausted, MessageFailed, fmt.Sprintf("exhausted after %d attempts: %v", exhausted.Attempts, exhausted.Last))
	default:
		return failure(KindInternal, MessageFailed, err.Error())
	}
}

// persistAttempts stores the retried attempts of report. Storage failures
// are written to the fallback log sink instead and never fail the request.
func (s *Service) persistAttempts(ctx context.Context, report *retry.Report, credentialID uint, tenantID string) {
	retried := report.Retried()
	if len(retried) == 0 {
		return
	}
	records := make([]model.RetryAttemptRecord, len(retried))
	for i, a := range retried {
		credID := credentialID
		records[i] = model.RetryAttemptRecord{
			CorrelationID: report.CorrelationID,
			CredentialID:  &credID,
			TenantID:      tenantID,
			Attempt:       a.Number,
			Class:         string(a.Class),
			ErrorText:     errorText(a.Err),
			IsRetryable:   a.Class == retry.ClassRetryable,
			Timestamp:     a.At,
		}
	}

	if s.Attempts != nil {
		err := s.Attempts.CreateRetryAttempts(context.WithoutCancel(ctx), records)
		if err == nil {
			return
		}
		s.Logger.Error("Failed to persist retry attempts", "request_id", report.CorrelationID, "error", err)
	}
	for _, r := range records {
		s.FallbackLogger.Warn("Retry attempt",
			"request_id", r.CorrelationID,
			"credential_id", credentialID,
			"tenant_id", r.TenantID,
			"attempt", r.Attempt,
			"class", r.Class,
			"is_retryable", r.IsRetryable,
			"error", r.ErrorText,
			"timestamp", r.Timestamp)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= maxErrorText {
		return msg
	}
	// Cut on a rune boundary so the stored text stays valid UTF-8.
	n := maxErrorText
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
