// Package ledger selects credentials for tenants and records their usage.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"invoicematch/internal/metrics"
	"invoicematch/internal/model"
	"invoicematch/internal/secret"
)

// Store is the persistence the ledger needs. db.Service satisfies it.
type Store interface {
	ListTenantCredentials(ctx context.Context, tenantID string) ([]model.Credential, error)
	RecordUsage(ctx context.Context, record *model.UsageRecord, warningRatio float64) (*model.UsageSummary, error)
}

// Ledger hands out credentials and accounts for their consumption.
type Ledger struct {
	store        Store
	selector     Selector
	sealer       *secret.Sealer
	warningRatio float64
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithSelector(s Selector) Option { return func(l *Ledger) { l.selector = s } }

// WithSealer opens sealed credential secrets on Acquire.
func WithSealer(s *secret.Sealer) Option { return func(l *Ledger) { l.sealer = s } }

// WithWarningRatio sets the share of the quota below which remaining usage
// is reported as low.
func WithWarningRatio(r float64) Option { return func(l *Ledger) { l.warningRatio = r } }

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger.With("component", "ledger") }
}

func WithMetrics(m *metrics.Metrics) Option { return func(l *Ledger) { l.metrics = m } }

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		selector:     NewRandomSelector(nil),
		warningRatio: 0.1,
		now:          time.Now,
		logger:       slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire returns one Active credential of the tenant with its secret in
// plain form. When none is Active the error is a *CredentialError naming the
// most specific reason: Expired before Disabled/FullyUtilized/Blocked, and
// NoCredential when the tenant has none at all.
func (l *Ledger) Acquire(ctx context.Context, tenantID string) (model.Credential, error) {
	creds, err := l.store.ListTenantCredentials(ctx, tenantID)
	if err != nil {
		l.metrics.Acquisition("error")
		return model.Credential{}, fmt.Errorf("failed to load credentials: %w", err)
	}

	active := make([]model.Credential, 0, len(creds))
	for _, c := range creds {
		if c.Status == model.StatusActive {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		cerr := terminalError(tenantID, creds)
		l.metrics.Acquisition(string(cerr.Kind))
		l.logger.Warn("No usable credential", "tenant_id", tenantID, "kind", cerr.Kind, "credentials", len(creds))
		return model.Credential{}, cerr
	}

	cred := active[l.selector.Select(tenantID, active)]
	plain, err := l.sealer.Open(cred.Secret)
	if err != nil {
		l.metrics.Acquisition("error")
		return model.Credential{}, fmt.Errorf("failed to open secret of credential %d: %w", cred.ID, err)
	}
	cred.Secret = plain

	l.metrics.Acquisition("ok")
	l.logger.Debug("Credential acquired", "tenant_id", tenantID, "credential_id", cred.ID, "key_suffix", cred.SecretSuffix(), "candidates", len(active))
	return cred, nil
}

func terminalError(tenantID string, creds []model.Credential) *CredentialError {
	var expired, disabled model.CredentialStatus
	for _, c := range creds {
		switch c.Status {
		case model.StatusExpired:
			expired = c.Status
		case model.StatusDisabled, model.StatusFullyUtilized, model.StatusBlocked:
			if disabled == "" {
				disabled = c.Status
			}
		}
	}
	switch {
	case expired != "":
		return &CredentialError{Kind: KindExpired, TenantID: tenantID, Status: expired}
	case disabled != "":
		return &CredentialError{Kind: KindDisabled, TenantID: tenantID, Status: disabled}
	default:
		return &CredentialError{Kind: KindNoCredential, TenantID: tenantID}
	}
}

// UsageOutcome is the result of RecordUsage.
type UsageOutcome struct {
	Record         model.UsageRecord
	Summary        model.UsageSummary
	BelowThreshold bool
}

// Warning returns a KindBelowThreshold error when the remaining quota is
// under the warning threshold, and nil otherwise.
func (o *UsageOutcome) Warning() error {
	if o == nil || !o.BelowThreshold {
		return nil
	}
	return &CredentialError{Kind: KindBelowThreshold, Status: model.StatusActive}
}

// RecordUsage appends a usage record for the credential and adds its total
// to the running summary atomically.
func (l *Ledger) RecordUsage(ctx context.Context, credentialID uint, report model.UsageReport, attr model.Attribution) (*UsageOutcome, error) {
	requests := report.Requests
	if requests <= 0 {
		requests = 1
	}
	record := model.UsageRecord{
		CredentialID:         credentialID,
		Caller:               attr.Caller,
		OrgUnit:              attr.OrgUnit,
		InputTokens:          report.InputTokens,
		OutputTokens:         report.OutputTokens,
		TextPromptTokens:     report.TextPromptTokens,
		ImagePromptTokens:    report.ImagePromptTokens,
		TextCandidatesTokens: report.TextCandidatesTokens,
		Total:                report.Total(),
		RequestCount:         requests,
		LoggedAt:             l.now(),
	}
	summary, err := l.store.RecordUsage(ctx, &record, l.warningRatio)
	if err != nil {
		return nil, fmt.Errorf("failed to record usage for credential %d: %w", credentialID, err)
	}

	out := &UsageOutcome{Record: record, Summary: *summary, BelowThreshold: summary.BelowThreshold()}
	if out.BelowThreshold {
		l.logger.Warn("Credential remaining quota below warning threshold",
			"credential_id", credentialID,
			"total_used", summary.TotalUsed,
			"total_remaining", summary.TotalRemaining,
			"threshold", summary.Threshold)
	}
	return out, nil
}
