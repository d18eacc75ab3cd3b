package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"invoicematch/internal/catalog"
	"invoicematch/internal/model"

	"github.com/robfig/cron/v3"
)

const jobTimeout = 2 * time.Minute

// CatalogRefresher reloads the reference catalog.
type CatalogRefresher interface {
	Refresh(ctx context.Context) (*catalog.Snapshot, error)
}

// UsageLister lists the per-credential usage summaries.
type UsageLister interface {
	ListUsageSummaries(ctx context.Context) ([]model.UsageSummary, error)
}

// Schedules holds cron specs. An empty spec disables the job.
type Schedules struct {
	CatalogRefresh string
	QuotaReport    string
}

type Scheduler struct {
	cache     CatalogRefresher
	usage     UsageLister
	schedules Schedules
	logger    *slog.Logger
	c         *cron.Cron
}

func NewScheduler(cache CatalogRefresher, usage UsageLister, schedules Schedules, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cache:     cache,
		usage:     usage,
		schedules: schedules,
		logger:    logger.With("component", "scheduler"),
		c:         cron.New(),
	}
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if spec := s.schedules.CatalogRefresh; spec != "" {
		if _, err := s.c.AddFunc(spec, s.runJob("catalog_refresh", s.RefreshCatalog)); err != nil {
			return fmt.Errorf("invalid catalog refresh schedule %q: %w", spec, err)
		}
	}
	if spec := s.schedules.QuotaReport; spec != "" {
		job := func(ctx context.Context) error {
			_, err := s.ReportQuota(ctx)
			return err
		}
		if _, err := s.c.AddFunc(spec, s.runJob("quota_report", job)); err != nil {
			return fmt.Errorf("invalid quota report schedule %q: %w", spec, err)
		}
	}
	s.c.Start()
	s.logger.Info("Scheduler started", "jobs", len(s.c.Entries()))
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

func (s *Scheduler) runJob(name string, job func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("Scheduled job failed", "job", name, "error", err)
			return
		}
		s.logger.Debug("Scheduled job finished", "job", name, "elapsed", time.Since(start))
	}
}

// RefreshCatalog reloads the catalog ahead of request traffic.
func (s *Scheduler) RefreshCatalog(ctx context.Context) error {
	snap, err := s.cache.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("catalog refresh: %w", err)
	}
	s.logger.Info("Catalog refreshed", "items", snap.Len(), "generation", snap.Generation)
	return nil
}

// ReportQuota logs every credential whose remaining quota is below its
// warning threshold and returns those summaries.
func (s *Scheduler) ReportQuota(ctx context.Context) ([]model.UsageSummary, error) {
	summaries, err := s.usage.ListUsageSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("quota report: %w", err)
	}
	var low []model.UsageSummary
	for _, sum := range summaries {
		if !sum.BelowThreshold() {
			continue
		}
		low = append(low, sum)
		s.logger.Warn("Credential below quota threshold",
			"credential_id", sum.CredentialID,
			"total_used", sum.TotalUsed,
			"total_remaining", sum.TotalRemaining,
			"threshold", sum.Threshold)
	}
	s.logger.Info("Quota report", "credentials", len(summaries), "below_threshold", len(low))
	return low, nil
}
