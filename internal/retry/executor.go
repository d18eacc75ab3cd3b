// Package retry runs an unreliable operation with classification-driven
// retries and bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"invoicematch/internal/metrics"
)

// Operation is one attempt of the wrapped call. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Attempt is one entry of the in-memory attempt history.
type Attempt struct {
	Number    int
	Err       error
	Class     Class
	Rule      string
	WillRetry bool
	Delay     time.Duration
	At        time.Time
}

// Succeeded reports whether the attempt returned no error.
func (a Attempt) Succeeded() bool { return a.Err == nil }

// Report is the history of one Run.
type Report struct {
	CorrelationID string
	Attempts      []Attempt
}

// Retried returns the failed attempts that were followed by another attempt.
// These are the attempts persisted to the retry ledger.
func (r *Report) Retried() []Attempt {
	var out []Attempt
	for _, a := range r.Attempts {
		if a.WillRetry {
			out = append(out, a)
		}
	}
	return out
}

// Executor applies a Config to operations. It is safe for concurrent use.
type Executor struct {
	cfg        Config
	classifier *Classifier
	sleep      func(ctx context.Context, d time.Duration) error
	random     func() float64
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

func WithClassifier(c *Classifier) Option { return func(e *Executor) { e.classifier = c } }

// WithSleeper replaces the context-aware sleep used between attempts.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithRandom replaces the jitter source. f must return values in [0, 1).
func WithRandom(f func() float64) Option { return func(e *Executor) { e.random = f } }

func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l.With("component", "retry") }
}

func WithMetrics(m *metrics.Metrics) Option { return func(e *Executor) { e.metrics = m } }

// NewExecutor validates cfg and returns an Executor.
func NewExecutor(cfg Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	e := &Executor{
		cfg:        cfg,
		classifier: DefaultClassifier(),
		sleep:      sleepContext,
		random:     rand.Float64,
		now:        time.Now,
		logger:     slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Delay returns the backoff before the attempt following attempt, without
// jitter: min(MaxDelay, InitialDelay * Multiplier^(attempt-1)). When
// Config.Jitter is set the executor sleeps for up to twice this value.
func (e *Executor) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.Multiplier, float64(attempt-1))
	if d >= float64(e.cfg.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return e.cfg.MaxDelay
	}
	return time.Duration(d)
}

func (e *Executor) backoff(attempt int) time.Duration {
	d := e.Delay(attempt)
	if e.cfg.Jitter {
		d += time.Duration(e.random() * float64(d))
	}
	return d
}

// Run calls op until it succeeds, fails fatally, exhausts MaxAttempts or ctx
// ends. The returned Report is never nil. The error is nil, a *FatalError,
// an *ExhaustedError, or one matching ErrCanceled.
func (e *Executor) Run(ctx context.Context, correlationID string, op Operation) (*Report, error) {
	report := &Report{CorrelationID: correlationID}
	log := e.logger.With("correlation_id", correlationID)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			e.metrics.ExtractionRun("canceled")
			return report, canceled(attempt-1, err)
		}

		err := op(ctx, attempt)
		if err == nil {
			report.Attempts = append(report.Attempts, Attempt{Number: attempt, At: e.now()})
			e.metrics.ExtractionRun("ok")
			if attempt > 1 {
				log.Info("Operation succeeded after retry", "attempt", attempt)
			}
			return report, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			report.Attempts = append(report.Attempts, Attempt{Number: attempt, Err: err, At: e.now()})
			e.metrics.ExtractionRun("canceled")
			return report, canceled(attempt, ctxErr)
		}

		class, rule := e.classifier.ClassifyRule(err)
		a := Attempt{Number: attempt, Err: err, Class: class, Rule: rule, At: e.now()}
		e.metrics.RetryAttempt(string(class))

		if class == ClassFatal {
			report.Attempts = append(report.Attempts, a)
			e.metrics.ExtractionRun("fatal")
			log.Warn("Operation failed with non-retryable error", "attempt", attempt, "rule", rule, "error", err)
			return report, &FatalError{Attempt: attempt, Rule: rule, Err: err}
		}
		if attempt >= e.cfg.MaxAttempts {
			report.Attempts = append(report.Attempts, a)
			e.metrics.ExtractionRun("exhausted")
			log.Error("Retries exhausted", "attempts", attempt, "error", err)
			return report, &ExhaustedError{Attempts: attempt, Last: err}
		}

		a.WillRetry = true
		a.Delay = e.backoff(attempt)
		report.Attempts = append(report.Attempts, a)
		log.Warn("Retryable failure, backing off", "attempt", attempt, "rule", rule, "delay", a.Delay, "error", err)

		if err := e.sleep(ctx, a.Delay); err != nil {
			e.metrics.ExtractionRun("canceled")
			return report, canceled(attempt, err)
		}
	}
}
