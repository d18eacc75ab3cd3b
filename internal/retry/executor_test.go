package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
	}
}

func newTestExecutor(t *testing.T, cfg Config, s *recordingSleeper) *Executor {
	t.Helper()
	e, err := NewExecutor(cfg, WithSleeper(s.sleep))
	require.NoError(t, err)
	return e
}

func TestRun_SucceedsFirstAttempt(t *testing.T) {
	s := &recordingSleeper{}
	e := newTestExecutor(t, testConfig(), s)

	report, err := e.Run(context.Background(), "run-1", func(ctx context.Context, attempt int) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "run-1", report.CorrelationID)
	require.Len(t, report.Attempts, 1)
	assert.True(t, report.Attempts[0].Succeeded())
	assert.Empty(t, report.Retried())
	assert.Empty(t, s.delays)
}

func TestRun_TransientFailuresThenSuccess(t *testing.T) {
	for n := 1; n < 4; n++ {
		s := &recordingSleeper{}
		e := newTestExecutor(t, testConfig(), s)
		calls := 0

		report, err := e.Run(context.Background(), "run", func(ctx context.Context, attempt int) error {
			calls++
			if attempt <= n {
				return errors.New("503 Service Unavailable")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, n+1, calls)
		assert.Len(t, report.Retried(), n, "one retried attempt per transient failure")
		assert.Len(t, report.Attempts, n+1)
		assert.Len(t, s.delays, n)
	}
}

func TestRun_FatalStopsImmediately(t *testing.T) {
	s := &recordingSleeper{}
	e := newTestExecutor(t, testConfig(), s)
	calls := 0

	report, err := e.Run(context.Background(), "run", func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("unsupported format: image/tiff")
	})

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, fatal.Attempt)
	assert.Equal(t, "fatal_keyword", fatal.Rule)
	assert.Equal(t, 1, calls)
	assert.Empty(t, report.Retried())
	assert.Empty(t, s.delays)
}

func TestRun_Exhausted(t *testing.T) {
	s := &recordingSleeper{}
	e := newTestExecutor(t, testConfig(), s)

	report, err := e.Run(context.Background(), "run", func(ctx context.Context, attempt int) error {
		return errors.New("rate limit reached, try again later")
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	var fatal *FatalError
	assert.False(t, errors.As(err, &fatal))
	assert.Len(t, report.Attempts, 4)
	assert.Len(t, report.Retried(), 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, s.delays)
}

func TestRun_SingleAttemptPolicy(t *testing.T) {
	s := &recordingSleeper{}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	e := newTestExecutor(t, cfg, s)

	report, err := e.Run(context.Background(), "run", func(ctx context.Context, attempt int) error {
		return errors.New("connection reset by peer")
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Empty(t, report.Retried())
	assert.Empty(t, s.delays)
}

func TestRun_CanceledBeforeFirstAttempt(t *testing.T) {
	e := newTestExecutor(t, testConfig(), &recordingSleeper{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0

	report, err := e.Run(ctx, "run", func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
	assert.Empty(t, report.Attempts)
}

func TestRun_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e, err := NewExecutor(testConfig(), WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	require.NoError(t, err)
	calls := 0

	report, err := e.Run(ctx, "run", func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("timeout talking to upstream")
	})

	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, 1, calls, "no attempt is scheduled after cancellation")
	require.Len(t, report.Attempts, 1)
	assert.False(t, report.Attempts[0].Succeeded())
}

func TestRun_RealSleepObservesCancel(t *testing.T) {
	cfg := testConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = e.Run(ctx, "run", func(ctx context.Context, attempt int) error {
		return errors.New("503")
	})

	assert.ErrorIs(t, err, ErrCanceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDelay_MonotonicAndCapped(t *testing.T) {
	cfg := Config{MaxAttempts: 20, InitialDelay: 100 * time.Millisecond, MaxDelay: 3 * time.Second, Multiplier: 1.7}
	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 200; attempt++ {
		d := e.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, cfg.MaxDelay)
		prev = d
	}
	assert.Equal(t, cfg.MaxDelay, e.Delay(200))
	assert.Equal(t, 100*time.Millisecond, e.Delay(1))
}

func TestBackoff_Jitter(t *testing.T) {
	cfg := testConfig()
	cfg.Jitter = true
	s := &recordingSleeper{}
	e, err := NewExecutor(cfg, WithSleeper(s.sleep), WithRandom(func() float64 { return 0.5 }))
	require.NoError(t, err)

	_, _ = e.Run(context.Background(), "run", func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("temporarily unavailable")
		}
		return nil
	})

	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 3 * time.Second}, s.delays)
}

func TestBackoff_JitterExtendsPastMaxDelay(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 6
	cfg.Jitter = true
	s := &recordingSleeper{}
	e, err := NewExecutor(cfg, WithSleeper(s.sleep), WithRandom(func() float64 { return 0.99 }))
	require.NoError(t, err)

	_, _ = e.Run(context.Background(), "run", func(ctx context.Context, attempt int) error {
		return errors.New("temporarily unavailable")
	})

	require.Len(t, s.delays, 5)
	last := s.delays[len(s.delays)-1]
	assert.Equal(t, cfg.MaxDelay, e.Delay(5))
	assert.Greater(t, last, cfg.MaxDelay)
	for _, d := range s.delays {
		assert.Less(t, d, 2*cfg.MaxDelay)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig()
	assert.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"zero attempts":       func(c *Config) { c.MaxAttempts = 0 },
		"zero initial delay":  func(c *Config) { c.InitialDelay = 0 },
		"max below initial":   func(c *Config) { c.MaxDelay = c.InitialDelay / 2 },
		"multiplier below 1":  func(c *Config) { c.Multiplier = 0.9 },
		"infinite multiplier": func(c *Config) { c.Multiplier = posInf() },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := testConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
			_, err := NewExecutor(c)
			assert.Error(t, err)
		})
	}
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}
