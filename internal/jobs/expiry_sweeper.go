// expiry_sweeper.go implements the ExpirySweeper background job, which
// periodically removes elevation requests that expired without being approved
// and clears one-time codes that were never redeemed. Submit already purges
// the expired requests of its own tier before checking for conflicts; the
// sweeper keeps the tables tidy for tiers nobody is submitting to.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vaultplay/storefront-auth/internal/db/models"
	"github.com/vaultplay/storefront-auth/internal/telemetry"
)

// RequestSweeper deletes expired, unused elevation requests. An empty tier
// matches every tier.
type RequestSweeper interface {
	DeleteExpired(ctx context.Context, tier models.Tier, now time.Time) (int64, error)
}

// CodeSweeper clears one-time codes whose expiry has passed.
type CodeSweeper interface {
	ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

// ExpirySweeper periodically removes expired requests and codes.
type ExpirySweeper struct {
	requests RequestSweeper
	codes    CodeSweeper
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewExpirySweeper creates a new ExpirySweeper. A non-positive interval
// defaults to one minute.
func NewExpirySweeper(requests RequestSweeper, codes CodeSweeper, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweeper{
		requests: requests,
		codes:    codes,
		interval: interval,
		logger:   logger.With("job", "expiry_sweeper"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs a sweep immediately, then repeats on the configured interval.
// The loop exits when ctx is cancelled or Stop() is called.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval)

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("expiry sweeper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit. It is safe to call more than once.
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// RunOnce performs a single sweep and returns how many requests were deleted
// and how many codes were cleared. Failures are logged; one failing step does
// not skip the other.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (requests, codes int64) {
	now := s.now().UTC()

	n, err := s.requests.DeleteExpired(ctx, "", now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to delete expired requests", "error", err)
	} else if n > 0 {
		requests = n
		telemetry.SweptRecordsTotal.WithLabelValues("elevation_request").Add(float64(n))
	}

	n, err = s.codes.ClearExpiredCodes(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to clear expired codes", "error", err)
	} else if n > 0 {
		codes = n
		telemetry.SweptRecordsTotal.WithLabelValues("code").Add(float64(n))
	}

	if requests > 0 || codes > 0 {
		s.logger.InfoContext(ctx, "expired records swept", "requests", requests, "codes", codes)
	}
	return requests, codes
}
