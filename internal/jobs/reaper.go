package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/storage"
)

const stuckMessage = "review timed out: no progress before the stuck-job threshold"

// Reaper is the safety net for reviews abandoned mid-flight (worker crash,
// engine hang past its deadline): it periodically fails every processing or
// in_progress review whose last update is older than the threshold.
type Reaper struct {
	store     storage.Store
	pub       core.Publisher
	interval  time.Duration
	threshold time.Duration
	logger    *slog.Logger
}

// NewReaper creates a stuck-job reaper.
func NewReaper(store storage.Store, pub core.Publisher, interval, threshold time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if threshold <= 0 {
		threshold = 30 * time.Minute
	}
	return &Reaper{store: store, pub: pub, interval: interval, threshold: threshold, logger: logger}
}

// Run sweeps on a ticker until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("stuck-job reaper started", "interval", r.interval, "threshold", r.threshold)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stuck-job reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.threshold)
	reviews, err := r.store.SweepStuckReviews(ctx, cutoff, stuckMessage)
	if err != nil {
		r.logger.Error("stuck-job sweep failed", "error", err)
		return
	}
	for i := range reviews {
		review := &reviews[i]
		r.logger.Warn("reaped stuck review", "review_id", review.ID, "created_by", review.CreatedBy)
		r.pub.Publish(core.ReviewGroup(review.ID), core.ReviewErrorEvent(stuckMessage, "review failed"))
		r.pub.Publish(core.UserGroup(review.CreatedBy),
			core.ReviewStatusUpdateEvent(review.ID, core.StatusFailed, 0))
	}
}
