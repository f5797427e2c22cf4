package syncer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
)

const (
	// DefaultRefreshInterval is how often the session re-authenticates and
	// re-syncs when the token carries no expiry.
	DefaultRefreshInterval = 15 * time.Minute

	// DefaultExpiryLead is how long before token expiry a refresh runs.
	DefaultExpiryLead = time.Minute

	// retryBase and maxBackoff shape the backoff after failed refreshes.
	retryBase  = 5 * time.Second
	maxBackoff = 5 * time.Minute

	minDelay = time.Second
)

// RefreshTarget is what the refresher drives, normally the client.
type RefreshTarget interface {
	Refresh(ctx context.Context) error
	ExpiresAt() (time.Time, bool)
}

// RefresherMetrics is implemented by the metrics package.
type RefresherMetrics interface {
	IncRefresh(outcome string)
	SetRefreshLastSuccess(unixSeconds float64)
}

type RefresherOptions struct {
	Logger   log.Logger
	Target   RefreshTarget
	Interval time.Duration

	// ExpiryLead is how far ahead of JWT expiry to refresh.
	ExpiryLead time.Duration

	// OnRefresh is called after a successful refresh on the run goroutine.
	OnRefresh func()

	Metrics RefresherMetrics
}

// Refresher periodically re-authenticates and re-syncs. It schedules the
// next run at the earlier of the interval and token expiry minus the lead,
// and backs off exponentially while refreshes fail.
type Refresher struct {
	target    RefreshTarget
	logger    log.Logger
	interval  time.Duration
	lead      time.Duration
	onRefresh func()
	metrics   RefresherMetrics

	consecutiveErrs int
	refreshCount    int64
	now             func() time.Time
}

func NewRefresher(opts RefresherOptions) *Refresher {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	lead := opts.ExpiryLead
	if lead <= 0 {
		lead = DefaultExpiryLead
	}
	return &Refresher{
		target:    opts.Target,
		logger:    log.OrNop(opts.Logger),
		interval:  interval,
		lead:      lead,
		onRefresh: opts.OnRefresh,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled.
// Intended to be launched as: go refresher.Run(ctx)
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info(ctx, "refresher starting",
		"interval", r.interval.String(),
		"expiry_lead", r.lead.String(),
	)

	timer := time.NewTimer(r.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "refresher stopping",
				"reason", ctx.Err(),
				"refreshes", r.refreshCount,
			)
			return ctx.Err()
		case <-timer.C:
			if r.refreshOnce(ctx) {
				if r.consecutiveErrs > 0 {
					r.logger.Info(ctx, "refresher: recovered",
						"had_consecutive_errors", r.consecutiveErrs,
					)
				}
				r.consecutiveErrs = 0
			} else {
				r.consecutiveErrs++
			}
			next := r.nextDelay()
			if r.consecutiveErrs > 0 {
				r.logger.Warn(ctx, "refresher: backing off",
					"consecutive_errors", r.consecutiveErrs,
					"next_refresh_in", next.String(),
				)
			}
			timer.Reset(next)
		}
	}
}

// refreshOnce runs one refresh and reports success.
func (r *Refresher) refreshOnce(ctx context.Context) bool {
	r.refreshCount++
	if err := r.target.Refresh(ctx); err != nil {
		r.logger.Error(ctx, err, "refresher: refresh failed")
		if r.metrics != nil {
			r.metrics.IncRefresh("error")
		}
		return false
	}
	if r.metrics != nil {
		r.metrics.IncRefresh("ok")
		r.metrics.SetRefreshLastSuccess(float64(r.now().Unix()))
	}
	if r.onRefresh != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error(ctx, fmt.Errorf("OnRefresh panic: %v", p),
						"refresher: OnRefresh callback panicked, continuing",
					)
				}
			}()
			r.onRefresh()
		}()
	}
	return true
}

// nextDelay returns the backoff while failing, else the earlier of the
// interval and the time left before expiry minus the lead.
func (r *Refresher) nextDelay() time.Duration {
	if r.consecutiveErrs > 0 {
		return r.backoffDuration()
	}
	d := r.interval
	if exp, ok := r.target.ExpiresAt(); ok {
		if until := exp.Sub(r.now()) - r.lead; until < d {
			d = until
		}
	}
	if d < minDelay {
		d = minDelay
	}
	return d
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x retryBase, =2 → 4x, =3 → 8x, etc.
func (r *Refresher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(r.consecutiveErrs))
	if mult >= float64(maxBackoff/retryBase) {
		return maxBackoff
	}
	return time.Duration(float64(retryBase) * mult)
}
