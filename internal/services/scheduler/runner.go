package scheduler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type RunnerCfg struct {
	Tick      time.Duration `mapstructure:"tick"`
	Tolerance time.Duration `mapstructure:"tolerance"`
}

type Runner struct {
	Log *zap.Logger
	UC  *Usecase
	Cfg RunnerCfg

	mScanned prometheus.Counter
	mEnq     prometheus.Counter
	mDup     prometheus.Counter
	mErr     prometheus.Counter
	mLoopDur prometheus.Histogram
}

func New(log *zap.Logger, uc *Usecase, cfg RunnerCfg) *Runner {
	if cfg.Tolerance > 0 {
		uc.Tolerance = cfg.Tolerance
	}
	return &Runner{
		Log: log,
		UC:  uc,
		Cfg: cfg,
		mScanned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_appointments_scanned_total", Help: "Appointments found in reminder windows",
		}),
		mEnq: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_reminders_enqueued_total", Help: "Reminder notifications inserted",
		}),
		mDup: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_reminders_duplicate_total", Help: "Reminders skipped as already covered",
		}),
		mErr: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_errors_total", Help: "Errors in scheduler loop",
		}),
		mLoopDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "scheduler_loop_duration_seconds", Help: "Scheduler tick duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	st, err := r.UC.Tick(ctx)
	if err != nil {
		// Cycle aborts; the next tick retries naturally.
		r.mErr.Inc()
		r.Log.Warn("tick error", zap.Error(err))
	}
	r.mScanned.Add(float64(st.Scanned))
	r.mEnq.Add(float64(st.Enqueued))
	r.mDup.Add(float64(st.Duplicates))
	if st.Errors > 0 {
		r.mErr.Add(float64(st.Errors))
	}
	if st.Scanned > 0 {
		r.Log.Debug("reminder batch",
			zap.Int("scanned", st.Scanned),
			zap.Int("enqueued", st.Enqueued),
			zap.Int("duplicates", st.Duplicates),
			zap.Int("errors", st.Errors),
		)
	}
	r.mLoopDur.Observe(time.Since(start).Seconds())
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Cfg.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}
