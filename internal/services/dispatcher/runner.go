package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type RunnerCfg struct {
	Tick        time.Duration `mapstructure:"tick"`
	BatchLimit  int           `mapstructure:"batch_limit"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type Runner struct {
	Log *zap.Logger
	UC  *Usecase
	Cfg RunnerCfg

	mFetched prometheus.Counter
	mSent    prometheus.Counter
	mRetried prometheus.Counter
	mDead    prometheus.Counter
	mErr     prometheus.Counter
	mLoopDur prometheus.Histogram
}

func New(log *zap.Logger, uc *Usecase, cfg RunnerCfg) *Runner {
	if cfg.BatchLimit > 0 {
		uc.BatchLimit = cfg.BatchLimit
	}
	if cfg.SendTimeout > 0 {
		uc.SendTimeout = cfg.SendTimeout
	}
	return &Runner{
		Log: log,
		UC:  uc,
		Cfg: cfg,
		mFetched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_notifications_fetched_total", Help: "Due notifications fetched from DB",
		}),
		mSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_emails_sent_total", Help: "Notifications delivered",
		}),
		mRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_retries_scheduled_total", Help: "Failed attempts scheduled for retry",
		}),
		mDead: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_dead_letters_total", Help: "Notifications moved to the dead-letter state",
		}),
		mErr: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_errors_total", Help: "Errors in dispatcher loop",
		}),
		mLoopDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "dispatcher_loop_duration_seconds", Help: "Dispatcher tick duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	log := r.Log.With(zap.String("cycle_id", uuid.NewString()))

	st, err := r.UC.Tick(ctx)
	if err != nil {
		r.mErr.Inc()
		log.Warn("tick error", zap.Error(err))
	}
	r.mFetched.Add(float64(st.Fetched))
	r.mSent.Add(float64(st.Sent))
	r.mRetried.Add(float64(st.Retried))
	r.mDead.Add(float64(st.Dead))
	if st.Errors > 0 {
		r.mErr.Add(float64(st.Errors))
	}
	if st.Fetched > 0 {
		log.Info("dispatched batch",
			zap.Int("fetched", st.Fetched),
			zap.Int("sent", st.Sent),
			zap.Int("retried", st.Retried),
			zap.Int("dead", st.Dead),
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
