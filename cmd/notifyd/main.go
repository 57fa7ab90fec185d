package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uclinic/notifyd/internal/config"
	"github.com/uclinic/notifyd/internal/domain/notification"
	"github.com/uclinic/notifyd/internal/mail"
	"github.com/uclinic/notifyd/internal/obs"
	pg "github.com/uclinic/notifyd/internal/repository/postgres"
	"github.com/uclinic/notifyd/internal/services/dispatcher"
	"github.com/uclinic/notifyd/internal/services/scheduler"
)

func main() {
	cfgPath := flag.String("config", "config/notifyd.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	l.Info("starting notifyd",
		zap.Duration("sched_tick", cfg.Sched.Tick),
		zap.Duration("dispatch_tick", cfg.Dispatch.Tick),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
	)

	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL)
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.New(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	// wiring
	notifs := pg.NewNotificationRepo(db)
	appts := pg.NewAppointmentRepo(db)
	users := pg.NewUserRepo(db)
	mailer := mail.New(cfg.SMTP, l)
	clock := notification.SystemClock{}

	schedRunner := scheduler.New(l, scheduler.NewUC(appts, notifs, clock, l), cfg.Sched)
	dispRunner := dispatcher.New(l, dispatcher.NewUC(notifs, users, mailer, clock, l), cfg.Dispatch)

	errCh := make(chan error, 2)
	go func() { errCh <- schedRunner.Run(ctx) }()
	go func() { errCh <- dispRunner.Run(ctx) }()

	l.Info("notifyd started")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("runner error", zap.Error(err))
		}
	}

	// Graceful shutdown. An in-flight send interrupted here may repeat after
	// restart; a duplicate email is tolerated.
	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
