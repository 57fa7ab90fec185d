package config

import (
	"github.com/uclinic/notifyd/internal/mail"
	"github.com/uclinic/notifyd/internal/obs"
	pginfra "github.com/uclinic/notifyd/internal/repository/postgres"
	"github.com/uclinic/notifyd/internal/services/dispatcher"
	"github.com/uclinic/notifyd/internal/services/scheduler"
)

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Config struct {
	DB       pginfra.Config       `mapstructure:"db"`
	SMTP     mail.Config          `mapstructure:"smtp"`
	Sched    scheduler.RunnerCfg  `mapstructure:"sched"`
	Dispatch dispatcher.RunnerCfg `mapstructure:"dispatch"`
	OTEL     obs.OTELConfig       `mapstructure:"otel"`
	Server   Server               `mapstructure:"server"`
	Log      obs.LogConfig        `mapstructure:"log"`
}
