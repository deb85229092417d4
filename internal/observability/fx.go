package observability

import (
	"os"

	"github.com/meterbill/meterbill/internal/config"
	"github.com/meterbill/meterbill/internal/observability/logger"
	"github.com/meterbill/meterbill/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(provideLogger),
	fx.Provide(metrics.New),
)

func provideLogger(cfg config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		ServiceName:         cfg.AppName,
		Environment:         cfg.Environment,
		Version:             cfg.AppVersion,
		Level:               os.Getenv("LOG_LEVEL"),
		Format:              os.Getenv("LOG_FORMAT"),
		IncludeCaller:       true,
		IncludeStackOnError: true,
	})
}
