package app

import (
	"github.com/roundtablehq/roundtable-backend/internal/platform/envutil"
)

type Config struct {
	LogMode  string
	HTTPAddr string
	DBDriver string

	// RunnerEnabled turns the in-process claim loop off; operators flip it
	// when sessions are driven by Temporal workers instead.
	RunnerEnabled bool

	Environment string
	Version     string
}

func LoadConfig() Config {
	return Config{
		LogMode:       envutil.String("LOG_MODE", "development"),
		HTTPAddr:      ":" + envutil.String("HTTP_PORT", "8080"),
		DBDriver:      envutil.String("DB_DRIVER", "postgres"),
		RunnerEnabled: envutil.Bool("RUNNER_ENABLED", true),
		Environment:   envutil.String("ENVIRONMENT", "development"),
		Version:       envutil.String("SERVICE_VERSION", "dev"),
	}
}
