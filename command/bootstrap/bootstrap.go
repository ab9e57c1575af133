// Package bootstrap loads the configuration and logger shared by every subcommand.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ke-billing/connectors/config"
	"ke-billing/connectors/logging"
	"ke-billing/connectors/metrics"
	"ke-billing/connectors/store"
	dconfig "ke-billing/domain/config"
)

// Env is the loaded runtime of a subcommand.
type Env struct {
	Config *dconfig.Config
	Logger *slog.Logger
	closer io.Closer
}

// Load reads the config file (flag value, CONFIG_PATH or ./config.yml) and
// installs the configured logger as the slog default. Jobs that call the
// billing API pass validate to reject incomplete settings early.
func Load(configPath string, validate bool) (*Env, error) {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, err
	}
	if validate {
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)
	return &Env{Config: cfg, Logger: logger, closer: closer}, nil
}

// Close flushes the log sinks.
func (e *Env) Close() error {
	if e == nil || e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// Location returns the configured detection timezone.
func (e *Env) Location() (*time.Location, error) {
	loc, err := e.Config.Detection.Location()
	if err != nil {
		return nil, fmt.Errorf("detection.timezone: %w", err)
	}
	return loc, nil
}

// OpenStore opens the configured SQLite store.
func (e *Env) OpenStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, e.Config.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", e.Config.Store.Path, err)
	}
	return st, nil
}

// PushMetrics sends the run's metrics under <metrics.job>_<job>. Failures are
// logged only; a finished job is not failed by its metrics.
func (e *Env) PushMetrics(rec *metrics.Recorder, job string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rec.Push(ctx, e.Config.Metrics.PushgatewayURL, e.Config.Metrics.Job+"_"+job); err != nil {
		e.Logger.Warn(job+".metrics.push.error", "error", err)
	}
}
