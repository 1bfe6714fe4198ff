package container

import (
	"context"
	"os"

	"degpredict/adapters/geo"
	"degpredict/adapters/sqlite"
	"degpredict/app"
	"degpredict/domain/core"
	"degpredict/domain/run"
	"degpredict/internal/config"
	"degpredict/internal/errors"
	"degpredict/internal/metrics"
	"degpredict/internal/storage"
	"degpredict/ports"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	// Infrastructure
	Store   storage.Store
	Ledger  ports.LedgerPort // nil when ledger.enabled is false
	Fetcher ports.FetcherPort
	Metrics *metrics.Recorder

	// Stage services
	Runner       *app.StageRunner
	Acquisition  *app.AcquisitionService
	Differential *app.DifferentialService
	Integration  *app.IntegrationService
	Prediction   *app.PredictionService
	Report       *app.ReportService
	Groups       *app.GroupsService

	Pipeline *app.Pipeline
}

// New wires the artifact store, run ledger and the five stages
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string) (*Container, error) {
	if cfg == nil {
		return nil, errors.ConfigInvalid("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{Config: cfg, Logger: logger}

	if err := c.initInfrastructure(ctx); err != nil {
		c.Shutdown()
		return nil, err
	}
	c.initServices()

	fp, err := Fingerprint(cfg, version)
	if err != nil {
		c.Shutdown()
		return nil, err
	}
	c.Pipeline = app.NewPipeline(logger,
		c.Acquisition, c.Differential, c.Integration, c.Prediction, c.Report).
		WithLedger(c.Ledger).
		WithMetrics(c.Metrics, cfg.Metrics.Textfile).
		WithFingerprint(fp)

	logger.Debug("container initialized",
		zap.String("storage", string(c.Store.Provider())),
		zap.Bool("ledger", c.Ledger != nil),
		zap.String("fingerprint", fp.Value.Short()))
	return c, nil
}

// initInfrastructure opens the store, ledger, downloader and metrics registry
func (c *Container) initInfrastructure(ctx context.Context) error {
	cfg := c.Config
	store, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.Storage.Driver,
		DataDir:     cfg.Paths.DataDir,
		S3Bucket:    cfg.Storage.S3Bucket,
		S3Region:    cfg.Storage.S3Region,
		S3Endpoint:  cfg.Storage.S3Endpoint,
		S3Prefix:    cfg.Storage.S3Prefix,
		S3PathStyle: cfg.Storage.S3PathStyle,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open artifact store")
	}
	c.Store = store

	if cfg.Ledger.Enabled {
		ledger, err := sqlite.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			return errors.Wrap(err, "failed to open run ledger")
		}
		c.Ledger = ledger
	}

	c.Fetcher = geo.NewClient(cfg.Source.RetryAttempts, cfg.Source.RetryBackoff, cfg.Source.Timeout, c.Logger)
	c.Metrics = metrics.NewRecorder()
	return nil
}

// initServices builds one service per stage over a shared runner
func (c *Container) initServices() {
	cfg := c.Config
	c.Runner = app.NewStageRunner(c.Store, c.Logger)
	c.Acquisition = app.NewAcquisitionService(c.Runner, c.Fetcher, cfg.Source, cfg.Normalization)
	c.Differential = app.NewDifferentialService(c.Runner, cfg.Groups, cfg.Analysis)
	c.Integration = app.NewIntegrationService(c.Runner, cfg.Panel, cfg.Baseline.File, cfg.Analysis.ExpressionThreshold)
	c.Prediction = app.NewPredictionService(c.Runner, cfg.Rules)
	c.Report = app.NewReportService(c.Runner, cfg.Analysis.Thresholds)
	c.Groups = app.NewGroupsService(c.Runner, cfg.Groups)
}

// Fingerprint hashes the effective configuration, the local input file if
// one is configured and readable, and the code version. An unreadable local
// file is left to stage 1 to report.
func Fingerprint(cfg *config.Config, version string) (run.Fingerprint, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return run.Fingerprint{}, errors.Wrap(err, "failed to serialize configuration")
	}
	var input core.Hash
	if cfg.Source.LocalFile != "" {
		if raw, err := os.ReadFile(cfg.Source.LocalFile); err == nil {
			input = core.NewHash(raw)
		}
	}
	return run.NewFingerprint(core.NewHash(data), input, version), nil
}

// Shutdown releases the ledger connection
func (c *Container) Shutdown() error {
	if c.Ledger != nil {
		return c.Ledger.Close()
	}
	return nil
}
