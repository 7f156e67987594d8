package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/config"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/credential"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/logging"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/monitoring/tracing"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/storage"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

// runtime is what every store-touching command needs.
type runtime struct {
	cfg           *config.Config
	backend       storage.Backend
	store         *credential.Store
	traceShutdown func(context.Context) error
}

// loadConfig reads the config file and applies root flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if cmd.IsSet("backend") {
		cfg.Storage.Backend = cmd.String("backend")
	}
	if cmd.IsSet("store-path") {
		cfg.Storage.FilePath = cmd.String("store-path")
	}
	if cmd.Bool("debug") {
		cfg.Log.Level = "debug"
		cfg.Log.Format = "text"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

func openRuntime(ctx context.Context, cmd *cli.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	traceShutdown, err := tracing.Init(ctx, tracing.Options{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}

	backend, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("build storage backend: %w", err)
	}
	store := credential.NewStore(backend, credential.Options{})
	if err := store.Init(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &runtime{cfg: cfg, backend: backend, store: store, traceShutdown: traceShutdown}, nil
}

func (r *runtime) Close() {
	if err := r.backend.Close(); err != nil {
		log.WithError(err).Warn("failed to close storage backend")
	}
	if r.traceShutdown != nil {
		if err := r.traceShutdown(context.Background()); err != nil {
			log.WithError(err).Warn("failed to shutdown tracing")
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArgs(cmd *cli.Command, n int) error {
	if cmd.Args().Len() != n {
		return fmt.Errorf("%s expects %d argument(s): %s", cmd.Name, n, cmd.ArgsUsage)
	}
	return nil
}
