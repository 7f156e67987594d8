package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/events"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/login"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/pool"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/session"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func (r *runtime) newPool(publisher events.Publisher) *pool.Pool {
	return pool.New(r.store, pool.Options{
		DefaultTimeout: r.cfg.Pool.AcquireTimeout(),
		Backoff:        r.cfg.Pool.Backoff(),
		Publisher:      publisher,
	})
}

func acquireCommand() *cli.Command {
	return &cli.Command{
		Name:  "acquire",
		Usage: "claim a free credential and print it; release it later with 'release'",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Usage: "how long to wait for a free credential (default from config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			tok, err := rt.newPool(nil).Acquire(ctx, cmd.Duration("timeout"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out(cmd), "%s\t%s\n", tok.Username, tok.Value)
			return err
		},
	}
}

func releaseCommand() *cli.Command {
	return &cli.Command{
		Name:      "release",
		Usage:     "return a claimed credential",
		ArgsUsage: "USERNAME",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1); err != nil {
				return err
			}
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.newPool(nil).Release(ctx, cmd.Args().First())
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "insert credentials for accounts listed in a yaml file (username, password, token)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true},
			&cli.IntFlag{Name: "concurrency", Value: 4},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			raw, err := os.ReadFile(cmd.String("file"))
			if err != nil {
				return err
			}
			var accounts []login.Account
			if err := yaml.Unmarshal(raw, &accounts); err != nil {
				return fmt.Errorf("parse accounts: %w", err)
			}

			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			seeder := login.NewSeeder(login.Preissued(accounts), rt.store, cmd.Int("concurrency"))
			res, err := seeder.Seed(ctx, accounts)
			if err != nil {
				return err
			}
			return writeJSON(out(cmd), res)
		},
	}
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "run simulated sessions that each hold a credential for a while",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "users", Usage: "number of sessions (default from config)"},
			&cli.FloatFlag{Name: "spawn-rate", Usage: "sessions started per second (default from config)"},
			&cli.DurationFlag{Name: "hold", Usage: "how long each session keeps its credential (default from config)"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve prometheus metrics on this address"},
		},
		Action: simulateAction,
	}
}

func simulateAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	sc := rt.cfg.Session
	if cmd.IsSet("users") {
		sc.Users = cmd.Int("users")
	}
	if cmd.IsSet("spawn-rate") {
		sc.SpawnRate = cmd.Float("spawn-rate")
	}
	hold := sc.Hold()
	if cmd.IsSet("hold") {
		hold = cmd.Duration("hold")
	}
	metricsAddr := rt.cfg.Telemetry.MetricsAddr
	if cmd.IsSet("metrics-addr") {
		metricsAddr = cmd.String("metrics-addr")
	}

	hub := events.NewHub()
	hub.Subscribe(events.TopicAll, func(_ context.Context, evt events.Event) {
		log.WithFields(log.Fields{"topic": evt.Topic, "meta": evt.Metadata}).Debug("pool event")
	})
	p := rt.newPool(hub)

	if rt.cfg.Pool.WatchStore {
		if w, ok := rt.backend.(storage.Watcher); ok {
			if err := p.WatchStore(ctx, w); err != nil {
				log.WithError(err).Warn("store watch unavailable")
			}
		}
	}

	if metricsAddr != "" {
		stop := serveMetrics(metricsAddr)
		defer stop()
	}

	runner := session.NewRunner(p, session.Options{
		Users:          sc.Users,
		SpawnRate:      sc.SpawnRate,
		AcquireTimeout: rt.cfg.Pool.AcquireTimeout(),
	})
	rep, runErr := runner.Run(ctx, session.Hold(hold))
	if err := writeJSON(out(cmd), rep); err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics listener failed")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
