// Command catalogwatch keeps a live local view of a Consul catalog, registers
// itself as a service and serves the view over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kbukum/catalogwatch/bootstrap"
	"github.com/kbukum/catalogwatch/config"
	"github.com/kbukum/catalogwatch/discovery"
	_ "github.com/kbukum/catalogwatch/discovery/consul"
	_ "github.com/kbukum/catalogwatch/discovery/static"
	"github.com/kbukum/catalogwatch/logger"
	"github.com/kbukum/catalogwatch/observability"
	"github.com/kbukum/catalogwatch/server"
	"github.com/kbukum/catalogwatch/server/endpoint"
	"github.com/kbukum/catalogwatch/version"
)

func main() {
	configFile := flag.String("config", "", "path to config.yml (searched for when empty)")
	dump := flag.Bool("dump", false, "print the discovered catalog as JSON and exit")
	settle := flag.Duration("settle", 2*time.Second, "how long -dump waits for the first sync")
	flag.Parse()

	if err := run(*configFile, *dump, *settle); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string, dump bool, settle time.Duration) error {
	var cfg AgentConfig
	var opts []config.LoaderOption
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if err := config.LoadConfig("catalogwatch", &cfg, opts...); err != nil {
		return err
	}
	if dump {
		// A one-shot read neither serves nor advertises anything.
		cfg.Server.Enabled = false
		cfg.Discovery.Registration.Enabled = false
		cfg.Discovery.Watch.Enabled = true
	}

	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	shutdownTelemetry, err := observability.Setup(ctx, cfg.Observability, cfg.Name, version.Get().Short(), cfg.Environment)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	disc := discovery.NewComponent(cfg.Discovery, &cfg.Consul, app.Logger)

	// The server goes first so /health answers before the coordination
	// service starts probing it, and stops last.
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, app.Logger)
		srv.RegisterDefaultEndpoints(cfg.Name, []endpoint.CheckFunc{endpoint.ComponentCheck(disc)}, readerOf(disc))
		if err := app.RegisterComponent(server.NewComponent(srv)); err != nil {
			return err
		}
	}
	if err := app.RegisterComponent(disc); err != nil {
		return err
	}

	if dump {
		return app.RunTask(ctx, func(ctx context.Context) error {
			return dumpCatalog(ctx, disc, settle)
		})
	}
	return app.Run(ctx)
}

func readerOf(disc *discovery.Component) endpoint.ReaderFunc {
	return func() endpoint.ServiceReader {
		if w := disc.Watcher(); w != nil {
			return w
		}
		return nil
	}
}

func dumpCatalog(ctx context.Context, disc *discovery.Component, settle time.Duration) error {
	w := disc.Watcher()
	if w == nil {
		return discovery.ErrDiscoveryDisabled
	}
	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return ctx.Err()
	}
	services := w.GetAllServices()
	logger.Info("catalog snapshot", logger.Fields("services", len(services)))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(services)
}
