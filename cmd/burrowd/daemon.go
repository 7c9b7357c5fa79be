package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/netfilter"
	"github.com/cuemby/burrow/pkg/network"
	"github.com/cuemby/burrow/pkg/plugin"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/volume"
	"github.com/cuemby/burrow/pkg/workqueue"
	"github.com/rs/zerolog"
)

// shutdownTimeout bounds how long stopping every container may take
const shutdownTimeout = 30 * time.Second

// daemon is the wired set of components behind burrowd
type daemon struct {
	settings  *config.Settings
	store     *storage.BoltStore
	broker    *events.Broker
	network   *network.Engine
	manager   *manager.Manager
	service   *api.Service
	httpSrv   *api.HealthServer
	collector *metrics.Collector
	logger    zerolog.Logger
}

// newDaemon builds every component from settings, removes what a previous
// instance left behind and starts the lifecycle manager
func newDaemon(ctx context.Context, settings *config.Settings) (*daemon, error) {
	d := &daemon{
		settings: settings,
		logger:   log.WithComponent("daemon"),
	}
	ok := false
	defer func() {
		if !ok {
			d.shutdown()
		}
	}()

	if err := runtime.SetSubreaper(); err != nil {
		return nil, fmt.Errorf("failed to become child subreaper: %w", err)
	}

	store, err := storage.NewBoltStore(settings.DataDir)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStorage, false, err.Error())
		return nil, err
	}
	d.store = store
	metrics.UpdateComponent(metrics.ComponentStorage, true, "")

	d.broker = events.NewBroker()
	d.broker.Start()

	volumes, err := volume.NewLocalDriver(filepath.Join(settings.DataDir, "volumes"))
	if err != nil {
		return nil, err
	}
	plugins := []plugin.Plugin{
		plugin.NewLogging(settings.DataDir, d.broker),
		plugin.NewRTScheduling(),
		plugin.NewTest(),
		volume.NewPlugin(volumes),
	}
	if settings.Network.Enabled {
		engine, err := d.startNetwork(ctx)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, network.NewPlugin(engine, d.broker), health.NewPlugin())
	} else {
		metrics.SetCritical(metrics.ComponentRuntime, metrics.ComponentWorkQueue)
		d.logger.Info().Msg("Container networking disabled")
	}

	registry, err := plugin.NewRegistry(plugins...)
	if err != nil {
		return nil, err
	}
	d.logger.Info().Strs("plugins", registry.Names()).Msg("Plugins registered")

	rt, err := runtime.NewRunc(settings.Runtime)
	if err != nil {
		return nil, err
	}

	d.manager, err = manager.NewManager(&manager.Config{
		DataDir:          settings.DataDir,
		StopTimeout:      settings.StopTimeout,
		RetainStopped:    settings.RetainStopped,
		EvictionInterval: settings.EvictionInterval,
		Runtime:          rt,
		Monitor:          runtime.NewMonitor(runtime.WaitReaper{}, settings.MonitorInterval),
		Queue:            workqueue.New(workqueue.Config{Workers: settings.Workers}),
		Plugins: plugin.NewOrchestrator(registry, plugin.Config{
			HookTimeout: settings.HookTimeout,
			Retries:     settings.HookRetries,
		}),
		Events: d.broker,
		Store:  store,
	})
	if err != nil {
		return nil, err
	}
	if err := d.manager.Recover(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Containers of a previous instance not fully removed")
	}
	d.manager.Start()

	d.collector = metrics.NewCollector(d.manager, 15*time.Second)
	d.collector.Start()

	d.service = api.NewService(d.manager)
	if settings.MetricsAddr != "" {
		d.httpSrv = api.NewHealthServer(d.service)
		go func() {
			if err := d.httpSrv.Start(settings.MetricsAddr); err != nil {
				d.logger.Error().Err(err).Str("addr", settings.MetricsAddr).Msg("Health server failed")
			}
		}()
	}

	ok = true
	d.logger.Info().
		Str("data_dir", settings.DataDir).
		Str("runtime", settings.Runtime.Binary).
		Int("workers", settings.Workers).
		Msg("burrowd started")
	return d, nil
}

func (d *daemon) startNetwork(ctx context.Context) (*network.Engine, error) {
	links, err := hostLinks()
	if err != nil {
		return nil, err
	}
	rules, err := netfilter.NewSystemEngine(d.settings.Network.IPv6Prefix != "")
	if err != nil {
		return nil, err
	}
	engine, err := network.NewEngine(d.settings.Network, links, rules, d.store)
	if err != nil {
		return nil, err
	}
	if err := engine.Init(ctx); err != nil {
		return nil, err
	}
	d.network = engine
	return engine, nil
}

// serve blocks until ctx is done and then shuts the daemon down
func (d *daemon) serve(ctx context.Context) error {
	<-ctx.Done()
	d.logger.Info().Msg("Shutting down")
	d.shutdown()
	return nil
}

// shutdown stops every component that was started, in reverse order
func (d *daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if d.httpSrv != nil {
		if err := d.httpSrv.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Health server shutdown failed")
		}
	}
	if d.collector != nil {
		d.collector.Stop()
	}
	if d.manager != nil {
		if err := d.manager.Close(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Not every container stopped cleanly")
		}
	}
	if d.network != nil {
		if err := d.network.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Network teardown incomplete")
		}
	}
	if d.broker != nil {
		d.broker.Stop()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
	d.logger.Info().Msg("Shutdown complete")
}
