// SPDX-License-Identifier: MIT

// Package daemon wires the pipeline components into a running process.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/autocast/internal/api"
	"github.com/ManuGH/autocast/internal/config"
	"github.com/ManuGH/autocast/internal/log"
	"github.com/ManuGH/autocast/internal/objstore"
	"github.com/ManuGH/autocast/internal/pipeline/ctxstore"
	"github.com/ManuGH/autocast/internal/pipeline/gate"
	"github.com/ManuGH/autocast/internal/pipeline/plan"
	"github.com/ManuGH/autocast/internal/pipeline/registry"
	"github.com/ManuGH/autocast/internal/pipeline/run"
	"github.com/ManuGH/autocast/internal/pipeline/runstore"
	"github.com/ManuGH/autocast/internal/pipeline/stage"
	"github.com/ManuGH/autocast/internal/sched"
	"github.com/ManuGH/autocast/internal/telemetry"
	"github.com/ManuGH/autocast/internal/version"
)

// Deps is everything Bootstrap assembles. Close releases resources in
// reverse order of construction.
type Deps struct {
	Config      config.Config
	Objects     objstore.Store
	KV          ctxstore.KV
	Contexts    *ctxstore.Store
	Projects    *registry.Registry
	Runs        *runstore.Store
	Gate        *gate.Gate
	Stages      *stage.Registry
	Graph       *plan.Graph
	Coordinator *run.Coordinator
	Scheduler   *sched.Scheduler
	Server      *api.Server
	Telemetry   *telemetry.Provider
}

// Bootstrap builds the full dependency graph from configuration.
func Bootstrap(ctx context.Context, cfg config.Config) (*Deps, error) {
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "autocast"})
	logger := log.WithComponent("daemon")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("daemon: create data dir: %w", err)
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTLPEndpoint != "",
		ServiceName:    "autocast",
		ServiceVersion: version.Version,
		Environment:    config.ParseString("AUTOCAST_ENV", "production"),
		ExporterType:   cfg.OTLPProtocol,
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		return nil, err
	}

	objects, err := objstore.NewFSStore(filepath.Join(cfg.DataDir, "projects"))
	if err != nil {
		return nil, err
	}

	var kv ctxstore.KV
	switch cfg.KVBackend {
	case "redis":
		kv, err = ctxstore.NewRedisKV(ctxstore.RedisConfig{Addr: cfg.RedisAddr})
	default:
		kv, err = ctxstore.OpenBadgerKV(cfg.KVPath)
	}
	if err != nil {
		return nil, err
	}

	contexts := ctxstore.New(kv, objects, ctxstore.Options{
		SmallCtxBytes: cfg.SmallCtxBytes,
		InlineTTL:     cfg.InlineTTL,
		BlobTTL:       cfg.BlobTTL,
	})

	projects := registry.New(objects)

	runs, err := runstore.Open(cfg.DBPath, runstore.DefaultConfig())
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	gateCfg := gate.DefaultConfig()
	gateCfg.MinVisuals = cfg.MinVisuals
	g := gate.New(contexts, objects, gateCfg)

	stages := stage.NewRegistry()
	retry := stage.RetryPolicy{
		MaxAttempts: cfg.RetryMax,
		BaseDelay:   cfg.RetryBase,
		Jitter:      true,
	}
	for _, name := range stage.WorkerStages() {
		endpoint, ok := cfg.Workers[name]
		if !ok {
			logger.Warn().
				Str(log.FieldStage, name).
				Msg("no worker endpoint configured, stage will fail at execution")
			continue
		}
		spec, err := stage.WorkerSpec(name, cfg.StageTimeout, retry)
		if err != nil {
			return nil, err
		}
		adapter := stage.NewRemote(spec, contexts, stage.NewHTTPInvoker(endpoint))
		if err := stages.Register(adapter); err != nil {
			return nil, err
		}
	}
	if err := stages.Register(gate.NewAdapter(g, cfg.StageTimeout)); err != nil {
		return nil, err
	}

	graph := plan.Pipeline()
	coordinator := run.New(run.Config{
		RunTimeout:  cfg.RunTimeout,
		GracePeriod: cfg.CancelGrace,
	}, projects, stages, graph, runs)

	scheduler, err := sched.New(sched.Config{
		TopicSource:   cfg.TopicSource,
		MaxConcurrent: cfg.SchedMax,
		TickInterval:  cfg.TickInterval,
	}, coordinator, runs)
	if err != nil {
		_ = runs.Close()
		_ = kv.Close()
		return nil, err
	}

	server := api.New(api.Config{
		Listen:     cfg.Listen,
		RateLimit:  cfg.APIRateLimit,
		ReadyCheck: runs.Ping,
		Version:    version.Version,
	}, coordinator, g, scheduler, runs)

	return &Deps{
		Config:      cfg,
		Objects:     objects,
		KV:          kv,
		Contexts:    contexts,
		Projects:    projects,
		Runs:        runs,
		Gate:        g,
		Stages:      stages,
		Graph:       graph,
		Coordinator: coordinator,
		Scheduler:   scheduler,
		Server:      server,
		Telemetry:   tel,
	}, nil
}

// Close releases all held resources.
func (d *Deps) Close(ctx context.Context) {
	logger := log.WithComponent("daemon")
	if d.Runs != nil {
		if err := d.Runs.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing run store failed")
		}
	}
	if d.KV != nil {
		if err := d.KV.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing context kv failed")
		}
	}
	if d.Telemetry != nil {
		if err := d.Telemetry.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}
}
