// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/autocast/internal/log"
)

// App owns the long-lived runtime lifecycle: the HTTP server, the
// scheduler loop and the SIGHUP reload wiring.
type App struct {
	deps         *Deps
	reloadSignal os.Signal
}

// NewApp creates the runtime orchestrator over assembled dependencies.
func NewApp(deps *Deps) *App {
	return &App{
		deps:         deps,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all subsystems and blocks until ctx is cancelled or one of
// them fails fatally. In-flight runs get drained before Run returns.
func (a *App) Run(ctx context.Context) error {
	logger := log.WithComponent("daemon")
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.deps.Server.ListenAndServe(ctx, a.deps.Config.ShutdownGrace)
	})

	g.Go(func() error {
		err := a.deps.Scheduler.Run(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	})

	// SIGHUP forces a topic source reload even without a file event.
	if a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					logger.Info().
						Str(log.FieldEvent, "sched.reload_signal").
						Msg("received reload signal, reloading topic source")
					if err := a.deps.Scheduler.Reload(); err != nil {
						logger.Warn().Err(err).Msg("topic source reload failed")
					}
				}
			}
		})
	}

	err := g.Wait()
	a.deps.Coordinator.Wait()
	return err
}
