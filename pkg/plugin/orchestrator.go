package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Config bounds hook execution
type Config struct {
	// HookTimeout bounds a single hook invocation. Zero disables the bound.
	HookTimeout time.Duration

	// Retries is the number of extra attempts a failing required hook gets
	Retries int
}

// Orchestrator runs the hooks of registered plugins at lifecycle stages. It
// keeps no per-container state: the applied hooks it reports are stored by
// the caller and handed back for rollback.
type Orchestrator struct {
	registry *Registry
	cfg      Config
	logger   zerolog.Logger
}

// NewOrchestrator creates an orchestrator over registry
func NewOrchestrator(registry *Registry, cfg Config) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		cfg:      cfg,
		logger:   log.WithComponent("plugin"),
	}
}

// Registry returns the plugin registry
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// RunStage runs the hooks of every plugin enabled for the container that
// declares stage.
//
// Setup stages run in dependency order. A required hook that still fails
// after its retries stops the stage with a *types.HookError; an optional one
// is logged and its dependents are skipped. A hook whose dependency is not
// enabled for the container is treated the same way. The hooks applied
// before the failure are returned either way so the caller can unwind them.
//
// Teardown stages (post-stop, post-halt) run in reverse dependency order.
// Every hook is attempted and the failures are joined.
func (o *Orchestrator) RunStage(ctx context.Context, stage types.Stage, hc *HookContext) ([]types.AppliedHook, error) {
	regs := o.registry.ForStage(stage)
	if stage.Teardown() {
		return o.runTeardown(ctx, stage, hc, regs)
	}

	var applied []types.AppliedHook
	failed := make(map[string]bool)

	for _, reg := range regs {
		name := reg.Name()
		pc, enabled := hc.Config.Plugin(name)
		if !enabled {
			continue
		}
		logger := o.hookLogger(hc.ID, name, stage)

		if dep := missingDependency(reg, hc.Config); dep != "" {
			failed[name] = true
			if pc.Required {
				return applied, &types.HookError{Plugin: name, Stage: stage, Err: fmt.Errorf("dependency %s is not enabled", dep)}
			}
			logger.Warn().Str("dependency", dep).Msg("Skipping hook, dependency not enabled")
			continue
		}
		if dep := failedDependency(reg, failed); dep != "" {
			failed[name] = true
			if pc.Required {
				return applied, &types.HookError{Plugin: name, Stage: stage, Err: fmt.Errorf("dependency %s did not run", dep)}
			}
			logger.Warn().Str("dependency", dep).Msg("Skipping hook, dependency failed")
			continue
		}

		attempts := 1
		if pc.Required {
			attempts += o.cfg.Retries
		}

		var undo hookFunc
		if rev, ok := reg.Plugin.(Reverter); ok {
			undo = rev.Undo
		}

		var err error
		for attempt := 1; attempt <= attempts; attempt++ {
			err = o.invoke(ctx, stage, reg, hc, reg.Plugin.Run, undo)
			if err == nil || errors.Is(err, types.ErrCancelled) {
				break
			}
			if attempt < attempts {
				logger.Warn().Err(err).Int("attempt", attempt).Msg("Hook failed, retrying")
			}
		}

		if err != nil {
			if pc.Required {
				logger.Error().Err(err).Msg("Required hook failed")
				return applied, &types.HookError{Plugin: name, Stage: stage, Err: err}
			}
			logger.Warn().Err(err).Msg("Optional hook failed")
			failed[name] = true
			continue
		}

		logger.Debug().Msg("Hook applied")
		applied = append(applied, types.AppliedHook{Plugin: name, Stage: stage})
	}

	return applied, nil
}

func (o *Orchestrator) runTeardown(ctx context.Context, stage types.Stage, hc *HookContext, regs []*Registration) ([]types.AppliedHook, error) {
	var applied []types.AppliedHook
	var errs []error

	for i := len(regs) - 1; i >= 0; i-- {
		reg := regs[i]
		name := reg.Name()
		if _, enabled := hc.Config.Plugin(name); !enabled {
			continue
		}
		if err := o.invoke(ctx, stage, reg, hc, reg.Plugin.Run, nil); err != nil {
			logger := o.hookLogger(hc.ID, name, stage)
			logger.Warn().Err(err).Msg("Teardown hook failed")
			errs = append(errs, &types.HookError{Plugin: name, Stage: stage, Err: err})
			continue
		}
		applied = append(applied, types.AppliedHook{Plugin: name, Stage: stage})
	}
	return applied, errors.Join(errs...)
}

// RollbackStage undoes, in reverse, the first upTo entries of applied that
// belong to stage. Failures are logged and not returned.
func (o *Orchestrator) RollbackStage(ctx context.Context, stage types.Stage, hc *HookContext, applied []types.AppliedHook, upTo int) {
	var ofStage []types.AppliedHook
	for _, a := range applied {
		if a.Stage == stage {
			ofStage = append(ofStage, a)
		}
	}
	if upTo > len(ofStage) {
		upTo = len(ofStage)
	}
	o.Unwind(ctx, hc, ofStage[:upTo])
}

// Unwind undoes applied hooks in reverse application order, best effort.
// Hooks of plugins that do not implement Reverter are skipped.
func (o *Orchestrator) Unwind(ctx context.Context, hc *HookContext, applied []types.AppliedHook) {
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		reg, ok := o.registry.Get(a.Plugin)
		if !ok {
			continue
		}
		rev, ok := reg.Plugin.(Reverter)
		if !ok {
			continue
		}
		logger := o.hookLogger(hc.ID, a.Plugin, a.Stage)
		if err := o.invoke(ctx, a.Stage, reg, hc, rev.Undo, nil); err != nil {
			logger.Warn().Err(err).Msg("Hook rollback failed")
			continue
		}
		logger.Debug().Msg("Hook rolled back")
	}
}

type hookFunc func(ctx context.Context, stage types.Stage, hc *HookContext) error

// invoke runs one hook under the configured timeout. A hook that outlives
// its timeout is reported as failed with types.ErrTimeout, but invoke still
// waits for it to return: the hook owns hc until then. If it completes after
// all, undo reverses it, since the caller will not count it as applied.
func (o *Orchestrator) invoke(ctx context.Context, stage types.Stage, reg *Registration, hc *HookContext, fn, undo hookFunc) (err error) {
	name := reg.Name()
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.HookDuration, name, string(stage))
		if err != nil {
			metrics.HookFailures.WithLabelValues(name, string(stage)).Inc()
		}
	}()

	if ctx.Err() != nil {
		return fmt.Errorf("hook %s not started: %w", name, types.ErrCancelled)
	}

	hctx := ctx
	if o.cfg.HookTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, o.cfg.HookTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("hook %s panicked: %v", name, r)
			}
		}()
		done <- fn(hctx, stage, hc)
	}()

	select {
	case err := <-done:
		if err == nil || hctx.Err() == nil {
			return err
		}
	case <-hctx.Done():
		o.settleLate(ctx, stage, reg, hc, done, undo)
	}

	if ctx.Err() != nil {
		return fmt.Errorf("hook %s interrupted: %w", name, types.ErrCancelled)
	}
	return fmt.Errorf("hook %s exceeded %s: %w", name, o.cfg.HookTimeout, types.ErrTimeout)
}

// settleLate waits for a hook that outlived its deadline and undoes it when
// it succeeded late
func (o *Orchestrator) settleLate(ctx context.Context, stage types.Stage, reg *Registration, hc *HookContext, done <-chan error, undo hookFunc) {
	name := reg.Name()
	logger := o.hookLogger(hc.ID, name, stage)
	logger.Warn().Dur("timeout", o.cfg.HookTimeout).Msg("Hook outlived its timeout, waiting for it to return")

	if lateErr := <-done; lateErr != nil || undo == nil {
		return
	}

	uctx := context.WithoutCancel(ctx)
	if o.cfg.HookTimeout > 0 {
		var cancel context.CancelFunc
		uctx, cancel = context.WithTimeout(uctx, o.cfg.HookTimeout)
		defer cancel()
	}
	if err := undo(uctx, stage, hc); err != nil {
		logger.Error().Err(err).Msg("Failed to undo hook that completed after its timeout")
		return
	}
	logger.Info().Msg("Undid hook that completed after its timeout")
}

func (o *Orchestrator) hookLogger(id, plugin string, stage types.Stage) zerolog.Logger {
	return o.logger.With().
		Str("container_id", id).
		Str("plugin", plugin).
		Str("stage", string(stage)).
		Logger()
}

func missingDependency(reg *Registration, cfg *types.ContainerConfig) string {
	for _, dep := range reg.Dependencies {
		if _, enabled := cfg.Plugin(dep); !enabled {
			return dep
		}
	}
	return ""
}

func failedDependency(reg *Registration, failed map[string]bool) string {
	for _, dep := range reg.Dependencies {
		if failed[dep] {
			return dep
		}
	}
	return ""
}
