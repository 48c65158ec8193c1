package sandbox

import (
	"context"
	"fmt"

	"github.com/cuemby/vigil/pkg/log"
)

// Run drives one full sandbox lifecycle: provision, execute while
// draining the observation stream, then terminate unconditionally. The
// teardown call is scope-guarded with defer and recover so a panic
// mid-job still releases every resource (spec.md §4.3 teardown, §5
// cancellation).
func Run(ctx context.Context, sup Supervisor, spec Spec, onEvent func(Event)) (err error) {
	inst, provisionErr := sup.Provision(ctx, spec)
	if provisionErr != nil {
		return fmt.Errorf("sandbox: provision: %w", provisionErr)
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("sandbox.run").Error().
				Str("instance_id", inst.ID).
				Interface("panic", r).
				Msg("sandbox job panicked, terminating instance")
			err = fmt.Errorf("sandbox: job panicked: %v", r)
		}
		if termErr := sup.Terminate(context.WithoutCancel(ctx), inst); termErr != nil {
			log.WithComponent("sandbox.run").Error().Err(termErr).
				Str("instance_id", inst.ID).Msg("sandbox teardown failed")
		}
	}()

	events, obsErr := sup.ObserveStream(ctx, inst)
	if obsErr != nil {
		return fmt.Errorf("sandbox: observe stream: %w", obsErr)
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithComponent("sandbox.run").Error().
					Str("instance_id", inst.ID).
					Interface("panic", r).
					Msg("sandbox execute panicked")
				done <- fmt.Errorf("sandbox: execute panicked: %v", r)
			}
		}()
		done <- sup.Execute(ctx, inst)
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if onEvent != nil {
				onEvent(ev)
			}
		case execErr := <-done:
			drainRemaining(events, onEvent)
			if execErr != nil {
				return fmt.Errorf("sandbox: execute: %w", execErr)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func drainRemaining(events <-chan Event, onEvent func(Event)) {
	if events == nil {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if onEvent != nil {
				onEvent(ev)
			}
		default:
			return
		}
	}
}
