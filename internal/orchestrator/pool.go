package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BoundedPool is a thin wrapper over errgroup.Group + SetLimit, used by
// Stage 4's path verification — the same bounded-worker-pool shape
// internal/seed uses for its parallel search fan-out. The detour's
// innovative-path verification runs sequentially and does not use it.
type BoundedPool struct {
	width int
}

// NewBoundedPool builds a pool with the given concurrency width. A width
// <= 0 is treated as unbounded (errgroup.SetLimit(-1) semantics).
func NewBoundedPool(width int) *BoundedPool {
	return &BoundedPool{width: width}
}

// Run executes fns, bounded to the pool's width, and waits for all of them
// to finish. A non-nil error from any fn is returned (the first one
// observed); callers in this package treat individual task failures as
// fallback verification results rather than aborting the whole batch, so
// task bodies here are expected to swallow their own errors and fn always
// returns nil.
func (p *BoundedPool) Run(ctx context.Context, fns []func(ctx context.Context) error) error {
	eg, egCtx := errgroup.WithContext(ctx)
	if p.width > 0 {
		eg.SetLimit(p.width)
	}
	for _, fn := range fns {
		fn := fn
		eg.Go(func() error { return fn(egCtx) })
	}
	return eg.Wait()
}
