package testrun

import (
	"context"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/execution"
)

// Runner runs one test module to completion. *Launcher is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, source []byte, language string, limits execution.Limits) (*Result, error)
}

// Pool dispatches test-harness runs through the same admission control
// as the execution tool: W running workers, a 2W-deep admission ceiling
// that the extra W requests park against, fail-fast Busy on saturation.
type Pool struct {
	runner   Runner
	admitted chan struct{} // size 2W: bounds outstanding requests
	running  chan struct{} // size W: bounds concurrent OS processes
}

// NewPool builds a Pool with W running workers and a 2W admission
// ceiling.
func NewPool(workers int, runner Runner) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		runner:   runner,
		admitted: make(chan struct{}, 2*workers),
		running:  make(chan struct{}, workers),
	}
}

func (p *Pool) Run(ctx context.Context, source []byte, language string, limits execution.Limits) (*Result, error) {
	select {
	case p.admitted <- struct{}{}:
	default:
		return nil, apperr.New(apperr.Busy, "test worker pool is saturated")
	}
	defer func() { <-p.admitted }()

	select {
	case p.running <- struct{}{}:
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.Timeout, "test worker pool: context cancelled while waiting for a worker", ctx.Err())
	}
	defer func() { <-p.running }()

	return p.runner.Run(ctx, source, language, limits)
}
