package exec

import (
	"context"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/execution"
)

// Runner runs one source file to completion. *Launcher is the
// production implementation; tests substitute a fake to exercise the
// pool's admission control without spawning real child processes.
type Runner interface {
	Run(ctx context.Context, source []byte, language string, limits execution.Limits) (*Result, error)
}

// Pool dispatches runs to a dedicated pool of OS processes, sized
// W = min(CPU, 4). A separate counting semaphore of 2W bounds how many
// requests may be outstanding (running or queued for a worker) at once;
// a request beyond that fails fast with Busy rather than queuing
// indefinitely. Of the 2W admitted, only W run concurrently — the rest
// park on the running gate until a worker frees up (spec §4.8).
type Pool struct {
	runner   Runner
	admitted chan struct{} // size 2W: bounds outstanding requests
	running  chan struct{} // size W: bounds concurrent OS processes
}

// NewPool builds a Pool with W running workers and a 2W admission
// ceiling. workers is clamped to at least 1.
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

// Run acquires an admission slot (failing with Busy if all 2W are
// taken), then parks the calling goroutine — not any OS thread or the
// network I/O reactor — until one of the W running slots frees up or
// the context's deadline fires, then runs source to completion.
func (p *Pool) Run(ctx context.Context, source []byte, language string, limits execution.Limits) (*Result, error) {
	select {
	case p.admitted <- struct{}{}:
	default:
		return nil, apperr.New(apperr.Busy, "execution worker pool is saturated")
	}
	defer func() { <-p.admitted }()

	select {
	case p.running <- struct{}{}:
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.Timeout, "execution worker pool: context cancelled while waiting for a worker", ctx.Err())
	}
	defer func() { <-p.running }()

	return p.runner.Run(ctx, source, language, limits)
}
