package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/logfields"
	"git.home.luguber.info/inful/buildgraph/internal/runner"
)

type job struct {
	handle Handle
	req    Request
	cb     Callback
	cancel context.CancelFunc
}

// LocalPool executes requests on a fixed number of in-process workers.
// The backlog is unbounded: Dispatch never rejects a request for lack of room.
type LocalPool struct {
	workers  int
	capHint  int
	runner   runner.Runner
	mu       sync.Mutex
	backlog  []*job
	wake     chan struct{}
	ctx      context.Context
	active   map[string]*job
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewLocalPool creates a pool with the given initial backlog capacity and
// worker count.
func NewLocalPool(capacity, workers int, r runner.Runner) *LocalPool {
	if capacity <= 0 {
		capacity = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if r == nil {
		panic("NewLocalPool: runner is required")
	}
	return &LocalPool{
		workers:  workers,
		capHint:  capacity,
		runner:   r,
		backlog:  make([]*job, 0, capacity),
		wake:     make(chan struct{}, 1),
		active:   make(map[string]*job),
		stopChan: make(chan struct{}),
	}
}

// Start begins processing requests with the configured number of workers.
// When ctx ends, the workers exit and every queued request is failed.
func (p *LocalPool) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
	slog.Info("Starting local dispatch pool", "workers", p.workers, "capacity", p.capHint)
	for i := range p.workers {
		p.wg.Add(1)
		go p.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
	p.signal()
}

// Stop cancels running commands, waits for the workers to exit and fails
// every request still queued.
func (p *LocalPool) Stop(_ context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopChan)
	for _, j := range p.active {
		if j.cancel != nil {
			j.cancel()
		}
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.failQueued("dispatcher stopped")
}

// Length returns the number of queued requests.
func (p *LocalPool) Length() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog)
}

// Active returns the number of requests currently executing.
func (p *LocalPool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Dispatch queues req without blocking.
func (p *LocalPool) Dispatch(_ context.Context, req Request, cb Callback) (Handle, error) {
	if cb == nil {
		return Handle{}, ferrors.ValidationError("dispatch callback is required").Build()
	}
	j := &job{handle: Handle{ID: uuid.NewString(), Task: req.Task}, req: req, cb: cb}

	p.mu.Lock()
	if p.stopped || (p.ctx != nil && p.ctx.Err() != nil) {
		p.mu.Unlock()
		return Handle{}, ferrors.TransportError("dispatch pool is stopped").Build()
	}
	p.backlog = append(p.backlog, j)
	if n := len(p.backlog); n > p.capHint && n%p.capHint == 1 {
		slog.Warn("Dispatch backlog exceeds configured capacity",
			slog.Int("queued", n),
			slog.Int("capacity", p.capHint))
	}
	p.mu.Unlock()

	p.signal()
	return j.handle, nil
}

func (p *LocalPool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued job, waking another worker if more remain.
func (p *LocalPool) next() *job {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.backlog) == 0 {
		return nil
	}
	j := p.backlog[0]
	p.backlog[0] = nil
	p.backlog = p.backlog[1:]
	if len(p.backlog) > 0 {
		p.signal()
	}
	return j
}

// failQueued empties the backlog and reports each job as failed.
func (p *LocalPool) failQueued(msg string) {
	p.mu.Lock()
	queued := p.backlog
	p.backlog = nil
	p.mu.Unlock()
	for _, j := range queued {
		j.cb(Outcome{Message: msg})
	}
}

func (p *LocalPool) worker(ctx context.Context, workerID string) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}
		if ctx.Err() != nil {
			p.failQueued("dispatcher context canceled")
			return
		}
		if j := p.next(); j != nil {
			p.process(ctx, j, workerID)
			continue
		}
		select {
		case <-ctx.Done():
			p.failQueued("dispatcher context canceled")
			return
		case <-p.stopChan:
			return
		case <-p.wake:
		}
	}
}

func (p *LocalPool) process(ctx context.Context, j *job, workerID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.cancel = cancel

	p.mu.Lock()
	p.active[j.handle.ID] = j
	p.mu.Unlock()

	slog.Debug("Executing task",
		logfields.Task(j.req.Task),
		logfields.Build(j.req.Build),
		logfields.RunID(j.req.RunID),
		logfields.Handle(j.handle.ID),
		logfields.Worker(workerID))

	out := Execute(jobCtx, p.runner, j.req, workerID)

	p.mu.Lock()
	delete(p.active, j.handle.ID)
	p.mu.Unlock()

	j.cb(out)
}
