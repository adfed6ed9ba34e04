package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/logfields"
	"git.home.luguber.info/inful/buildgraph/internal/runner"
)

// NATSWorker serves dispatch requests from a queue group, running at most
// Concurrency commands at once.
type NATSWorker struct {
	conn    Conn
	subject string
	group   string
	id      string
	runner  runner.Runner
	slots   chan struct{}

	mu     sync.Mutex
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNATSWorker creates a worker identified by id.
func NewNATSWorker(conn Conn, subject, group, id string, concurrency int, r runner.Runner) *NATSWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &NATSWorker{
		conn:    conn,
		subject: subject,
		group:   group,
		id:      id,
		runner:  r,
		slots:   make(chan struct{}, concurrency),
	}
}

// Start joins the queue group.
func (w *NATSWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return nil
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	sub, err := w.conn.QueueSubscribe(w.subject, w.group, w.handle)
	if err != nil {
		w.cancel()
		return ferrors.WrapError(err, ferrors.CategoryTransport, "subscribe to dispatch subject").
			WithContext("subject", w.subject).
			Build()
	}
	w.sub = sub
	slog.Info("NATS worker started",
		logfields.Worker(w.id),
		"subject", w.subject,
		"queue_group", w.group,
		"concurrency", cap(w.slots))
	return nil
}

// Stop leaves the queue group and waits for running commands, canceling them
// if ctx ends first.
func (w *NATSWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	sub, cancel := w.sub, w.cancel
	w.sub = nil
	w.mu.Unlock()
	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		slog.Debug("Worker unsubscribe failed", logfields.Worker(w.id), logfields.Error(err))
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (w *NATSWorker) handle(msg *nats.Msg) {
	var tm taskMessage
	if err := json.Unmarshal(msg.Data, &tm); err != nil {
		slog.Warn("Discarding malformed dispatch message", logfields.Worker(w.id), logfields.Error(err))
		return
	}
	if msg.Reply == "" {
		slog.Warn("Discarding dispatch message without reply subject", logfields.Task(tm.Task))
		return
	}

	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case w.slots <- struct{}{}:
		case <-ctx.Done():
			w.reply(msg.Reply, resultMessage{Handle: tm.Handle, Message: "worker stopped", Worker: w.id})
			return
		}
		defer func() { <-w.slots }()

		slog.Info("Executing task",
			logfields.Task(tm.Task),
			logfields.Build(tm.Build),
			logfields.RunID(tm.RunID),
			logfields.Handle(tm.Handle),
			logfields.Worker(w.id))
		out := Execute(ctx, w.runner, tm.request(), w.id)
		w.reply(msg.Reply, resultMessage{
			Handle:     tm.Handle,
			Success:    out.Success,
			Message:    out.Message,
			TimedOut:   out.TimedOut,
			DurationMS: out.Duration.Milliseconds(),
			Worker:     w.id,
		})
	}()
}

func (w *NATSWorker) reply(subject string, res resultMessage) {
	data, err := json.Marshal(res)
	if err != nil {
		slog.Error("Failed to encode dispatch reply", logfields.Handle(res.Handle), logfields.Error(err))
		return
	}
	if err := w.conn.PublishMsg(&nats.Msg{Subject: subject, Data: data}); err != nil {
		slog.Error("Failed to publish dispatch reply", logfields.Handle(res.Handle), logfields.Error(err))
	}
}
