package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/logfields"
)

// Conn is the subset of *nats.Conn used by the dispatcher and worker.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// replyGrace is how long past a request's timeout the dispatcher waits for
// a late reply before reporting the timeout itself.
const replyGrace = 5 * time.Second

type taskMessage struct {
	Handle     string            `json:"handle"`
	RunID      string            `json:"run_id"`
	Build      string            `json:"build"`
	Task       string            `json:"task"`
	Command    string            `json:"command,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	TimeoutMS  int64             `json:"timeout_ms,omitempty"`
}

func (m taskMessage) request() Request {
	return Request{
		RunID:      m.RunID,
		Build:      m.Build,
		Task:       m.Task,
		Command:    m.Command,
		WorkingDir: m.WorkingDir,
		Env:        m.Env,
		Timeout:    time.Duration(m.TimeoutMS) * time.Millisecond,
	}
}

type resultMessage struct {
	Handle     string `json:"handle"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Worker     string `json:"worker,omitempty"`
}

type pendingReply struct {
	req   Request
	cb    Callback
	timer *time.Timer
}

// NATSDispatcher publishes requests to a subject served by NATSWorker
// processes and routes their replies back to the waiting callbacks.
type NATSDispatcher struct {
	conn        Conn
	subject     string
	replyPrefix string
	sub         *nats.Subscription

	mu      sync.Mutex
	pending map[string]*pendingReply
	closed  bool
}

// NewNATSDispatcher subscribes to a private reply subject and returns a
// dispatcher publishing to subject.
func NewNATSDispatcher(conn Conn, subject string) (*NATSDispatcher, error) {
	d := &NATSDispatcher{
		conn:        conn,
		subject:     subject,
		replyPrefix: "_INBOX.buildgraph." + strings.ReplaceAll(uuid.NewString(), "-", ""),
		pending:     make(map[string]*pendingReply),
	}
	sub, err := conn.Subscribe(d.replyPrefix+".*", d.handleReply)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "subscribe to dispatch replies").Build()
	}
	d.sub = sub
	return d, nil
}

// Dispatch publishes req. If no reply arrives within the request timeout
// plus a grace period, the callback reports a timeout.
func (d *NATSDispatcher) Dispatch(_ context.Context, req Request, cb Callback) (Handle, error) {
	if cb == nil {
		return Handle{}, ferrors.ValidationError("dispatch callback is required").Build()
	}
	handle := Handle{ID: strings.ReplaceAll(uuid.NewString(), "-", ""), Task: req.Task}
	data, err := json.Marshal(taskMessage{
		Handle:     handle.ID,
		RunID:      req.RunID,
		Build:      req.Build,
		Task:       req.Task,
		Command:    req.Command,
		WorkingDir: req.WorkingDir,
		Env:        req.Env,
		TimeoutMS:  req.Timeout.Milliseconds(),
	})
	if err != nil {
		return Handle{}, ferrors.WrapError(err, ferrors.CategoryInternal, "encode dispatch message").Build()
	}

	p := &pendingReply{req: req, cb: cb}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Handle{}, ferrors.TransportError("dispatcher is closed").Build()
	}
	d.pending[handle.ID] = p
	if req.Timeout > 0 {
		p.timer = time.AfterFunc(req.Timeout+replyGrace, func() {
			if pr := d.take(handle.ID); pr != nil {
				pr.cb(Outcome{TimedOut: true, Message: TimeoutMessage(req.Timeout), Duration: req.Timeout})
			}
		})
	}
	d.mu.Unlock()

	msg := &nats.Msg{Subject: d.subject, Reply: d.replyPrefix + "." + handle.ID, Data: data}
	if err := d.conn.PublishMsg(msg); err != nil {
		d.take(handle.ID)
		return Handle{}, ferrors.WrapError(err, ferrors.CategoryTransport, "publish dispatch message").
			Retryable().
			WithContext("subject", d.subject).
			Build()
	}
	return handle, nil
}

// Pending returns the number of dispatches awaiting a reply.
func (d *NATSDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops listening for replies and fails every pending dispatch.
func (d *NATSDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pending := d.pending
	d.pending = make(map[string]*pendingReply)
	d.mu.Unlock()

	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.cb(Outcome{Message: "dispatcher closed"})
	}
	if d.sub != nil {
		if err := d.sub.Unsubscribe(); err != nil {
			slog.Debug("Reply unsubscribe failed", logfields.Error(err))
		}
	}
	return nil
}

func (d *NATSDispatcher) take(id string) *pendingReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

func (d *NATSDispatcher) handleReply(msg *nats.Msg) {
	var res resultMessage
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		slog.Warn("Discarding malformed dispatch reply", "subject", msg.Subject, logfields.Error(err))
		return
	}
	if res.Handle == "" {
		res.Handle = msg.Subject[strings.LastIndexByte(msg.Subject, '.')+1:]
	}
	p := d.take(res.Handle)
	if p == nil {
		slog.Debug("Dropping reply for unknown or expired dispatch", logfields.Handle(res.Handle))
		return
	}
	p.cb(Outcome{
		Success:  res.Success,
		Message:  res.Message,
		TimedOut: res.TimedOut,
		Duration: time.Duration(res.DurationMS) * time.Millisecond,
		Worker:   res.Worker,
	})
}
