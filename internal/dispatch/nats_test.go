package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildgraph/internal/runner"
)

// fakeConn delivers published messages to matching subscribers asynchronously.
type fakeConn struct {
	mu   sync.Mutex
	subs map[string]nats.MsgHandler
	sent []*nats.Msg
}

func newFakeConn() *fakeConn {
	return &fakeConn{subs: make(map[string]nats.MsgHandler)}
}

func (f *fakeConn) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[subj] = cb
	return &nats.Subscription{Subject: subj}, nil
}

func (f *fakeConn) QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[subj] = cb
	return &nats.Subscription{Subject: subj, Queue: queue}, nil
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	var handler nats.MsgHandler
	for pattern, cb := range f.subs {
		if subjectMatches(pattern, m.Subject) {
			handler = cb
			break
		}
	}
	f.mu.Unlock()
	if handler != nil {
		cp := *m
		go handler(&cp)
	}
	return nil
}

func (f *fakeConn) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func subjectMatches(pattern, subject string) bool {
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		rest, found := strings.CutPrefix(subject, prefix+".")
		return found && rest != "" && !strings.Contains(rest, ".")
	}
	return pattern == subject
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func TestNATSDispatchRoundTrip(t *testing.T) {
	conn := newFakeConn()
	r := runnerFunc(func(_ context.Context, spec runner.Spec) (runner.Result, error) {
		if spec.Task == "fail" {
			return runner.Result{Duration: 3 * time.Millisecond}, &runner.ExitError{Code: 2, Stderr: "disk full"}
		}
		assert.Equal(t, "make", spec.Command)
		assert.Equal(t, map[string]string{"K": "V"}, spec.Env)
		return runner.Result{Duration: 5 * time.Millisecond}, nil
	})

	worker := NewNATSWorker(conn, "buildgraph.tasks", "workers", "w-1", 2, r)
	require.NoError(t, worker.Start(t.Context()))
	defer func() { require.NoError(t, worker.Stop(context.Background())) }()

	d, err := NewNATSDispatcher(conn, "buildgraph.tasks")
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	got := make(chan Outcome, 2)
	_, err = d.Dispatch(t.Context(), Request{RunID: "r1", Build: "b", Task: "ok", Command: "make", Env: map[string]string{"K": "V"}, Timeout: time.Minute}, func(o Outcome) { got <- o })
	require.NoError(t, err)
	o := waitOutcome(t, got)
	require.True(t, o.Success)
	require.Equal(t, "w-1", o.Worker)
	require.Equal(t, 5*time.Millisecond, o.Duration)

	_, err = d.Dispatch(t.Context(), Request{RunID: "r1", Build: "b", Task: "fail", Command: "false"}, func(o Outcome) { got <- o })
	require.NoError(t, err)
	o = waitOutcome(t, got)
	require.False(t, o.Success)
	require.Equal(t, "command failed with exit code 2: disk full", o.Message)

	require.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, 10*time.Millisecond)
}

func TestNATSDispatcherCloseFailsPending(t *testing.T) {
	conn := newFakeConn()
	d, err := NewNATSDispatcher(conn, "nobody.listens")
	require.NoError(t, err)

	got := make(chan Outcome, 1)
	_, err = d.Dispatch(t.Context(), Request{Task: "a"}, func(o Outcome) { got <- o })
	require.NoError(t, err)
	require.Equal(t, 1, d.Pending())
	require.Equal(t, 1, conn.published())

	require.NoError(t, d.Close())
	o := waitOutcome(t, got)
	require.Equal(t, "dispatcher closed", o.Message)

	_, err = d.Dispatch(t.Context(), Request{Task: "b"}, func(Outcome) {})
	require.Error(t, err)
}

func TestNATSDispatcherIgnoresUnknownReplies(t *testing.T) {
	conn := newFakeConn()
	d, err := NewNATSDispatcher(conn, "s")
	require.NoError(t, err)
	defer d.Close()

	d.handleReply(&nats.Msg{Subject: d.replyPrefix + ".nope", Data: []byte(`{"handle":"nope","success":true}`)})
	d.handleReply(&nats.Msg{Subject: d.replyPrefix + ".bad", Data: []byte(`{`)})
	require.Zero(t, d.Pending())
}
