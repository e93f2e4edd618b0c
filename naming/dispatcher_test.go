package naming

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/xerrors"
)

func newTestDispatcher(t *testing.T) *dispatcher {
	t.Helper()
	m, err := newClientMetrics(metrics.Discard())
	require.NoError(t, err)
	return newDispatcher(clog.Discard(), m)
}

func TestDispatcherPreservesOrder(t *testing.T) {
	d := newTestDispatcher(t)

	var (
		mu  sync.Mutex
		got []string
	)
	sub := &subscription{key: orderKey, listener: ListenerFunc(func(e Event) {
		mu.Lock()
		got = append(got, e.Node.Address())
		mu.Unlock()
	})}

	var want []string
	for i := 1; i <= 200; i++ {
		n := node("10.0.0.1", i)
		want = append(want, n.Address())
		d.submit(sub, delivery{kind: deliverEvent, event: Event{Type: NodeAdded, Key: orderKey, Node: &n}})
	}
	d.wait()

	assert.Equal(t, want, got)
}

func TestDispatcherIsolatesPanics(t *testing.T) {
	d := newTestDispatcher(t)

	calls := 0
	bad := &subscription{key: orderKey, listener: ListenerFunc(func(Event) {
		calls++
		panic("boom")
	})}
	var received []EventType
	good := &subscription{key: appKey, listener: ListenerFunc(func(e Event) {
		received = append(received, e.Type)
	})}

	d.submit(bad, eventDeliveries([]Event{{Type: NodeAdded}, {Type: ServiceAdded}})...)
	d.submit(good, delivery{kind: deliverEvent, event: Event{Type: ConfigUpdated}})
	d.wait()

	// panic 之后同一订阅的后续事件仍会投递
	assert.Equal(t, 2, calls)
	assert.Equal(t, []EventType{ConfigUpdated}, received)
}

func TestDispatcherSkipsRemovedSubscription(t *testing.T) {
	d := newTestDispatcher(t)

	calls := 0
	sub := &subscription{key: orderKey, listener: ListenerFunc(func(Event) { calls++ })}
	sub.removed.Store(true)

	d.submit(sub, delivery{kind: deliverEvent, event: Event{Type: ServiceAdded}})
	d.wait()
	assert.Zero(t, calls)
}

func TestDispatcherInvokesHooks(t *testing.T) {
	d := newTestDispatcher(t)

	var (
		trace []string
		cause error
	)
	hooks := &Hooks{
		Change:       func(e Event) { trace = append(trace, "change:"+e.Type.String()) },
		NodeAdded:    func(Event) { trace = append(trace, "node-added") },
		ServiceAdded: func(Event) { trace = append(trace, "service-added") },
		Disconnected: func(err error) { cause = err; trace = append(trace, "disconnected") },
		Reconnected:  func() { trace = append(trace, "reconnected") },
	}
	sub := &subscription{key: orderKey, listener: hooks}

	d.submit(sub, eventDeliveries([]Event{{Type: NodeAdded}, {Type: ServiceAdded}})...)
	d.submit(sub,
		delivery{kind: deliverDisconnected, cause: ErrHeartbeatTimeout},
		delivery{kind: deliverReconnected},
		delivery{kind: deliverEvent, event: Event{Type: NodeRemoved}})
	d.wait()

	assert.Equal(t, []string{
		"change:NODE_ADDED", "node-added",
		"change:SERVICE_ADDED", "service-added",
		"disconnected", "reconnected",
		"change:NODE_REMOVED",
	}, trace)
	assert.True(t, xerrors.Is(cause, ErrHeartbeatTimeout))
}

func TestDispatcherPlainListenerIgnoresLifecycle(t *testing.T) {
	d := newTestDispatcher(t)

	calls := 0
	sub := &subscription{key: orderKey, listener: ListenerFunc(func(Event) { calls++ })}
	d.submit(sub, delivery{kind: deliverDisconnected, cause: ErrServerClosed}, delivery{kind: deliverReconnected})
	d.wait()
	assert.Zero(t, calls)
}
