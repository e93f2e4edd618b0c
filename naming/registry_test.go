package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/naming/transport"
)

func subscriptionNames(subs []*subscription) []string {
	names := make([]string, len(subs))
	for i, sub := range subs {
		names[i] = sub.key.Name
	}
	return names
}

func TestRegistryKeepsSubscriptionOrder(t *testing.T) {
	r := newRegistry()
	noop := ListenerFunc(func(Event) {})

	for _, name := range []string{"c", "a", "b"} {
		r.put(ServiceKey("g", name), noop)
	}
	assert.Equal(t, []string{"c", "a", "b"}, subscriptionNames(r.subscriptions()))

	// 替换不改变位置
	sub, replaced := r.put(ServiceKey("g", "c"), noop)
	require.NotNil(t, replaced)
	assert.True(t, replaced.removed.Load())
	assert.False(t, sub.removed.Load())
	assert.Equal(t, replaced.seq, sub.seq)
	assert.Equal(t, []string{"c", "a", "b"}, subscriptionNames(r.subscriptions()))

	// 移除后重新订阅排到最后
	require.NotNil(t, r.remove(ServiceKey("g", "c")))
	assert.Nil(t, r.remove(ServiceKey("g", "c")))
	r.put(ServiceKey("g", "c"), noop)
	assert.Equal(t, []string{"a", "b", "c"}, subscriptionNames(r.subscriptions()))
}

func TestRegistryRegistrations(t *testing.T) {
	r := newRegistry()
	svc := ServiceKey("g", "order")

	first := r.addRegistration(svc, node("10.0.0.1", 80))
	r.addRegistration(svc, node("10.0.0.2", 80))
	again := r.addRegistration(svc, node("10.0.0.1", 80, "v", "2"))
	assert.Equal(t, first.seq, again.seq)

	r.mu.Lock()
	regs := r.registrationsLocked()
	r.mu.Unlock()
	require.Len(t, regs, 2)
	assert.Equal(t, "2", regs[0].node.Metadata["v"])

	// 旧记录已被覆盖，不能删掉新记录
	r.removeRegistration(first)
	r.mu.Lock()
	assert.Len(t, r.regs, 2)
	r.mu.Unlock()

	r.dropRegistration(svc, node("10.0.0.2", 80))
	r.mu.Lock()
	assert.Len(t, r.regs, 1)
	r.mu.Unlock()
}

func TestRegistryPending(t *testing.T) {
	r := newRegistry()
	p := &pendingRequest{kind: transport.RequestRegister, done: make(chan error, 1)}
	r.track("req-1", p)

	assert.Same(t, p, r.resolve("req-1"))
	assert.Nil(t, r.resolve("req-1"))

	r.track("req-2", p)
	r.resetPending()
	assert.NoError(t, <-p.done)
	assert.Nil(t, r.resolve("req-2"))
}

func TestRegistryClear(t *testing.T) {
	r := newRegistry()
	sub, _ := r.put(ConfigKey("g", "app.yaml"), ListenerFunc(func(Event) {}))
	assert.Equal(t, 1, r.clear())
	assert.True(t, sub.removed.Load())
	assert.Zero(t, r.len())
}

func TestRegistryDropsSupersededSubscribeRequests(t *testing.T) {
	r := newRegistry()
	noop := ListenerFunc(func(Event) {})
	key := ServiceKey("g", "order")

	sub, _ := r.put(key, noop)
	r.trackSubscribe("req-1", sub)
	r.trackSubscribe("req-2", sub)
	assert.Len(t, r.pending, 1)
	assert.Nil(t, r.resolve("req-1"))

	// 替换 listener 时旧订阅的请求不再等待应答
	next, _ := r.put(key, noop)
	assert.Empty(t, r.pending)
	assert.Nil(t, r.resolve("req-2"))

	r.trackSubscribe("req-3", next)
	p := r.resolve("req-3")
	require.NotNil(t, p)
	assert.Same(t, next, p.sub)
	assert.Empty(t, next.pendingID)

	r.trackSubscribe("req-4", next)
	r.remove(key)
	assert.Empty(t, r.pending)
}
