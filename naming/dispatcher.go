package naming

import (
	"context"
	"fmt"
	"sync"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
)

type deliveryKind int

const (
	deliverEvent deliveryKind = iota
	deliverDisconnected
	deliverReconnected
)

// delivery 投递给某个订阅的一项通知
type delivery struct {
	kind  deliveryKind
	event Event
	cause error
}

// dispatcher 把事件投递给订阅的 listener
//
// 每个订阅拥有一个无界队列，队列非空时由一个 goroutine 顺序排空，
// 因此同一订阅的投递严格有序，慢 listener 只会拖慢自己。
type dispatcher struct {
	logger  clog.Logger
	metrics *clientMetrics
	wg      sync.WaitGroup
}

func newDispatcher(logger clog.Logger, m *clientMetrics) *dispatcher {
	return &dispatcher{logger: logger, metrics: m}
}

// submit 追加投递项，不阻塞
func (d *dispatcher) submit(sub *subscription, items ...delivery) {
	if len(items) == 0 {
		return
	}

	sub.qmu.Lock()
	sub.queue = append(sub.queue, items...)
	if sub.draining {
		sub.qmu.Unlock()
		return
	}
	sub.draining = true
	sub.qmu.Unlock()

	d.wg.Add(1)
	go d.drain(sub)
}

func (d *dispatcher) drain(sub *subscription) {
	defer d.wg.Done()
	for {
		sub.qmu.Lock()
		if len(sub.queue) == 0 {
			sub.draining = false
			sub.qmu.Unlock()
			return
		}
		item := sub.queue[0]
		sub.queue[0] = delivery{}
		sub.queue = sub.queue[1:]
		sub.qmu.Unlock()

		// 取消订阅后不再回调，保证不再持有 listener
		if sub.removed.Load() {
			continue
		}
		d.deliver(sub, item)
	}
}

// deliver 调用 listener，捕获 panic
func (d *dispatcher) deliver(sub *subscription, item delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.listenerFailures.Inc(context.Background())
			d.logger.Error("listener panicked",
				clog.String("key", sub.key.String()),
				clog.String("delivery", item.describe()),
				clog.String("panic", fmt.Sprint(r)))
		}
	}()

	switch item.kind {
	case deliverEvent:
		d.metrics.dispatched.Inc(context.Background(), metrics.L(metrics.LabelType, item.event.Type.String()))
		sub.listener.OnChange(item.event)
		invokeHook(sub.listener, item.event)
	case deliverDisconnected:
		if h, ok := sub.listener.(DisconnectListener); ok {
			h.OnDisconnected(item.cause)
		}
	case deliverReconnected:
		if h, ok := sub.listener.(ReconnectListener); ok {
			h.OnReconnected()
		}
	}
}

// wait 等待当前所有投递完成，不能在 listener 中调用
func (d *dispatcher) wait() {
	d.wg.Wait()
}

func (item delivery) describe() string {
	switch item.kind {
	case deliverDisconnected:
		return "disconnected"
	case deliverReconnected:
		return "reconnected"
	default:
		return item.event.Type.String()
	}
}

func eventDeliveries(events []Event) []delivery {
	items := make([]delivery, len(events))
	for i, e := range events {
		items[i] = delivery{kind: deliverEvent, event: e}
	}
	return items
}
