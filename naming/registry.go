package naming

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ceyewan/naming/transport"
)

// subscription 一个订阅键的 listener 与最近一次观察到的状态
type subscription struct {
	key      Key
	seq      uint64
	listener Listener
	removed  atomic.Bool

	// 以下字段由 registry.mu 保护
	nodes     []NodeInfo
	config    configState
	pendingID string // 尚未应答的订阅请求

	// 投递队列，由 dispatcher 使用
	qmu      sync.Mutex
	queue    []delivery
	draining bool
}

// registration 需要在每次重连后重新注册的实例
type registration struct {
	id      string
	seq     uint64
	service Key
	node    NodeInfo
}

// pendingRequest 等待 Ack 的请求
type pendingRequest struct {
	kind transport.RequestKind
	sub  *subscription
	reg  *registration
	done chan error
}

// registry 订阅、实例注册与未决请求的集合
//
// 接收 goroutine 与调用方都会修改它，所有修改都在 mu 内完成；
// mu 内不调用任何 listener。
type registry struct {
	mu      sync.Mutex
	seq     uint64
	subs    map[Key]*subscription
	regs    map[string]*registration
	pending map[string]*pendingRequest
}

func newRegistry() *registry {
	return &registry{
		subs:    make(map[Key]*subscription),
		regs:    make(map[string]*registration),
		pending: make(map[string]*pendingRequest),
	}
}

// put 注册或替换 key 的 listener
//
// 替换时旧订阅被标记为已移除，新订阅沿用原来的顺序号，状态从空开始。
func (r *registry) put(key Key, l Listener) (sub, replaced *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub = &subscription{key: key, listener: l}
	if old, ok := r.subs[key]; ok {
		old.removed.Store(true)
		r.untrackLocked(old)
		sub.seq = old.seq
		replaced = old
	} else {
		r.seq++
		sub.seq = r.seq
	}
	r.subs[key] = sub
	return sub, replaced
}

// remove 移除 key 的订阅，不存在时返回 nil
func (r *registry) remove(key Key) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[key]
	if !ok {
		return nil
	}
	delete(r.subs, key)
	sub.removed.Store(true)
	r.untrackLocked(sub)
	return sub
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// subscriptionsLocked 按注册顺序返回全部订阅，调用方持有 mu
func (r *registry) subscriptionsLocked() []*subscription {
	subs := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	slices.SortFunc(subs, func(a, b *subscription) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return subs
}

// subscriptions 按注册顺序返回全部订阅
func (r *registry) subscriptions() []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscriptionsLocked()
}

// addRegistration 记录一个实例注册，相同服务与地址的旧记录被覆盖但保留顺序
func (r *registry) addRegistration(service Key, node NodeInfo) *registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := service.String() + "|" + node.Address()
	reg := &registration{id: id, service: service, node: node.clone()}
	if old, ok := r.regs[id]; ok {
		reg.seq = old.seq
	} else {
		r.seq++
		reg.seq = r.seq
	}
	r.regs[id] = reg
	return reg
}

// removeRegistration 删除实例注册记录，只有记录仍是 reg 时才删除
func (r *registry) removeRegistration(reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.regs[reg.id]; ok && cur == reg {
		delete(r.regs, reg.id)
	}
}

// dropRegistration 按服务与地址删除记录
func (r *registry) dropRegistration(service Key, node NodeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regs, service.String()+"|"+node.Address())
}

// registrationsLocked 按注册顺序返回全部实例注册，调用方持有 mu
func (r *registry) registrationsLocked() []*registration {
	regs := make([]*registration, 0, len(r.regs))
	for _, reg := range r.regs {
		regs = append(regs, reg)
	}
	slices.SortFunc(regs, func(a, b *registration) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return regs
}

// track 记录一个等待 Ack 的请求
func (r *registry) track(id string, p *pendingRequest) {
	r.mu.Lock()
	r.pending[id] = p
	r.mu.Unlock()
}

// trackSubscribe 记录订阅请求，每个订阅最多保留一个未应答的请求
func (r *registry) trackSubscribe(id string, sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.untrackLocked(sub)
	sub.pendingID = id
	r.pending[id] = &pendingRequest{kind: transport.RequestSubscribe, sub: sub}
}

// untrackLocked 丢弃订阅尚未应答的请求，之后的应答被忽略
func (r *registry) untrackLocked(sub *subscription) {
	if sub.pendingID != "" {
		delete(r.pending, sub.pendingID)
		sub.pendingID = ""
	}
}

// resolve 取出请求 id 对应的未决请求
func (r *registry) resolve(id string) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	if p.sub != nil && p.sub.pendingID == id {
		p.sub.pendingID = ""
	}
	return p
}

// resetPending 会话切换时清空未决请求，等待中的调用方以 nil 返回
func (r *registry) resetPending() {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]*pendingRequest)
	r.mu.Unlock()

	for _, p := range pending {
		p.finish(nil)
	}
}

// clear 移除全部订阅，返回被移除的数量
func (r *registry) clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.subs)
	for key, sub := range r.subs {
		sub.removed.Store(true)
		delete(r.subs, key)
	}
	return n
}

func (p *pendingRequest) finish(err error) {
	if p.done == nil {
		return
	}
	select {
	case p.done <- err:
	default:
	}
}
