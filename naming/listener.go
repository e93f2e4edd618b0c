package naming

// Listener 订阅回调，OnChange 是唯一必须实现的入口
//
// 回调在独立的 goroutine 中执行，同一订阅键的事件严格按产生顺序串行投递，
// 不同订阅键之间不保证顺序。回调中可以调用 Subscribe/Unsubscribe，
// 回调 panic 会被捕获并记录，不影响其他订阅和连接。
//
// 需要按事件类型处理时，额外实现下面的可选接口即可，例如：
//
//	type printer struct{}
//
//	func (printer) OnChange(e naming.Event)     {}
//	func (printer) OnNodeAdded(e naming.Event)  { fmt.Println("up", e.Node.Address()) }
//	func (printer) OnDisconnected(cause error)  { fmt.Println("lost", cause) }
type Listener interface {
	OnChange(event Event)
}

// ListenerFunc 将普通函数适配为 Listener
type ListenerFunc func(event Event)

// OnChange 调用 f(event)
func (f ListenerFunc) OnChange(event Event) { f(event) }

// 按事件类型的可选回调，在 OnChange 之后调用
type (
	ServiceAddedListener   interface{ OnServiceAdded(event Event) }
	ServiceUpdatedListener interface{ OnServiceUpdated(event Event) }
	ServiceDeletedListener interface{ OnServiceDeleted(event Event) }
	NodeAddedListener      interface{ OnNodeAdded(event Event) }
	NodeUpdatedListener    interface{ OnNodeUpdated(event Event) }
	NodeRemovedListener    interface{ OnNodeRemoved(event Event) }
	ConfigUpdatedListener  interface{ OnConfigUpdated(event Event) }
	ConfigDeletedListener  interface{ OnConfigDeleted(event Event) }
)

// DisconnectListener 连接断开或该订阅的请求被拒绝时回调
//
// cause 可用 xerrors.Is 区分：ErrReconnectExhausted 表示客户端已终止，
// ErrRequestRejected 表示仅该订阅被服务端拒绝。
type DisconnectListener interface {
	OnDisconnected(cause error)
}

// ReconnectListener 重连成功后、重放订阅之前回调
type ReconnectListener interface {
	OnReconnected()
}

// Hooks 以函数字段实现全部回调，未设置的字段不做任何事
type Hooks struct {
	Change         func(Event)
	ServiceAdded   func(Event)
	ServiceUpdated func(Event)
	ServiceDeleted func(Event)
	NodeAdded      func(Event)
	NodeUpdated    func(Event)
	NodeRemoved    func(Event)
	ConfigUpdated  func(Event)
	ConfigDeleted  func(Event)
	Disconnected   func(cause error)
	Reconnected    func()
}

func (h *Hooks) OnChange(e Event)         { call(h.Change, e) }
func (h *Hooks) OnServiceAdded(e Event)   { call(h.ServiceAdded, e) }
func (h *Hooks) OnServiceUpdated(e Event) { call(h.ServiceUpdated, e) }
func (h *Hooks) OnServiceDeleted(e Event) { call(h.ServiceDeleted, e) }
func (h *Hooks) OnNodeAdded(e Event)      { call(h.NodeAdded, e) }
func (h *Hooks) OnNodeUpdated(e Event)    { call(h.NodeUpdated, e) }
func (h *Hooks) OnNodeRemoved(e Event)    { call(h.NodeRemoved, e) }
func (h *Hooks) OnConfigUpdated(e Event)  { call(h.ConfigUpdated, e) }
func (h *Hooks) OnConfigDeleted(e Event)  { call(h.ConfigDeleted, e) }

func (h *Hooks) OnDisconnected(cause error) {
	if h.Disconnected != nil {
		h.Disconnected(cause)
	}
}

func (h *Hooks) OnReconnected() {
	if h.Reconnected != nil {
		h.Reconnected()
	}
}

func call(fn func(Event), e Event) {
	if fn != nil {
		fn(e)
	}
}

// invokeHook 调用与事件类型对应的可选回调
func invokeHook(l Listener, e Event) {
	switch e.Type {
	case ServiceAdded:
		if h, ok := l.(ServiceAddedListener); ok {
			h.OnServiceAdded(e)
		}
	case ServiceUpdated:
		if h, ok := l.(ServiceUpdatedListener); ok {
			h.OnServiceUpdated(e)
		}
	case ServiceDeleted:
		if h, ok := l.(ServiceDeletedListener); ok {
			h.OnServiceDeleted(e)
		}
	case NodeAdded:
		if h, ok := l.(NodeAddedListener); ok {
			h.OnNodeAdded(e)
		}
	case NodeUpdated:
		if h, ok := l.(NodeUpdatedListener); ok {
			h.OnNodeUpdated(e)
		}
	case NodeRemoved:
		if h, ok := l.(NodeRemovedListener); ok {
			h.OnNodeRemoved(e)
		}
	case ConfigUpdated:
		if h, ok := l.(ConfigUpdatedListener); ok {
			h.OnConfigUpdated(e)
		}
	case ConfigDeleted:
		if h, ok := l.(ConfigDeletedListener); ok {
			h.OnConfigDeleted(e)
		}
	}
}
