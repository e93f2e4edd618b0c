// Package naming 是服务发现与配置中心的客户端运行时。
//
// 客户端维护到注册中心集群的一条逻辑连接，在断线重连之间保持服务与配置订阅，
// 把服务端推送的全量状态转换为有序的细粒度事件交给应用：
//
//   - 服务订阅：比较前后两次全量节点，产生 NODE_REMOVED / NODE_UPDATED / NODE_ADDED
//     以及一个 SERVICE_ADDED / SERVICE_UPDATED / SERVICE_DELETED
//   - 配置订阅：按内容 MD5 去重，产生 CONFIG_UPDATED / CONFIG_DELETED
//   - 断线后按 ReconnectInterval 重连，成功后先重新注册实例再按订阅顺序重放订阅
//
// 基本使用：
//
//	cfg := naming.DefaultConfig()
//	cfg.Addresses = "10.0.0.1:8848,10.0.0.2:8848"
//
//	client, err := naming.New(cfg, naming.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	if err := client.Start(ctx); err != nil {
//		return err
//	}
//
//	_ = client.Subscribe(naming.ServiceKey("", "order-service"), naming.ListenerFunc(func(e naming.Event) {
//		logger.Info("service changed", clog.String("type", e.Type.String()), clog.Int("nodes", len(e.AllNodes)))
//	}))
package naming

import (
	"context"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/transport"
	"github.com/ceyewan/naming/xerrors"
)

// Client 注册中心客户端
type Client interface {
	// Start 完成第一次连接。连接失败但仍有重连预算时在后台继续重连并返回 nil，
	// 只有客户端因此进入 CLOSED 时返回错误。
	Start(ctx context.Context) error

	// Subscribe 注册或替换 key 的 listener，已连接时立即发送订阅请求。
	// 不等待网络，请求入队后即返回。替换 listener 时订阅状态从空开始。
	Subscribe(key Key, listener Listener) error

	// Unsubscribe 移除订阅，未知的 key 直接返回 nil
	Unsubscribe(key Key) error

	// RegisterInstance 注册一个服务实例，并在每次重连后自动重新注册。
	// 已连接时等待服务端应答，被拒绝时返回 ErrRequestRejected；未连接时记录后立即返回。
	RegisterInstance(ctx context.Context, service Key, node NodeInfo) error

	// DeregisterInstance 注销服务实例，不再重新注册
	DeregisterInstance(ctx context.Context, service Key, node NodeInfo) error

	// GetService 返回最近一次处理的服务快照
	GetService(key Key) (ServiceInfo, bool)

	// GetConfig 返回最近一次处理的配置内容
	GetConfig(key Key) (ConfigInfo, bool)

	// State 当前连接状态
	State() ConnectionState

	// Config 返回生效配置的副本
	Config() Config

	// Close 关闭客户端，幂等。不能在 StateObserver 中调用。
	Close() error
}

type client struct {
	cfg        *Config
	logger     clog.Logger
	metrics    *clientMetrics
	conn       *connManager
	registry   *registry
	dispatcher *dispatcher
	snapshots  *snapshotHolder

	closeOnce sync.Once
}

// New 校验配置并创建客户端，不会建立连接
func New(cfg *Config, opts ...Option) (Client, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "config is nil")
	}
	cfg = cfg.clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.normalize()

	endpoints, err := cfg.Endpoints()
	if err != nil {
		return nil, xerrors.Wrapf(ErrInvalidConfig, "addresses: %v", err)
	}

	o := applyOptions(opts)

	m, err := newClientMetrics(o.meter)
	if err != nil {
		return nil, err
	}
	snapshots, err := newSnapshotHolder(cfg.SnapshotCapacity)
	if err != nil {
		return nil, err
	}

	dialer := o.dialer
	if dialer == nil {
		transportLogger := o.logger.WithNamespace("transport")
		switch cfg.Dialect {
		case DialectEtcd:
			dialer = transport.NewEtcdDialer(cfg.EtcdPrefix, transportLogger)
		default:
			dialer = transport.NewGRPCDialer(transportLogger)
		}
	}

	c := &client{
		cfg:        cfg,
		logger:     o.logger,
		metrics:    m,
		registry:   newRegistry(),
		dispatcher: newDispatcher(o.logger, m),
		snapshots:  snapshots,
	}
	pool := newAddressPool(endpoints, o.logger)
	c.conn = newConnManager(cfg, dialer, pool, c, o.logger, m, o.observer)

	c.logger.Info("naming client created",
		clog.String("addresses", cfg.Addresses),
		clog.String("dialect", cfg.Dialect),
		clog.String("namespace", cfg.Namespace),
		clog.String("group", cfg.Group))
	return c, nil
}

func (c *client) Start(ctx context.Context) error {
	return c.conn.start(ctx)
}

func (c *client) Subscribe(key Key, listener Listener) error {
	if listener == nil {
		return ErrNilListener
	}
	key, err := c.cfg.resolve(key)
	if err != nil {
		return err
	}

	return c.conn.locked(func(as *activeSession) {
		sub, replaced := c.registry.put(key, listener)
		if replaced != nil {
			c.snapshots.invalidate(key)
		}
		c.metrics.subscriptions.Set(context.Background(), float64(c.registry.len()))
		c.logger.Debug("subscribed", clog.String("key", key.String()), clog.Bool("replaced", replaced != nil))

		if as != nil {
			as.enqueue(c.subscribeRequest(sub), false)
		}
	})
}

func (c *client) Unsubscribe(key Key) error {
	key, err := c.cfg.resolve(key)
	if err != nil {
		return err
	}

	err = c.conn.locked(func(as *activeSession) {
		if c.dropSubscription(key) && as != nil {
			as.enqueue(newRequest(transport.RequestUnsubscribe, key), false)
		}
	})
	// 重连预算耗尽后客户端已关闭但订阅仍在，只需在本地移除
	if xerrors.Is(err, ErrClientClosed) {
		c.dropSubscription(key)
		return nil
	}
	return err
}

// dropSubscription 移除订阅及其快照，key 不存在时返回 false
func (c *client) dropSubscription(key Key) bool {
	if c.registry.remove(key) == nil {
		return false
	}
	c.snapshots.invalidate(key)
	c.metrics.subscriptions.Set(context.Background(), float64(c.registry.len()))
	c.logger.Debug("unsubscribed", clog.String("key", key.String()))
	return true
}

func (c *client) RegisterInstance(ctx context.Context, service Key, node NodeInfo) error {
	service, err := c.resolveService(service, node)
	if err != nil {
		return err
	}

	reg := c.registry.addRegistration(service, node)
	var p *pendingRequest
	err = c.conn.locked(func(as *activeSession) {
		if as != nil {
			var req *transport.Request
			req, p = c.registerRequest(reg)
			as.enqueue(req, false)
		}
	})
	if err != nil {
		c.registry.removeRegistration(reg)
		return err
	}
	if p == nil {
		c.logger.Info("instance registration deferred until connected",
			clog.String("service", service.String()),
			clog.String("node", node.Address()))
		return nil
	}

	if err := c.await(ctx, p); err != nil {
		return xerrors.Wrapf(err, "register %s to %s", node.Address(), service)
	}
	return nil
}

func (c *client) DeregisterInstance(ctx context.Context, service Key, node NodeInfo) error {
	service, err := c.resolveService(service, node)
	if err != nil {
		return err
	}

	c.registry.dropRegistration(service, node)
	var p *pendingRequest
	err = c.conn.locked(func(as *activeSession) {
		if as != nil {
			req := newRequest(transport.RequestDeregister, service)
			req.Instance = toInstance(node, nil)
			p = &pendingRequest{kind: req.Kind, done: make(chan error, 1)}
			c.registry.track(req.ID, p)
			as.enqueue(req, false)
		}
	})
	if err != nil || p == nil {
		return err
	}

	if err := c.await(ctx, p); err != nil {
		return xerrors.Wrapf(err, "deregister %s from %s", node.Address(), service)
	}
	return nil
}

// await 等待请求应答，ctx 没有截止时间时使用 RequestTimeout
func (c *client) await(ctx context.Context, p *pendingRequest) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) GetService(key Key) (ServiceInfo, bool) {
	key.Kind = KindService
	key, err := c.cfg.resolve(key)
	if err != nil {
		return ServiceInfo{}, false
	}
	return c.snapshots.service(key)
}

func (c *client) GetConfig(key Key) (ConfigInfo, bool) {
	key.Kind = KindConfig
	key, err := c.cfg.resolve(key)
	if err != nil {
		return ConfigInfo{}, false
	}
	return c.snapshots.config(key)
}

func (c *client) State() ConnectionState {
	return c.conn.currentState()
}

func (c *client) Config() Config {
	return *c.cfg.clone()
}

func (c *client) Close() error {
	c.closeOnce.Do(func() {
		c.conn.close()
		n := c.registry.clear()
		c.registry.resetPending()
		c.snapshots.clear()
		c.metrics.subscriptions.Set(context.Background(), 0)
		c.logger.Info("naming client closed", clog.Int("subscriptions", n))
	})
	return nil
}

// onConnected 通知重连并重放：先重新注册实例，再按注册顺序重放订阅
func (c *client) onConnected(as *activeSession, reconnected bool) {
	c.registry.resetPending()

	c.registry.mu.Lock()
	regs := c.registry.registrationsLocked()
	subs := c.registry.subscriptionsLocked()
	c.registry.mu.Unlock()

	if reconnected {
		for _, sub := range subs {
			c.dispatcher.submit(sub, delivery{kind: deliverReconnected})
		}
	}

	for _, reg := range regs {
		req, _ := c.registerRequest(reg)
		as.enqueue(req, true)
	}
	for _, sub := range subs {
		as.enqueue(c.subscribeRequest(sub), true)
	}

	c.logger.Info("session ready",
		clog.String("endpoint", as.endpoint.String()),
		clog.Bool("reconnected", reconnected),
		clog.Int("registrations", len(regs)),
		clog.Int("subscriptions", len(subs)))
}

func (c *client) onDisconnected(cause error) {
	c.registry.resetPending()
	for _, sub := range c.registry.subscriptions() {
		c.dispatcher.submit(sub, delivery{kind: deliverDisconnected, cause: cause})
	}
}

func (c *client) onClosed(cause error) {
	c.onDisconnected(cause)
}

func (c *client) onMessage(_ *activeSession, msg *transport.Message) {
	switch msg.Kind {
	case transport.MessageAck:
		c.handleAck(msg)
	case transport.MessageServiceSnapshot:
		c.handleService(msg)
	case transport.MessageConfigPush:
		c.handleConfig(msg)
	default:
		c.logger.Debug("ignoring message", clog.String("kind", msg.Kind.String()))
	}
}

// handleAck 把拒绝应答路由到发起请求的订阅或调用方
func (c *client) handleAck(msg *transport.Message) {
	p := c.registry.resolve(msg.RequestID)
	if p == nil {
		return
	}
	if !msg.Rejected() {
		p.finish(nil)
		return
	}

	err := rejection(msg.Code, msg.Error)
	switch p.kind {
	case transport.RequestSubscribe:
		if p.sub == nil || p.sub.removed.Load() {
			return
		}
		c.logger.Warn("subscription rejected",
			clog.String("key", p.sub.key.String()),
			clog.String("code", msg.Code),
			clog.String("reason", msg.Error))
		c.dispatcher.submit(p.sub, delivery{kind: deliverDisconnected, cause: err})
	case transport.RequestRegister:
		c.logger.Warn("registration rejected",
			clog.String("service", p.reg.service.String()),
			clog.String("node", p.reg.node.Address()),
			clog.String("code", msg.Code),
			clog.String("reason", msg.Error))
		c.registry.removeRegistration(p.reg)
		p.finish(err)
	default:
		p.finish(err)
	}
}

func (c *client) handleService(msg *transport.Message) {
	key := Key{Kind: KindService, Namespace: msg.Namespace, Group: msg.Group, Name: msg.Name}
	nodes := make([]NodeInfo, len(msg.Instances))
	for i, inst := range msg.Instances {
		nodes[i] = NodeInfo{IP: inst.IP, Port: inst.Port, Healthy: inst.Healthy, Metadata: maps.Clone(inst.Metadata)}
	}
	next := normalizeNodes(nodes)

	c.registry.mu.Lock()
	defer c.registry.mu.Unlock()

	sub, ok := c.registry.subs[key]
	if !ok {
		c.logger.Debug("push for unknown service", clog.String("key", key.String()))
		return
	}

	events := diffService(key, sub.nodes, next)
	sub.nodes = next
	c.snapshots.setService(key, ServiceInfo{Namespace: key.Namespace, Group: key.Group, Name: key.Name, Nodes: next})

	c.logger.Debug("service pushed",
		clog.String("key", key.String()),
		clog.Int("nodes", len(next)),
		clog.Int("events", len(events)))
	c.dispatcher.submit(sub, eventDeliveries(events)...)
}

func (c *client) handleConfig(msg *transport.Message) {
	key := Key{Kind: KindConfig, Namespace: msg.Namespace, Group: msg.Group, Name: msg.Name}

	c.registry.mu.Lock()
	defer c.registry.mu.Unlock()

	sub, ok := c.registry.subs[key]
	if !ok {
		c.logger.Debug("push for unknown config", clog.String("key", key.String()))
		return
	}

	event, next, changed := detectConfig(key, sub.config, msg.Content, msg.MD5, msg.Deleted)
	sub.config = next
	if msg.Deleted {
		c.snapshots.invalidate(key)
	} else if changed {
		c.snapshots.setConfig(key, event.Config)
	}

	c.logger.Debug("config pushed",
		clog.String("key", key.String()),
		clog.Bool("deleted", msg.Deleted),
		clog.Bool("changed", changed))
	if changed {
		c.dispatcher.submit(sub, delivery{kind: deliverEvent, event: event})
	}
}

// subscribeRequest 构造订阅请求并记录，拒绝应答据此路由回订阅
func (c *client) subscribeRequest(sub *subscription) *transport.Request {
	req := newRequest(transport.RequestSubscribe, sub.key)
	c.registry.trackSubscribe(req.ID, sub)
	return req
}

func (c *client) registerRequest(reg *registration) (*transport.Request, *pendingRequest) {
	req := newRequest(transport.RequestRegister, reg.service)
	req.Instance = toInstance(reg.node, c.cfg.Metadata)
	req.Metadata = maps.Clone(c.cfg.Metadata)
	p := &pendingRequest{kind: req.Kind, reg: reg, done: make(chan error, 1)}
	c.registry.track(req.ID, p)
	return req, p
}

func (c *client) resolveService(service Key, node NodeInfo) (Key, error) {
	if service.Kind == 0 {
		service.Kind = KindService
	}
	if service.Kind != KindService {
		return Key{}, xerrors.Wrap(ErrInvalidKey, "instances can only be registered to services")
	}
	service, err := c.cfg.resolve(service)
	if err != nil {
		return Key{}, err
	}
	if strings.TrimSpace(node.IP) == "" || node.Port < 1 || node.Port > 65535 {
		return Key{}, xerrors.Wrapf(ErrInvalidInstance, "%q", node.Address())
	}
	return service, nil
}

func newRequest(kind transport.RequestKind, key Key) *transport.Request {
	target := transport.TargetService
	if key.Kind == KindConfig {
		target = transport.TargetConfig
	}
	return &transport.Request{
		ID:        uuid.NewString(),
		Kind:      kind,
		Target:    target,
		Namespace: key.Namespace,
		Group:     key.Group,
		Name:      key.Name,
	}
}

// toInstance 转换为线上表示，节点自身的 metadata 覆盖公共 metadata
func toInstance(node NodeInfo, common map[string]string) *transport.Instance {
	md := make(map[string]string, len(common)+len(node.Metadata))
	maps.Copy(md, common)
	maps.Copy(md, node.Metadata)
	if len(md) == 0 {
		md = nil
	}
	return &transport.Instance{IP: node.IP, Port: node.Port, Healthy: node.Healthy, Metadata: md}
}
