package naming

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/transport"
	"github.com/ceyewan/naming/xerrors"
)

// connHandler 连接管理器对上层的回调
//
// onConnected、onDisconnected、onClosed 在状态锁内调用，实现不能阻塞；
// onMessage 在接收 goroutine 中调用，不持有状态锁。
type connHandler interface {
	onConnected(as *activeSession, reconnected bool)
	onDisconnected(cause error)
	onClosed(cause error)
	onMessage(as *activeSession, msg *transport.Message)
}

// outbound 发送队列中的一项
type outbound struct {
	req   *transport.Request
	paced bool
}

// activeSession 一个已建立的会话及其发送队列
//
// 每个会话有自己的发送、接收、心跳三个 goroutine，会话失效后全部退出。
type activeSession struct {
	sess     transport.Session
	endpoint transport.Endpoint
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	urgent []*transport.Request // 心跳，先于 queue 发送且不受重放限速影响
	queue  []outbound
	signal chan struct{}

	lastRecv atomic.Int64
}

// enqueue 追加一个待发送请求，不阻塞
func (as *activeSession) enqueue(req *transport.Request, paced bool) {
	as.mu.Lock()
	as.queue = append(as.queue, outbound{req: req, paced: paced})
	as.mu.Unlock()
	as.wake()
}

// enqueueUrgent 追加一个插队发送的请求
func (as *activeSession) enqueueUrgent(req *transport.Request) {
	as.mu.Lock()
	as.urgent = append(as.urgent, req)
	as.mu.Unlock()
	as.wake()
}

func (as *activeSession) wake() {
	select {
	case as.signal <- struct{}{}:
	default:
	}
}

func (as *activeSession) popUrgent() (*transport.Request, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if len(as.urgent) == 0 {
		return nil, false
	}
	req := as.urgent[0]
	as.urgent[0] = nil
	as.urgent = as.urgent[1:]
	return req, true
}

// pop 取出下一个待发送请求，插队请求优先
func (as *activeSession) pop() (outbound, bool) {
	if req, ok := as.popUrgent(); ok {
		return outbound{req: req}, true
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	if len(as.queue) == 0 {
		return outbound{}, false
	}
	item := as.queue[0]
	as.queue[0] = outbound{}
	as.queue = as.queue[1:]
	return item, true
}

func (as *activeSession) touch() {
	as.lastRecv.Store(time.Now().UnixNano())
}

// idle 距离上一条入站消息的时长
func (as *activeSession) idle() time.Duration {
	return time.Since(time.Unix(0, as.lastRecv.Load()))
}

// connManager 连接状态机
//
//	CONNECTING --成功--> CONNECTED
//	CONNECTING --失败--> RECONNECTING（仍有重连预算，等待定时器）| CLOSED
//	CONNECTED  --心跳超时/传输错误/服务端关闭--> DISCONNECTED
//	DISCONNECTED --定时器--> RECONNECTING --成功--> CONNECTED
//	RECONNECTING --失败--> DISCONNECTED | CLOSED（预算耗尽）
//
// CLOSED 是终态。状态只在 mu 内修改。
type connManager struct {
	cfg      *Config
	opts     transport.Options
	dialer   transport.Dialer
	pool     *addressPool
	handler  connHandler
	logger   clog.Logger
	metrics  *clientMetrics
	observer StateObserver
	limiter  *rate.Limiter

	mu         sync.Mutex
	state      ConnectionState
	started    bool
	session    *activeSession
	attempts   int
	timer      *time.Timer
	dialCancel context.CancelFunc
	wg         sync.WaitGroup
}

func newConnManager(cfg *Config, dialer transport.Dialer, pool *addressPool, handler connHandler,
	logger clog.Logger, m *clientMetrics, observer StateObserver) *connManager {
	cm := &connManager{
		cfg:      cfg,
		opts:     cfg.transportOptions(),
		dialer:   dialer,
		pool:     pool,
		handler:  handler,
		logger:   logger,
		metrics:  m,
		observer: observer,
		state:    StateConnecting,
	}
	if cfg.ReplayRate > 0 {
		cm.limiter = rate.NewLimiter(rate.Limit(cfg.ReplayRate), 1)
	}
	return cm
}

// setStateLocked 切换状态并通知观察者，离开 CLOSED 的切换被忽略
func (m *connManager) setStateLocked(to ConnectionState) {
	from := m.state
	if from == to || from == StateClosed {
		return
	}
	m.state = to
	m.metrics.state.Set(context.Background(), float64(to))
	m.logger.Info("connection state changed",
		clog.String("from", from.String()),
		clog.String("to", to.String()))
	if m.observer != nil {
		m.observer(from, to)
	}
}

func (m *connManager) currentState() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// locked 在状态锁内执行 fn，已连接时传入当前会话，否则传入 nil；已关闭时返回 ErrClientClosed
func (m *connManager) locked(fn func(as *activeSession)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return ErrClientClosed
	}
	fn(m.session)
	return nil
}

// start 同步完成第一次连接
//
// 失败且仍有重连预算时转入后台重连并返回 nil；预算为 0 时进入 CLOSED 并返回错误。
func (m *connManager) start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClientClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	m.dialCancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	ep, sess, err := m.dial(dialCtx)
	cancel()

	m.mu.Lock()
	m.dialCancel = nil
	if m.state == StateClosed {
		m.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		return ErrClientClosed
	}
	if err != nil {
		m.logger.Warn("initial connect failed",
			clog.String("endpoint", ep.String()),
			clog.Error(err))
		err = m.dialFailedLocked(err, true)
		m.mu.Unlock()
		return err
	}
	m.installLocked(ep, sess, false)
	m.mu.Unlock()
	return nil
}

// reconnect 由重连定时器触发，在独立的 goroutine 中拨号
func (m *connManager) reconnect() {
	m.mu.Lock()
	if m.state != StateDisconnected && m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.attempts++
	attempt := m.attempts
	m.setStateLocked(StateReconnecting)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	m.dialCancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	ep, sess, err := m.dial(ctx)
	cancel()

	m.mu.Lock()
	m.dialCancel = nil
	if m.state == StateClosed {
		// 关闭发生在拨号期间，放弃这次结果
		m.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		return
	}

	m.metrics.reconnects.Inc(context.Background(), metrics.L(metrics.LabelResult, metrics.Outcome(err)))
	if err != nil {
		m.logger.Warn("reconnect attempt failed",
			clog.Int("attempt", attempt),
			clog.Int("max_attempts", m.cfg.MaxReconnectAttempts),
			clog.String("endpoint", ep.String()),
			clog.Error(err))
		_ = m.dialFailedLocked(err, false)
		m.mu.Unlock()
		return
	}

	m.logger.Info("reconnected", clog.Int("attempt", attempt), clog.String("endpoint", ep.String()))
	m.attempts = 0
	m.installLocked(ep, sess, true)
	m.mu.Unlock()
}

func (m *connManager) dial(ctx context.Context) (transport.Endpoint, transport.Session, error) {
	begin := time.Now()
	ep, sess, err := m.pool.dial(ctx, func(ctx context.Context, ep transport.Endpoint) (transport.Session, error) {
		return m.dialer.Dial(ctx, ep, m.opts)
	})
	m.metrics.dialDuration.Record(context.Background(), time.Since(begin).Seconds(),
		metrics.L(metrics.LabelEndpoint, ep.String()),
		metrics.L(metrics.LabelResult, metrics.Outcome(err)))
	return ep, sess, err
}

// exhaustedLocked 有界预算是否已用完
func (m *connManager) exhaustedLocked() bool {
	limit := m.cfg.MaxReconnectAttempts
	return limit >= 0 && m.attempts >= limit
}

// dialFailedLocked 拨号失败后安排下一次重连，预算耗尽时进入 CLOSED
//
// 第一次连接失败直接进入 RECONNECTING 并通知订阅；重连失败回到 DISCONNECTED。
func (m *connManager) dialFailedLocked(cause error, initial bool) error {
	if m.exhaustedLocked() {
		return m.closeExhaustedLocked(cause)
	}
	if initial {
		m.setStateLocked(StateReconnecting)
		m.handler.onDisconnected(cause)
	} else {
		m.setStateLocked(StateDisconnected)
	}
	m.scheduleLocked()
	return nil
}

// closeExhaustedLocked 重连预算耗尽，进入终态并通知所有订阅
func (m *connManager) closeExhaustedLocked(cause error) error {
	fatal := xerrors.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, m.attempts, cause)
	m.logger.Error("giving up reconnecting", clog.Error(fatal))
	m.setStateLocked(StateClosed)
	m.handler.onClosed(fatal)
	return fatal
}

func (m *connManager) scheduleLocked() {
	m.timer = time.AfterFunc(m.cfg.ReconnectInterval, m.reconnect)
}

// installLocked 启用新会话：进入 CONNECTED，启动会话 goroutine，交给上层重放
func (m *connManager) installLocked(ep transport.Endpoint, sess transport.Session, reconnected bool) {
	ctx, cancel := context.WithCancel(context.Background())
	as := &activeSession{
		sess:     sess,
		endpoint: ep,
		ctx:      ctx,
		cancel:   cancel,
		signal:   make(chan struct{}, 1),
	}
	as.touch()
	m.session = as
	m.setStateLocked(StateConnected)

	m.wg.Add(3)
	go m.sendLoop(as)
	go m.recvLoop(as)
	go m.heartbeatLoop(as)

	m.handler.onConnected(as, reconnected)
}

// sessionFailed 会话失效，只有当前会话的第一次失败生效
func (m *connManager) sessionFailed(as *activeSession, cause error) {
	m.mu.Lock()
	if m.session != as || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.session = nil
	as.cancel()
	m.logger.Warn("session lost",
		clog.String("endpoint", as.endpoint.String()),
		clog.Error(cause))

	m.setStateLocked(StateDisconnected)
	m.handler.onDisconnected(cause)
	if m.exhaustedLocked() {
		_ = m.closeExhaustedLocked(cause)
	} else {
		m.scheduleLocked()
	}
	m.mu.Unlock()

	_ = as.sess.Close()
}

// sendLoop 串行发送队列中的请求，重放请求按 ReplayRate 限速
func (m *connManager) sendLoop(as *activeSession) {
	defer m.wg.Done()
	for {
		select {
		case <-as.ctx.Done():
			return
		case <-as.signal:
		}

		for {
			item, ok := as.pop()
			if !ok {
				break
			}
			if item.paced && m.limiter != nil && !m.pace(as) {
				return
			}
			if !m.send(as, item.req) {
				return
			}
		}
	}
}

// pace 等待一个重放令牌，等待期间到达的心跳立即发送
func (m *connManager) pace(as *activeSession) bool {
	r := m.limiter.Reserve()
	delay := r.Delay()
	if !r.OK() || delay == 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-as.ctx.Done():
			r.Cancel()
			return false
		case <-timer.C:
			return true
		case <-as.signal:
			// 普通请求留在队列里，由 sendLoop 按顺序发送
			for {
				req, ok := as.popUrgent()
				if !ok {
					break
				}
				if !m.send(as, req) {
					r.Cancel()
					return false
				}
			}
		}
	}
}

// send 发送一个请求，失败时让会话失效
func (m *connManager) send(as *activeSession, req *transport.Request) bool {
	ctx, cancel := context.WithTimeout(as.ctx, m.cfg.RequestTimeout)
	err := as.sess.Send(ctx, req)
	cancel()
	if err != nil {
		if as.ctx.Err() == nil {
			m.sessionFailed(as, xerrors.Wrapf(err, "send %s", req.Kind))
		}
		return false
	}
	return true
}

// recvLoop 持续读取入站消息，任何入站消息都刷新存活时间
func (m *connManager) recvLoop(as *activeSession) {
	defer m.wg.Done()
	for {
		msg, err := as.sess.Recv()
		if err != nil {
			if as.ctx.Err() != nil {
				return
			}
			if xerrors.Is(err, io.EOF) {
				err = ErrServerClosed
			}
			m.sessionFailed(as, err)
			return
		}
		as.touch()

		switch msg.Kind {
		case transport.MessageHeartbeatAck:
		case transport.MessageGoAway:
			m.sessionFailed(as, ErrServerClosed)
			return
		default:
			m.handler.onMessage(as, msg)
		}
	}
}

// heartbeatLoop 定期发送心跳，超过 HeartbeatTimeout 没有入站消息视为断开
func (m *connManager) heartbeatLoop(as *activeSession) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-as.ctx.Done():
			return
		case <-ticker.C:
			if idle := as.idle(); idle > m.cfg.HeartbeatTimeout {
				m.sessionFailed(as, xerrors.Wrapf(ErrHeartbeatTimeout, "no inbound message for %s", idle.Round(time.Millisecond)))
				return
			}
			as.enqueueUrgent(&transport.Request{ID: uuid.NewString(), Kind: transport.RequestHeartbeat})
		}
	}
}

// close 进入 CLOSED，停止定时器、取消进行中的拨号、关闭会话并等待所有 goroutine 退出
func (m *connManager) close() {
	m.mu.Lock()
	m.setStateLocked(StateClosed)
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
	}
	as := m.session
	m.session = nil
	if as != nil {
		as.cancel()
	}
	m.mu.Unlock()

	if as != nil {
		_ = as.sess.Close()
	}
	m.wg.Wait()
}
