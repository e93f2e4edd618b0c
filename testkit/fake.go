package testkit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ceyewan/naming/transport"
	"github.com/ceyewan/naming/xerrors"
)

// ErrFakeDial FakeDialer 注入的拨号失败
var ErrFakeDial = xerrors.New("testkit: fake dial failure")

const fakeInboxSize = 1024

// Rejector 返回非 nil 时替代默认的 Ack，用于模拟服务端拒绝请求
type Rejector func(req *transport.Request) *transport.Message

// FakeDialer 内存中的 transport.Dialer，可按脚本注入失败、阻塞拨号
//
//	dialer := testkit.NewFakeDialer()
//	dialer.FailAlways(true)
//	client, _ := naming.New(cfg, naming.WithDialer(dialer))
type FakeDialer struct {
	mu         sync.Mutex
	dials      []transport.Endpoint
	sessions   []*FakeSession
	failNext   int
	failAlways bool
	gate       chan struct{}
	rejector   Rejector
	noHBAck    bool

	sessionCh chan *FakeSession
}

// NewFakeDialer 创建 FakeDialer，默认每次拨号都成功并自动应答心跳和请求
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{sessionCh: make(chan *FakeSession, 64)}
}

// FailNext 让接下来 n 次拨号失败
func (d *FakeDialer) FailNext(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

// FailAlways 让所有拨号失败，直到再次以 false 调用
func (d *FakeDialer) FailAlways(fail bool) {
	d.mu.Lock()
	d.failAlways = fail
	d.mu.Unlock()
}

// Block 让后续拨号阻塞，直到调用返回的 release 或拨号 ctx 结束
func (d *FakeDialer) Block() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == gate {
				d.gate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// SetRejector 设置请求拒绝规则，对之后建立的会话同样生效
func (d *FakeDialer) SetRejector(r Rejector) {
	d.mu.Lock()
	d.rejector = r
	d.mu.Unlock()
}

// DisableHeartbeatAck 关闭心跳自动应答，用于模拟服务端失联
func (d *FakeDialer) DisableHeartbeatAck() {
	d.mu.Lock()
	d.noHBAck = true
	d.mu.Unlock()
}

// Dial 实现 transport.Dialer
func (d *FakeDialer) Dial(ctx context.Context, ep transport.Endpoint, opts transport.Options) (transport.Session, error) {
	d.mu.Lock()
	d.dials = append(d.dials, ep)
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAlways {
		return nil, xerrors.Wrapf(ErrFakeDial, "endpoint %s", ep)
	}
	if d.failNext > 0 {
		d.failNext--
		return nil, xerrors.Wrapf(ErrFakeDial, "endpoint %s", ep)
	}

	s := &FakeSession{
		Endpoint: ep,
		Options:  opts,
		dialer:   d,
		inbox:    make(chan *transport.Message, fakeInboxSize),
		sentCh:   make(chan *transport.Request, fakeInboxSize),
		failed:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
	d.sessions = append(d.sessions, s)
	select {
	case d.sessionCh <- s:
	default:
	}
	return s, nil
}

// Dials 返回所有拨号尝试的目标，包含失败的
func (d *FakeDialer) Dials() []transport.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]transport.Endpoint(nil), d.dials...)
}

// DialCount 拨号尝试次数
func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

// Sessions 返回所有成功建立的会话
func (d *FakeDialer) Sessions() []*FakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeSession(nil), d.sessions...)
}

// WaitSession 等待下一个新建立的会话
func (d *FakeDialer) WaitSession(t *testing.T, timeout time.Duration) *FakeSession {
	t.Helper()
	select {
	case s := <-d.sessionCh:
		return s
	case <-time.After(timeout):
		t.Fatalf("no session established within %s", timeout)
		return nil
	}
}

// respond 按默认规则应答一个请求
func (d *FakeDialer) respond(s *FakeSession, req *transport.Request) {
	d.mu.Lock()
	rejector := d.rejector
	noHBAck := d.noHBAck
	d.mu.Unlock()

	if req.Kind == transport.RequestHeartbeat {
		if !noHBAck {
			s.Push(&transport.Message{Kind: transport.MessageHeartbeatAck, RequestID: req.ID})
		}
		return
	}
	if rejector != nil {
		if msg := rejector(req); msg != nil {
			s.Push(msg)
			return
		}
	}
	s.Push(transport.Ack(req.ID))
}

// FakeSession 内存中的 transport.Session
type FakeSession struct {
	Endpoint transport.Endpoint
	Options  transport.Options

	dialer *FakeDialer
	inbox  chan *transport.Message
	sentCh chan *transport.Request

	mu   sync.Mutex
	sent []*transport.Request

	failOnce  sync.Once
	failErr   error
	failed    chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// Push 模拟服务端推送一条消息
func (s *FakeSession) Push(msg *transport.Message) {
	select {
	case s.inbox <- msg:
	case <-s.closed:
	}
}

// PushService 推送一个服务的全量快照
func (s *FakeSession) PushService(namespace, group, name string, instances ...transport.Instance) {
	s.Push(&transport.Message{
		Kind:      transport.MessageServiceSnapshot,
		Namespace: namespace,
		Group:     group,
		Name:      name,
		Instances: instances,
	})
}

// PushConfig 推送配置内容，md5 为空时由客户端计算
func (s *FakeSession) PushConfig(namespace, group, dataID, content, md5 string) {
	s.Push(&transport.Message{
		Kind:      transport.MessageConfigPush,
		Namespace: namespace,
		Group:     group,
		Name:      dataID,
		Content:   content,
		MD5:       md5,
	})
}

// Fail 让 Recv 与 Send 返回 err，模拟连接中断
func (s *FakeSession) Fail(err error) {
	s.failOnce.Do(func() {
		s.failErr = err
		close(s.failed)
	})
}

// Closed 会话是否已被客户端关闭
func (s *FakeSession) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Sent 返回已发送的请求
func (s *FakeSession) Sent() []*transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*transport.Request(nil), s.sent...)
}

// SentOf 返回指定类型的已发送请求
func (s *FakeSession) SentOf(kind transport.RequestKind) []*transport.Request {
	var out []*transport.Request
	for _, req := range s.Sent() {
		if req.Kind == kind {
			out = append(out, req)
		}
	}
	return out
}

// WaitSent 等待一条指定类型的请求，跳过其他类型
func (s *FakeSession) WaitSent(t *testing.T, kind transport.RequestKind, timeout time.Duration) *transport.Request {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case req := <-s.sentCh:
			if req.Kind == kind {
				return req
			}
		case <-deadline:
			t.Fatalf("no %s request sent within %s", kind, timeout)
			return nil
		}
	}
}

// Send 实现 transport.Session
func (s *FakeSession) Send(_ context.Context, req *transport.Request) error {
	select {
	case <-s.closed:
		return transport.ErrSessionClosed
	case <-s.failed:
		return s.failErr
	default:
	}

	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()
	select {
	case s.sentCh <- req:
	default:
	}

	s.dialer.respond(s, req)
	return nil
}

// Recv 实现 transport.Session，已排队的消息先于失败返回
func (s *FakeSession) Recv() (*transport.Message, error) {
	select {
	case msg := <-s.inbox:
		return msg, nil
	default:
	}

	select {
	case msg := <-s.inbox:
		return msg, nil
	case <-s.failed:
		return nil, s.failErr
	case <-s.closed:
		return nil, transport.ErrSessionClosed
	}
}

// Close 实现 transport.Session
func (s *FakeSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}
