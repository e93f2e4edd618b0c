package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/connector"
	"github.com/ceyewan/naming/xerrors"
)

// DefaultEtcdPrefix etcd 中所有数据的根前缀
const DefaultEtcdPrefix = "/naming"

const (
	defaultLeaseTTL   = 10 * time.Second
	etcdInboxSize     = 64
	etcdRevokeTimeout = 3 * time.Second
)

// EtcdDialer 以 etcd 作为注册中心
//
// 存储结构：
//
//	<prefix>/services/<namespace>/<group>/<service>/<ip:port> -> JSON(Instance)
//	<prefix>/configs/<namespace>/<group>/<dataId>             -> 原始配置内容
//
// 每个会话持有一个租约，注册的实例绑定到该租约；心跳即一次 KeepAliveOnce，
// 会话断开后实例随租约过期自动下线。
type EtcdDialer struct {
	Prefix string
	Logger clog.Logger
}

// NewEtcdDialer 创建 EtcdDialer，prefix 为空时使用 DefaultEtcdPrefix
func NewEtcdDialer(prefix string, logger clog.Logger) *EtcdDialer {
	return &EtcdDialer{Prefix: prefix, Logger: logger}
}

func (d *EtcdDialer) prefix() string {
	if d.Prefix == "" {
		return DefaultEtcdPrefix
	}
	return strings.TrimRight(d.Prefix, "/")
}

// ServicePrefix 服务实例的 key 前缀
func (d *EtcdDialer) ServicePrefix(namespace, group, service string) string {
	return fmt.Sprintf("%s/services/%s/%s/%s/", d.prefix(), namespace, group, service)
}

// InstanceKey 服务实例的 key
func (d *EtcdDialer) InstanceKey(namespace, group, service string, inst Instance) string {
	return d.ServicePrefix(namespace, group, service) + Endpoint{Host: inst.IP, Port: inst.Port}.String()
}

// ConfigKey 配置的 key
func (d *EtcdDialer) ConfigKey(namespace, group, dataID string) string {
	return fmt.Sprintf("%s/configs/%s/%s/%s", d.prefix(), namespace, group, dataID)
}

// Dial 连接单个 etcd 节点并申请会话租约
func (d *EtcdDialer) Dial(ctx context.Context, ep Endpoint, opts Options) (Session, error) {
	logger := d.Logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("endpoint", ep.String()))

	tlsCfg, err := BuildTLSConfig(opts.TLS)
	if err != nil {
		return nil, err
	}

	cfg := &connector.EtcdConfig{
		Name:                ep.String(),
		Endpoints:           []string{ep.String()},
		DialTimeout:         opts.RequestTimeout,
		KeepAliveTime:       opts.KeepAlive.Time,
		KeepAliveTimeout:    opts.KeepAlive.Timeout,
		PermitWithoutStream: opts.KeepAlive.PermitWithoutStream,
		MaxCallRecvMsgSize:  opts.MaxInboundMessageSize,
		TLS:                 tlsCfg,
	}
	// etcd 只支持用户名密码认证，token 无处可用
	if opts.Credentials.HasUserPassword() {
		cfg.Username = opts.Credentials.Username
		cfg.Password = opts.Credentials.Password
	} else if opts.Credentials.Token != "" {
		logger.Warn("etcd dialect ignores access token, configure username and password instead")
	}

	conn, err := connector.NewEtcd(cfg, connector.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	ttl := opts.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	ttlSeconds := int64((ttl + time.Second - 1) / time.Second)

	client := conn.GetClient()
	lease, err := client.Grant(ctx, ttlSeconds)
	if err != nil {
		_ = conn.Close()
		return nil, xerrors.Wrap(err, "grant lease failed")
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &etcdSession{
		dialer:  d,
		conn:    conn,
		client:  client,
		leaseID: lease.ID,
		logger:  logger,
		ctx:     sessCtx,
		cancel:  cancel,
		inbox:   make(chan *Message, etcdInboxSize),
		failed:  make(chan struct{}),
		watches: make(map[string]context.CancelFunc),
	}

	logger.Debug("etcd session established",
		clog.Int64("lease_id", int64(lease.ID)),
		clog.Int64("ttl", lease.TTL))
	return s, nil
}

type etcdSession struct {
	dialer  *EtcdDialer
	conn    connector.EtcdConnector
	client  *clientv3.Client
	leaseID clientv3.LeaseID
	logger  clog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inbox chan *Message

	failOnce sync.Once
	failErr  error
	failed   chan struct{}

	mu      sync.Mutex
	watches map[string]context.CancelFunc

	closeOnce sync.Once
}

// push 投递一条入站消息，会话关闭时丢弃
func (s *etcdSession) push(msg *Message) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
	}
}

// fail 记录第一个致命错误，之后 Recv 返回该错误
func (s *etcdSession) fail(err error) {
	s.failOnce.Do(func() {
		s.failErr = err
		close(s.failed)
	})
}

func (s *etcdSession) Recv() (*Message, error) {
	select {
	case msg := <-s.inbox:
		return msg, nil
	case <-s.failed:
		return nil, s.failErr
	case <-s.ctx.Done():
		return nil, ErrSessionClosed
	}
}

func (s *etcdSession) Send(ctx context.Context, req *Request) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}

	switch req.Kind {
	case RequestHeartbeat:
		return s.heartbeat(ctx, req)
	case RequestSubscribe:
		return s.subscribe(ctx, req)
	case RequestUnsubscribe:
		s.stopWatch(watchKey(req))
		s.push(Ack(req.ID))
		return nil
	case RequestRegister:
		return s.register(ctx, req)
	case RequestDeregister:
		return s.deregister(ctx, req)
	default:
		return xerrors.Wrapf(ErrUnsupportedRequest, "kind %s", req.Kind)
	}
}

func (s *etcdSession) heartbeat(ctx context.Context, req *Request) error {
	if _, err := s.client.KeepAliveOnce(ctx, s.leaseID); err != nil {
		// 租约丢失意味着注册的实例已下线，交给上层重建会话
		return xerrors.Wrap(err, "lease keepalive failed")
	}
	s.push(&Message{Kind: MessageHeartbeatAck, RequestID: req.ID})
	return nil
}

func (s *etcdSession) register(ctx context.Context, req *Request) error {
	if req.Instance == nil {
		s.push(Reject(req.ID, CodeInvalidRequest, "instance is required"))
		return nil
	}
	inst := *req.Instance
	if len(req.Metadata) > 0 {
		merged := make(map[string]string, len(req.Metadata)+len(inst.Metadata))
		for k, v := range req.Metadata {
			merged[k] = v
		}
		for k, v := range inst.Metadata {
			merged[k] = v
		}
		inst.Metadata = merged
	}

	value, err := json.Marshal(inst)
	if err != nil {
		return xerrors.Wrap(err, "marshal instance failed")
	}

	key := s.dialer.InstanceKey(req.Namespace, req.Group, req.Name, inst)
	_, err = s.client.Put(ctx, key, string(value), clientv3.WithLease(s.leaseID))
	return s.ack(req, err)
}

func (s *etcdSession) deregister(ctx context.Context, req *Request) error {
	if req.Instance == nil {
		s.push(Reject(req.ID, CodeInvalidRequest, "instance is required"))
		return nil
	}
	key := s.dialer.InstanceKey(req.Namespace, req.Group, req.Name, *req.Instance)
	_, err := s.client.Delete(ctx, key)
	return s.ack(req, err)
}

// ack 把单次请求的可归因错误转成拒绝应答，其余错误返回给调用方视为会话失败
func (s *etcdSession) ack(req *Request, err error) error {
	if err == nil {
		s.push(Ack(req.ID))
		return nil
	}
	if code, ok := rejectionCode(err); ok {
		s.logger.Warn("request rejected",
			clog.String("kind", req.Kind.String()),
			clog.String("name", req.Name),
			clog.String("code", code),
			clog.Error(err))
		s.push(Reject(req.ID, code, err.Error()))
		return nil
	}
	return xerrors.Wrapf(err, "%s %s", req.Kind, req.Name)
}

func rejectionCode(err error) (string, bool) {
	switch {
	case errors.Is(err, rpctypes.ErrPermissionDenied),
		errors.Is(err, rpctypes.ErrAuthFailed),
		errors.Is(err, rpctypes.ErrInvalidAuthToken),
		errors.Is(err, rpctypes.ErrUserEmpty):
		return CodeAuthRejected, true
	case errors.Is(err, rpctypes.ErrRequestTooLarge),
		errors.Is(err, rpctypes.ErrTooManyOps),
		errors.Is(err, rpctypes.ErrGRPCRequestTooLarge):
		return CodeSizeExceeded, true
	case errors.Is(err, context.DeadlineExceeded):
		return CodeRequestTimeout, true
	default:
		return "", false
	}
}

func watchKey(req *Request) string {
	return fmt.Sprintf("%s|%s|%s|%s", req.Target, req.Namespace, req.Group, req.Name)
}

// subscribe 同步读取一次当前状态并推送，随后在后台从下一个 revision 开始 watch
func (s *etcdSession) subscribe(ctx context.Context, req *Request) error {
	var (
		key  string
		opts []clientv3.OpOption
	)
	switch req.Target {
	case TargetService:
		key = s.dialer.ServicePrefix(req.Namespace, req.Group, req.Name)
		opts = []clientv3.OpOption{clientv3.WithPrefix()}
	case TargetConfig:
		key = s.dialer.ConfigKey(req.Namespace, req.Group, req.Name)
	default:
		s.push(Reject(req.ID, CodeInvalidRequest, "unknown target"))
		return nil
	}

	resp, err := s.client.Get(ctx, key, opts...)
	if err != nil {
		return s.ack(req, err)
	}
	s.push(Ack(req.ID))

	base := &Message{Namespace: req.Namespace, Group: req.Group, Name: req.Name}
	if req.Target == TargetService {
		s.push(s.serviceSnapshot(base, resp.Kvs))
	} else if len(resp.Kvs) > 0 {
		s.push(configPush(base, resp.Kvs[0].Value))
	}

	wk := watchKey(req)
	s.stopWatch(wk)

	watchCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.watches[wk] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.watch(watchCtx, req.Target, key, base, resp.Header.Revision)
	return nil
}

func (s *etcdSession) stopWatch(wk string) {
	s.mu.Lock()
	cancel, ok := s.watches[wk]
	delete(s.watches, wk)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *etcdSession) serviceSnapshot(base *Message, kvs []*mvccpb.KeyValue) *Message {
	msg := *base
	msg.Kind = MessageServiceSnapshot
	msg.Instances = make([]Instance, 0, len(kvs))
	for _, kv := range kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			s.logger.Warn("failed to unmarshal service instance",
				clog.String("key", string(kv.Key)),
				clog.Error(err))
			continue
		}
		msg.Instances = append(msg.Instances, inst)
	}
	return &msg
}

func configPush(base *Message, content []byte) *Message {
	msg := *base
	msg.Kind = MessageConfigPush
	msg.Content = string(content)
	return &msg
}

// watch 持续监听 key 的变化
//
// 服务：任何变化都重新读取全量节点并推送快照。
// 配置：PUT 推送新内容，DELETE 推送删除信号。
// revision 被压缩时重新读取并从新 revision 继续；其他 watch 错误视为会话失败。
func (s *etcdSession) watch(ctx context.Context, target Target, key string, base *Message, rev int64) {
	defer s.wg.Done()

	var opts []clientv3.OpOption
	if target == TargetService {
		opts = append(opts, clientv3.WithPrefix())
	}

	for {
		watchOpts := append([]clientv3.OpOption{clientv3.WithRev(rev + 1)}, opts...)
		watchCh := s.client.Watch(clientv3.WithRequireLeader(ctx), key, watchOpts...)

		s.logger.Debug("watch started", clog.String("key", key), clog.Int64("from_revision", rev+1))

	inner:
		for {
			select {
			case <-ctx.Done():
				return
			case wresp, ok := <-watchCh:
				if !ok {
					if ctx.Err() != nil {
						return
					}
					s.fail(xerrors.Wrapf(ErrWatchClosed, "key %s", key))
					return
				}

				if err := wresp.Err(); err != nil {
					if !errors.Is(err, rpctypes.ErrCompacted) {
						s.fail(xerrors.Wrapf(err, "watch %s", key))
						return
					}
					s.logger.Warn("watch revision compacted, resyncing", clog.String("key", key))
					resp, err := s.client.Get(ctx, key, opts...)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						s.fail(xerrors.Wrapf(err, "resync %s", key))
						return
					}
					s.pushCurrent(target, base, resp.Kvs)
					rev = resp.Header.Revision
					break inner
				}

				if len(wresp.Events) == 0 {
					continue
				}
				rev = wresp.Header.Revision

				if target == TargetService {
					resp, err := s.client.Get(ctx, key, clientv3.WithPrefix(), clientv3.WithRev(rev))
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						s.fail(xerrors.Wrapf(err, "get %s", key))
						return
					}
					s.push(s.serviceSnapshot(base, resp.Kvs))
					continue
				}

				for _, ev := range wresp.Events {
					if ev.Type == clientv3.EventTypeDelete {
						msg := *base
						msg.Kind = MessageConfigPush
						msg.Deleted = true
						s.push(&msg)
						continue
					}
					s.push(configPush(base, ev.Kv.Value))
				}
			}
		}
	}
}

// pushCurrent 推送 key 在当前 revision 的状态，配置不存在时推送删除信号
func (s *etcdSession) pushCurrent(target Target, base *Message, kvs []*mvccpb.KeyValue) {
	if target == TargetService {
		s.push(s.serviceSnapshot(base, kvs))
		return
	}
	if len(kvs) == 0 {
		msg := *base
		msg.Kind = MessageConfigPush
		msg.Deleted = true
		s.push(&msg)
		return
	}
	s.push(configPush(base, kvs[0].Value))
}

// Close 停止所有 watch，撤销租约并关闭连接
func (s *etcdSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), etcdRevokeTimeout)
		defer cancel()
		if _, revokeErr := s.client.Revoke(ctx, s.leaseID); revokeErr != nil {
			s.logger.Warn("failed to revoke lease", clog.Int64("lease_id", int64(s.leaseID)), clog.Error(revokeErr))
		}
		err = s.conn.Close()
	})
	return err
}
