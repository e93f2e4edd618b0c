package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/xerrors"
)

const healthCheckKey = "health-check"

type etcdConnector struct {
	cfg     *EtcdConfig
	client  *clientv3.Client
	logger  clog.Logger
	healthy atomic.Bool
	closed  bool
	mu      sync.RWMutex

	connectAttempts metrics.Counter
	active          metrics.Gauge
}

// NewEtcd 创建 Etcd 连接器，不会立即建立连接
func NewEtcd(cfg *EtcdConfig, opts ...Option) (EtcdConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "etcd config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := applyOptions(opts)

	c := &etcdConnector{
		cfg:    cfg,
		logger: opt.logger.With(clog.String("connector", "etcd"), clog.String("name", cfg.Name)),
	}

	var err error
	c.connectAttempts, err = opt.meter.Counter(
		"connector_etcd_connect_attempts_total",
		"Number of etcd connect attempts",
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "create connect attempts counter")
	}
	c.active, err = opt.meter.Gauge(
		"connector_etcd_active_connections",
		"Number of active etcd connections",
	)
	if err != nil {
		return nil, xerrors.Wrap(err, "create active connections gauge")
	}

	return c, nil
}

func (c *etcdConnector) clientConfig(ctx context.Context) clientv3.Config {
	return clientv3.Config{
		Endpoints:            c.cfg.Endpoints,
		DialTimeout:          c.cfg.DialTimeout,
		DialKeepAliveTime:    c.cfg.KeepAliveTime,
		DialKeepAliveTimeout: c.cfg.KeepAliveTimeout,
		PermitWithoutStream:  c.cfg.PermitWithoutStream,
		MaxCallRecvMsgSize:   c.cfg.MaxCallRecvMsgSize,
		Username:             c.cfg.Username,
		Password:             c.cfg.Password,
		TLS:                  c.cfg.TLS,
		Context:              context.WithoutCancel(ctx),
	}
}

// Connect 建立连接并发送一次探测请求
func (c *etcdConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrAlreadyClosed
	}
	if c.client != nil {
		return nil
	}

	c.logger.Debug("connecting to etcd", clog.Any("endpoints", c.cfg.Endpoints))

	client, err := clientv3.New(c.clientConfig(ctx))
	if err != nil {
		c.connectAttempts.Inc(ctx, metrics.L(metrics.LabelResult, metrics.OutcomeError))
		return xerrors.Combine(ErrConnection, xerrors.Wrapf(err, "etcd connector[%s]", c.cfg.Name))
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	if _, err := client.Get(probeCtx, healthCheckKey); err != nil {
		_ = client.Close()
		c.connectAttempts.Inc(ctx, metrics.L(metrics.LabelResult, metrics.OutcomeError))
		c.logger.Warn("etcd probe failed", clog.Error(err))
		return xerrors.Combine(ErrConnection, xerrors.Wrapf(err, "etcd connector[%s]: probe", c.cfg.Name))
	}

	c.client = client
	c.healthy.Store(true)
	c.connectAttempts.Inc(ctx, metrics.L(metrics.LabelResult, metrics.OutcomeSuccess))
	c.active.Inc(ctx)
	c.logger.Info("connected to etcd", clog.Any("endpoints", c.cfg.Endpoints))
	return nil
}

// Close 关闭连接，幂等
func (c *etcdConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.healthy.Store(false)

	if c.client == nil {
		return nil
	}
	client := c.client
	c.client = nil
	c.active.Dec(context.Background())

	if err := client.Close(); err != nil {
		c.logger.Error("failed to close etcd connection", clog.Error(err))
		return err
	}
	c.logger.Debug("etcd connection closed")
	return nil
}

// HealthCheck 检查连接健康状态
func (c *etcdConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		c.healthy.Store(false)
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Get(checkCtx, healthCheckKey); err != nil {
		c.healthy.Store(false)
		c.logger.Warn("etcd health check failed", clog.Error(err))
		return xerrors.Combine(ErrHealthCheck, err)
	}

	c.healthy.Store(true)
	return nil
}

func (c *etcdConnector) IsHealthy() bool {
	return c.healthy.Load()
}

func (c *etcdConnector) Name() string {
	return c.cfg.Name
}

func (c *etcdConnector) GetClient() *clientv3.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}
