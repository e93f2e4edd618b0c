package naming

import (
	"maps"
	"strings"
	"time"

	"github.com/ceyewan/naming/transport"
	"github.com/ceyewan/naming/xerrors"
)

// 传输方言
const (
	DialectGRPC = "grpc"
	DialectEtcd = "etcd"
)

const (
	defaultMaxInboundMessageSize = 4 << 20
	defaultSnapshotCapacity      = 10000
	heartbeatTimeoutFactor       = 3
)

// TLSConfig TLS 证书配置，交给传输层使用
type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	CAFile     string `mapstructure:"ca_file" yaml:"ca_file" json:"ca_file"`
	CertFile   string `mapstructure:"cert_file" yaml:"cert_file" json:"cert_file"`
	KeyFile    string `mapstructure:"key_file" yaml:"key_file" json:"key_file"`
	ServerName string `mapstructure:"server_name" yaml:"server_name" json:"server_name"`
}

// Config 客户端配置
//
// New 会校验并保存一份私有副本，之后不再修改。典型配置（YAML）：
//
//	naming:
//	  addresses: "10.0.0.1:8848,10.0.0.2:8848"
//	  namespace: "public"
//	  group: "DEFAULT_GROUP"
//	  heartbeat_interval: 5s
//	  reconnect_interval: 3s
//	  max_reconnect_attempts: -1
type Config struct {
	// Addresses 单个 "host:port" 或逗号分隔的集群地址
	Addresses string `mapstructure:"addresses" yaml:"addresses" json:"addresses"`

	// Dialect 传输方言：grpc（默认）或 etcd；通过 WithDialer 注入时忽略
	Dialect    string `mapstructure:"dialect" yaml:"dialect" json:"dialect"`
	EtcdPrefix string `mapstructure:"etcd_prefix" yaml:"etcd_prefix" json:"etcd_prefix"`

	TLS TLSConfig `mapstructure:"tls" yaml:"tls" json:"tls"`

	// Token 与 Username/Password 同时配置时后者优先
	Token    string `mapstructure:"token" yaml:"token" json:"-"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`

	Namespace string `mapstructure:"namespace" yaml:"namespace" json:"namespace"`
	Group     string `mapstructure:"group" yaml:"group" json:"group"`

	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval" json:"heartbeat_interval"`
	// HeartbeatTimeout 连续无入站消息的时长上限，0 表示 3 倍心跳间隔
	HeartbeatTimeout     time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout" json:"heartbeat_timeout"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval" yaml:"reconnect_interval" json:"reconnect_interval"`
	// MaxReconnectAttempts 连续重连失败的上限，负数表示不限制，0 表示断开后不再重连
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`

	KeepAliveTime         time.Duration `mapstructure:"keep_alive_time" yaml:"keep_alive_time" json:"keep_alive_time"`
	KeepAliveTimeout      time.Duration `mapstructure:"keep_alive_timeout" yaml:"keep_alive_timeout" json:"keep_alive_timeout"`
	KeepAliveWithoutCalls bool          `mapstructure:"keep_alive_without_calls" yaml:"keep_alive_without_calls" json:"keep_alive_without_calls"`

	// MaxInboundMessageSize 单条入站消息上限（字节），0 表示 4MiB
	MaxInboundMessageSize int `mapstructure:"max_inbound_message_size" yaml:"max_inbound_message_size" json:"max_inbound_message_size"`

	// Metadata 附加到注册请求上的键值对
	Metadata map[string]string `mapstructure:"metadata" yaml:"metadata" json:"metadata"`

	// ReplayRate 重连后重放请求的速率（次/秒），0 表示不限速
	ReplayRate float64 `mapstructure:"replay_rate" yaml:"replay_rate" json:"replay_rate"`

	// SnapshotCapacity 本地快照缓存的容量，0 表示 10000
	SnapshotCapacity int `mapstructure:"snapshot_capacity" yaml:"snapshot_capacity" json:"snapshot_capacity"`
}

// DefaultConfig 返回默认配置，Addresses 需要调用方填写
func DefaultConfig() *Config {
	return &Config{
		Dialect:              DialectGRPC,
		Namespace:            "public",
		Group:                "DEFAULT_GROUP",
		HeartbeatInterval:    5 * time.Second,
		ReconnectInterval:    3 * time.Second,
		MaxReconnectAttempts: -1,
		RequestTimeout:       3 * time.Second,
		KeepAliveTime:        30 * time.Second,
		KeepAliveTimeout:     10 * time.Second,
	}
}

// Endpoints 解析 Addresses，顺序与配置一致
func (c *Config) Endpoints() ([]transport.Endpoint, error) {
	var (
		eps  []transport.Endpoint
		errs []error
	)
	for _, addr := range strings.Split(c.Addresses, ",") {
		if strings.TrimSpace(addr) == "" {
			continue
		}
		ep, err := transport.ParseEndpoint(addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		eps = append(eps, ep)
	}
	if err := xerrors.Combine(errs...); err != nil {
		return nil, err
	}
	return eps, nil
}

// clone 深拷贝
func (c *Config) clone() *Config {
	cp := *c
	cp.Metadata = maps.Clone(c.Metadata)
	return &cp
}

// normalize 填充派生默认值
func (c *Config) normalize() {
	c.Addresses = strings.TrimSpace(c.Addresses)
	c.Dialect = strings.ToLower(strings.TrimSpace(c.Dialect))
	if c.Dialect == "" {
		c.Dialect = DialectGRPC
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = heartbeatTimeoutFactor * c.HeartbeatInterval
	}
	if c.MaxInboundMessageSize == 0 {
		c.MaxInboundMessageSize = defaultMaxInboundMessageSize
	}
	if c.SnapshotCapacity == 0 {
		c.SnapshotCapacity = defaultSnapshotCapacity
	}
}

// Validate 校验配置，所有违规项合并为一个错误返回，均可用 xerrors.Is(err, ErrInvalidConfig) 判断
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, xerrors.Wrapf(ErrInvalidConfig, format, args...))
	}

	if strings.TrimSpace(c.Addresses) == "" {
		invalid("addresses is empty")
	} else if eps, err := c.Endpoints(); err != nil {
		errs = append(errs, xerrors.Wrapf(ErrInvalidConfig, "addresses: %v", err))
	} else if len(eps) == 0 {
		invalid("addresses is empty")
	}

	switch strings.ToLower(strings.TrimSpace(c.Dialect)) {
	case "", DialectGRPC, DialectEtcd:
	default:
		invalid("unknown dialect %q", c.Dialect)
	}

	if strings.TrimSpace(c.Namespace) == "" {
		invalid("namespace is empty")
	}
	if strings.TrimSpace(c.Group) == "" {
		invalid("group is empty")
	}
	if (c.Username == "") != (c.Password == "") {
		invalid("username and password must be set together")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		invalid("tls cert_file and key_file must be set together")
	}

	if c.HeartbeatInterval <= 0 {
		invalid("heartbeat_interval must be positive")
	}
	if c.HeartbeatTimeout < 0 {
		invalid("heartbeat_timeout must not be negative")
	}
	if c.ReconnectInterval <= 0 {
		invalid("reconnect_interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		invalid("request_timeout must be positive")
	}
	if c.KeepAliveTime < 0 || c.KeepAliveTimeout < 0 {
		invalid("keep-alive durations must not be negative")
	}
	if c.MaxInboundMessageSize < 0 {
		invalid("max_inbound_message_size must not be negative")
	}
	if c.ReplayRate < 0 {
		invalid("replay_rate must not be negative")
	}
	if c.SnapshotCapacity < 0 {
		invalid("snapshot_capacity must not be negative")
	}

	return xerrors.Combine(errs...)
}

// transportOptions 转换为传输层参数
func (c *Config) transportOptions() transport.Options {
	return transport.Options{
		TLS: transport.TLSOptions{
			Enabled:    c.TLS.Enabled,
			CAFile:     c.TLS.CAFile,
			CertFile:   c.TLS.CertFile,
			KeyFile:    c.TLS.KeyFile,
			ServerName: c.TLS.ServerName,
		},
		Credentials: transport.Credentials{
			Token:    c.Token,
			Username: c.Username,
			Password: c.Password,
		},
		KeepAlive: transport.KeepAlive{
			Time:                c.KeepAliveTime,
			Timeout:             c.KeepAliveTimeout,
			PermitWithoutStream: c.KeepAliveWithoutCalls,
		},
		MaxInboundMessageSize: c.MaxInboundMessageSize,
		RequestTimeout:        c.RequestTimeout,
		LeaseTTL:              c.HeartbeatTimeout,
	}
}

// resolve 补全键中缺省的命名空间与分组
func (c *Config) resolve(key Key) (Key, error) {
	if key.Kind != KindService && key.Kind != KindConfig {
		return Key{}, xerrors.Wrapf(ErrInvalidKey, "unknown kind %d", int(key.Kind))
	}
	key.Name = strings.TrimSpace(key.Name)
	if key.Name == "" {
		return Key{}, xerrors.Wrap(ErrInvalidKey, "name is empty")
	}
	if key.Namespace == "" {
		key.Namespace = c.Namespace
	}
	if key.Group == "" {
		key.Group = c.Group
	}
	return key, nil
}
