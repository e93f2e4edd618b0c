package connector

import (
	"crypto/tls"
	"time"

	"github.com/ceyewan/naming/xerrors"
)

// EtcdConfig Etcd 连接配置
type EtcdConfig struct {
	Name string `mapstructure:"name"` // 连接器名称 (默认: "default")

	Endpoints []string `mapstructure:"endpoints"` // [必填] 连接地址列表
	Username  string   `mapstructure:"username"`  // [可选] 认证用户
	Password  string   `mapstructure:"password"`  // [可选] 认证密码

	DialTimeout         time.Duration `mapstructure:"dial_timeout"`          // 连接超时 (默认: 5s)
	KeepAliveTime       time.Duration `mapstructure:"keep_alive_time"`       // 心跳间隔 (默认: 10s)
	KeepAliveTimeout    time.Duration `mapstructure:"keep_alive_timeout"`    // 心跳超时 (默认: 3s)
	PermitWithoutStream bool          `mapstructure:"permit_without_stream"` // 无活跃流时是否发送 keepalive
	MaxCallRecvMsgSize  int           `mapstructure:"max_call_recv_msg_size"`

	// TLS 为 nil 时使用明文连接
	TLS *tls.Config `mapstructure:"-"`
}

// setDefaults 设置默认值
func (c *EtcdConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.KeepAliveTime <= 0 {
		c.KeepAliveTime = 10 * time.Second
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = 3 * time.Second
	}
}

// validate 设置默认值并校验
func (c *EtcdConfig) validate() error {
	c.setDefaults()
	if len(c.Endpoints) == 0 {
		return xerrors.Wrap(ErrConfig, "etcd endpoints is empty")
	}
	for _, ep := range c.Endpoints {
		if ep == "" {
			return xerrors.Wrap(ErrConfig, "etcd endpoint is blank")
		}
	}
	if (c.Username == "") != (c.Password == "") {
		return xerrors.Wrap(ErrConfig, "etcd username and password must be set together")
	}
	if c.MaxCallRecvMsgSize < 0 {
		return xerrors.Wrap(ErrConfig, "etcd max_call_recv_msg_size must not be negative")
	}
	return nil
}
