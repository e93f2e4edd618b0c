package transport

import "time"

// 凭证元数据的 key，gRPC metadata 要求小写
const (
	HeaderUsername    = "username"
	HeaderPassword    = "password"
	HeaderAccessToken = "access-token"
)

// Options 建立会话所需的参数，由上层配置原样传入
type Options struct {
	TLS         TLSOptions
	Credentials Credentials
	KeepAlive   KeepAlive

	// MaxInboundMessageSize 单条入站消息上限（字节），0 使用实现默认值
	MaxInboundMessageSize int

	// RequestTimeout 建连探测等内部请求的超时
	RequestTimeout time.Duration

	// LeaseTTL 服务端判定客户端失联的时间，etcd 实现用作租约 TTL
	LeaseTTL time.Duration
}

// TLSOptions TLS 证书路径
type TLSOptions struct {
	Enabled    bool
	CAFile     string
	CertFile   string
	KeyFile    string
	ServerName string
}

// KeepAlive 传输层保活参数，不由本包实现，直接交给底层连接
type KeepAlive struct {
	Time                time.Duration
	Timeout             time.Duration
	PermitWithoutStream bool
}

// Credentials 访问凭证
type Credentials struct {
	Token    string
	Username string
	Password string
}

// HasUserPassword 是否配置了用户名密码
func (c Credentials) HasUserPassword() bool {
	return c.Username != "" && c.Password != ""
}

// Headers 返回随每个请求携带的元数据
//
// 用户名密码与 token 同时配置时只使用用户名密码。
func (c Credentials) Headers() map[string]string {
	switch {
	case c.HasUserPassword():
		return map[string]string{
			HeaderUsername: c.Username,
			HeaderPassword: c.Password,
		}
	case c.Token != "":
		return map[string]string{HeaderAccessToken: c.Token}
	default:
		return nil
	}
}
