// Package transport 定义客户端与注册中心之间的会话抽象，并提供两种实现：
//
//   - GRPCDialer：基于 gRPC 双向流，消息以 msgpack 编码
//   - EtcdDialer：直接以 etcd 作为注册中心，租约对应心跳，prefix watch 对应快照推送
//
// 会话只负责收发消息，不做重连、订阅状态维护，这些由上层 naming 包负责。
//
//	sess, err := dialer.Dial(ctx, transport.Endpoint{Host: "127.0.0.1", Port: 8848}, opts)
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	_ = sess.Send(ctx, &transport.Request{Kind: transport.RequestSubscribe, ...})
//	for {
//		msg, err := sess.Recv()
//		if err != nil {
//			return err
//		}
//		...
//	}
package transport

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/ceyewan/naming/xerrors"
)

// Endpoint 注册中心节点地址，创建后不可变
type Endpoint struct {
	Host string
	Port int
}

// String 返回 host:port，IPv6 地址带方括号
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint 解析 "host:port"
func ParseEndpoint(addr string) (Endpoint, error) {
	addr = strings.TrimSpace(addr)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, xerrors.Wrapf(ErrInvalidEndpoint, "%q: %v", addr, err)
	}
	if host == "" {
		return Endpoint{}, xerrors.Wrapf(ErrInvalidEndpoint, "%q: empty host", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, xerrors.Wrapf(ErrInvalidEndpoint, "%q: port must be in [1, 65535]", addr)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// Dialer 建立到单个节点的会话
type Dialer interface {
	// Dial 阻塞直到会话可用或 ctx 结束
	Dial(ctx context.Context, ep Endpoint, opts Options) (Session, error)
}

// Session 一条活跃的双向通道
//
// Send 和 Recv 可以在不同 goroutine 中并发调用，但 Send 本身不保证并发安全，
// 调用方应串行发送。
type Session interface {
	// Send 发送一个请求，ctx 控制单次请求的超时
	Send(ctx context.Context, req *Request) error

	// Recv 阻塞等待下一条入站消息，Close 之后立即返回错误
	Recv() (*Message, error)

	// Close 关闭会话并释放资源，幂等
	Close() error
}
