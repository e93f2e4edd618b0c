package transport

import (
	"context"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/xerrors"
)

// DefaultStreamMethod 默认的双向流方法名
const DefaultStreamMethod = "/naming.v1.Naming/Stream"

var streamDesc = &grpc.StreamDesc{
	StreamName:    "Stream",
	ClientStreams: true,
	ServerStreams: true,
}

// GRPCDialer 通过 gRPC 双向流连接注册中心
type GRPCDialer struct {
	// Method 流方法全名，默认 DefaultStreamMethod
	Method string

	// DialOptions 追加到内置选项之后，例如测试中的 bufconn dialer
	DialOptions []grpc.DialOption

	Logger clog.Logger
}

// NewGRPCDialer 创建 GRPCDialer
func NewGRPCDialer(logger clog.Logger, opts ...grpc.DialOption) *GRPCDialer {
	return &GRPCDialer{DialOptions: opts, Logger: logger}
}

func (d *GRPCDialer) logger() clog.Logger {
	if d.Logger == nil {
		return clog.Discard()
	}
	return d.Logger
}

func (d *GRPCDialer) dialOptions(opts Options) ([]grpc.DialOption, error) {
	var creds credentials.TransportCredentials
	tlsCfg, err := BuildTLSConfig(opts.TLS)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		creds = credentials.NewTLS(tlsCfg)
	} else {
		creds = insecure.NewCredentials()
	}

	callOpts := []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
	if opts.MaxInboundMessageSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(opts.MaxInboundMessageSize))
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	if opts.KeepAlive.Time > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                opts.KeepAlive.Time,
			Timeout:             opts.KeepAlive.Timeout,
			PermitWithoutStream: opts.KeepAlive.PermitWithoutStream,
		}))
	}
	return append(dialOpts, d.DialOptions...), nil
}

// Dial 建立连接并打开双向流
func (d *GRPCDialer) Dial(ctx context.Context, ep Endpoint, opts Options) (Session, error) {
	dialOpts, err := d.dialOptions(opts)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient("passthrough:///"+ep.String(), dialOpts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "grpc client %s", ep)
	}

	if err := waitForReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, xerrors.Wrapf(err, "dial %s", ep)
	}

	// 流的生命周期属于会话，不受 Dial 的 ctx 约束
	streamCtx, cancel := context.WithCancel(context.Background())
	for k, v := range opts.Credentials.Headers() {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, k, v)
	}

	method := d.Method
	if method == "" {
		method = DefaultStreamMethod
	}

	type result struct {
		stream grpc.ClientStream
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := conn.NewStream(streamCtx, streamDesc, method)
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			cancel()
			_ = conn.Close()
			return nil, xerrors.Wrapf(r.err, "open stream %s", ep)
		}
		d.logger().Debug("grpc session established", clog.String("endpoint", ep.String()))
		return &grpcSession{conn: conn, stream: r.stream, cancel: cancel}, nil
	case <-ctx.Done():
		cancel()
		_ = conn.Close()
		return nil, xerrors.Wrapf(ctx.Err(), "open stream %s", ep)
	}
}

// waitForReady 主动触发连接，直到 Ready、TransientFailure 或 ctx 结束
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return xerrors.Wrap(ErrEndpointUnavailable, state.String())
		}
		if !conn.WaitForStateChange(ctx, state) {
			return xerrors.Wrap(ctx.Err(), "wait for connection ready")
		}
	}
}

type grpcSession struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc

	sendMu    sync.Mutex
	closeOnce sync.Once
}

// Send 写入一个请求；ctx 到期时取消整条流，后续 Recv 随之失败
func (s *grpcSession) Send(ctx context.Context, req *Request) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	if err := s.stream.SendMsg(req); err != nil {
		return xerrors.Wrapf(err, "send %s", req.Kind)
	}
	return nil
}

func (s *grpcSession) Recv() (*Message, error) {
	msg := new(Message)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *grpcSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
	})
	return err
}
