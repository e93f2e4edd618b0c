package transport

import "github.com/ceyewan/naming/xerrors"

// 传输层哨兵错误
var (
	ErrSessionClosed       = xerrors.New("transport: session closed")
	ErrWatchClosed         = xerrors.New("transport: watch channel closed")
	ErrUnsupportedRequest  = xerrors.New("transport: unsupported request")
	ErrInvalidEndpoint     = xerrors.New("transport: invalid endpoint")
	ErrEndpointUnavailable = xerrors.New("transport: endpoint unavailable")
)

// 服务端拒绝请求时 Ack 携带的错误码
const (
	CodeAuthRejected   = "AUTH_REJECTED"
	CodeRequestTimeout = "REQUEST_TIMEOUT"
	CodeSizeExceeded   = "SIZE_EXCEEDED"
	CodeInvalidRequest = "INVALID_REQUEST"
)
