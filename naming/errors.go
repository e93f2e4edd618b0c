package naming

import (
	"github.com/ceyewan/naming/xerrors"
)

// 哨兵错误，调用方通过 xerrors.Is 判断
var (
	ErrInvalidConfig      = xerrors.New("naming: invalid config")
	ErrClientClosed       = xerrors.New("naming: client closed")
	ErrAlreadyStarted     = xerrors.New("naming: client already started")
	ErrInvalidKey         = xerrors.New("naming: invalid key")
	ErrInvalidInstance    = xerrors.New("naming: invalid instance")
	ErrNilListener        = xerrors.New("naming: listener is nil")
	ErrReconnectExhausted = xerrors.New("naming: reconnect attempts exhausted")
	ErrHeartbeatTimeout   = xerrors.New("naming: heartbeat timeout")
	ErrServerClosed       = xerrors.New("naming: server closed the session")
	ErrRequestRejected    = xerrors.New("naming: request rejected")
)

// RejectionCode 返回服务端拒绝请求的错误码，例如 AUTH_REJECTED；不是拒绝错误时返回空串
func RejectionCode(err error) string {
	if !xerrors.Is(err, ErrRequestRejected) {
		return ""
	}
	return xerrors.GetCode(err)
}

// rejection 构造带错误码的拒绝错误
func rejection(code, reason string) error {
	err := ErrRequestRejected
	if reason != "" {
		err = xerrors.Wrap(ErrRequestRejected, reason)
	}
	return xerrors.WithCode(err, code)
}
