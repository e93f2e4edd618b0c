package naming

import (
	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/transport"
)

// StateObserver 观察连接状态的每一次变化
//
// 在状态锁内按顺序同步调用，不能阻塞，也不能回调 Client 的方法。
type StateObserver func(from, to ConnectionState)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	dialer   transport.Dialer
	observer StateObserver
}

// Option 配置客户端的选项
type Option func(*options)

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("naming")
		}
	}
}

// WithMeter 设置指标收集器
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithDialer 替换传输层实现，设置后忽略 Config.Dialect
func WithDialer(dialer transport.Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithStateObserver 设置连接状态观察者
func WithStateObserver(observer StateObserver) Option {
	return func(o *options) {
		o.observer = observer
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
