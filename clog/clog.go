// Package clog 提供基于 log/slog 的结构化日志组件。
//
// 特性：
//   - 抽象接口，不暴露底层实现（slog）
//   - 层级命名空间，组件通过 WithNamespace 追加自己的名字
//   - 运行时可调整级别（slog.LevelVar）
//   - 函数式选项
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{
//	    Level:  "info",
//	    Format: "console",
//	    Output: "stdout",
//	})
//	logger.Info("subscribed", clog.String("service", "order-service"))
//
// 组件内部约定：
//
//	client, _ := naming.New(cfg, naming.WithLogger(logger))
//	// 组件日志会带上 namespace=naming
package clog

import "fmt"

// New 创建一个新的 Logger 实例
//
// config 为 nil 时使用开发环境默认配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig()
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return newLogger(config, applyOptions(opts...))
}
