package naming

import (
	"github.com/ceyewan/naming/config"
	"github.com/ceyewan/naming/xerrors"
)

// LoadConfig 从已加载的 config.Loader 中读取 key 下的客户端配置
//
// 未出现的字段保持 DefaultConfig 的取值，结果经过校验。
//
//	loader, _ := config.New(&config.Config{Name: "app", Paths: []string{"./config"}})
//	_ = loader.Load(ctx)
//	cfg, err := naming.LoadConfig(loader, "naming")
func LoadConfig(loader config.Loader, key string) (*Config, error) {
	if loader == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "loader is nil")
	}
	cfg := DefaultConfig()
	if err := loader.UnmarshalKey(key, cfg); err != nil {
		return nil, xerrors.Wrapf(err, "unmarshal %q", key)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
