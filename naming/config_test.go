package naming

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/naming/config"
	"github.com/ceyewan/naming/xerrors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DialectGRPC, cfg.Dialect)
	assert.Equal(t, "public", cfg.Namespace)
	assert.Equal(t, "DEFAULT_GROUP", cfg.Group)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3*time.Second, cfg.ReconnectInterval)
	assert.Equal(t, -1, cfg.MaxReconnectAttempts)

	// 地址必须由调用方填写
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, ErrInvalidConfig))

	cfg.Addresses = "127.0.0.1:8848"
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidateCombinesViolations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addresses = "127.0.0.1:8848"
	cfg.Dialect = "zookeeper"
	cfg.HeartbeatInterval = 0
	cfg.Username = "nacos"
	cfg.TLS.CertFile = "client.pem"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, ErrInvalidConfig))

	msg := err.Error()
	assert.Contains(t, msg, "unknown dialect")
	assert.Contains(t, msg, "heartbeat_interval")
	assert.Contains(t, msg, "username and password")
	assert.Contains(t, msg, "cert_file and key_file")
}

func TestConfigValidateAddresses(t *testing.T) {
	tests := []struct {
		name    string
		addrs   string
		wantErr bool
	}{
		{"single", "127.0.0.1:8848", false},
		{"cluster", "10.0.0.1:8848, 10.0.0.2:8848", false},
		{"trailing comma", "10.0.0.1:8848,", false},
		{"empty", "", true},
		{"only commas", " , ,", true},
		{"missing port", "10.0.0.1", true},
		{"bad port", "10.0.0.1:99999", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Addresses = tt.addrs
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, xerrors.Is(err, ErrInvalidConfig), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigEndpointsKeepOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addresses = "10.0.0.2:8848,10.0.0.1:9848"
	eps, err := cfg.Endpoints()
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "10.0.0.2:8848", eps[0].String())
	assert.Equal(t, "10.0.0.1:9848", eps[1].String())
}

func TestConfigNormalize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addresses = " 127.0.0.1:8848 "
	cfg.Dialect = " ETCD "
	cfg.HeartbeatInterval = time.Second
	cfg.normalize()

	assert.Equal(t, "127.0.0.1:8848", cfg.Addresses)
	assert.Equal(t, DialectEtcd, cfg.Dialect)
	assert.Equal(t, 3*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, defaultMaxInboundMessageSize, cfg.MaxInboundMessageSize)
	assert.Equal(t, defaultSnapshotCapacity, cfg.SnapshotCapacity)

	opts := cfg.transportOptions()
	assert.Equal(t, 3*time.Second, opts.LeaseTTL)
	assert.Equal(t, cfg.RequestTimeout, opts.RequestTimeout)
}

func TestConfigResolve(t *testing.T) {
	cfg := DefaultConfig()

	key, err := cfg.resolve(ServiceKey("", " order "))
	require.NoError(t, err)
	assert.Equal(t, Key{Kind: KindService, Namespace: "public", Group: "DEFAULT_GROUP", Name: "order"}, key)

	key, err = cfg.resolve(Key{Kind: KindConfig, Namespace: "dev", Group: "APP", Name: "app.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "config:dev/APP/app.yaml", key.String())

	_, err = cfg.resolve(Key{Name: "order"})
	assert.True(t, xerrors.Is(err, ErrInvalidKey))

	_, err = cfg.resolve(ConfigKey("", " "))
	assert.True(t, xerrors.Is(err, ErrInvalidKey))
}

func TestConfigCloneIsolatesMetadata(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metadata = map[string]string{"zone": "a"}
	cp := cfg.clone()
	cp.Metadata["zone"] = "b"
	assert.Equal(t, "a", cfg.Metadata["zone"])
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(`
naming:
  addresses: "10.0.0.1:8848,10.0.0.2:8848"
  namespace: "dev"
  heartbeat_interval: 2s
  max_reconnect_attempts: 5
  replay_rate: 50
  metadata:
    zone: "a"
`), 0o644))

	loader, err := config.New(&config.Config{Name: "app", Paths: []string{dir}, EnvPrefix: "NAMINGLOADTEST"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	cfg, err := LoadConfig(loader, "naming")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8848,10.0.0.2:8848", cfg.Addresses)
	assert.Equal(t, "dev", cfg.Namespace)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 50.0, cfg.ReplayRate)
	assert.Equal(t, "a", cfg.Metadata["zone"])
	// 未出现的字段保持默认值
	assert.Equal(t, 3*time.Second, cfg.ReconnectInterval)
	assert.Equal(t, DialectGRPC, cfg.Dialect)
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(`
naming:
  namespace: "dev"
`), 0o644))

	loader, err := config.New(&config.Config{Name: "app", Paths: []string{dir}, EnvPrefix: "NAMINGBADTEST"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	_, err = LoadConfig(loader, "naming")
	assert.True(t, xerrors.Is(err, ErrInvalidConfig))

	_, err = LoadConfig(nil, "naming")
	assert.True(t, xerrors.Is(err, ErrInvalidConfig))
}
