package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoaderLoad(t *testing.T) {
	tmpDir := t.TempDir()

	writeFile(t, filepath.Join(tmpDir, "config.yaml"), `
naming:
  namespace: "public"
  server_addrs: ["127.0.0.1:8848"]
  heartbeat_interval: 5s
log:
  level: info
`)
	writeFile(t, filepath.Join(tmpDir, "config.dev.yaml"), `
naming:
  namespace: "dev"
`)
	writeFile(t, filepath.Join(tmpDir, ".env"), "LOADERTEST_LOG_FORMAT=json\n")

	t.Setenv("LOADERTEST_ENV", "dev")
	t.Setenv("LOADERTEST_LOG_LEVEL", "debug")

	loader, err := New(&Config{
		Name:      "config",
		Paths:     []string{tmpDir},
		EnvPrefix: "loadertest",
	})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	// 环境特定配置覆盖基础配置
	assert.Equal(t, "dev", loader.Get("naming.namespace"))
	// 环境变量覆盖配置文件
	assert.Equal(t, "debug", loader.Get("log.level"))
	// .env 中的变量可见
	assert.Equal(t, "json", loader.Get("log.format"))

	var section struct {
		Namespace         string        `mapstructure:"namespace"`
		ServerAddrs       []string      `mapstructure:"server_addrs"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	}
	require.NoError(t, loader.UnmarshalKey("naming", &section))
	assert.Equal(t, "dev", section.Namespace)
	assert.Equal(t, []string{"127.0.0.1:8848"}, section.ServerAddrs)
	assert.Equal(t, 5*time.Second, section.HeartbeatInterval)
}

func TestLoaderDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.validate())
	assert.Equal(t, "config", cfg.Name)
	assert.Equal(t, []string{".", "./config"}, cfg.Paths)
	assert.Equal(t, "yaml", cfg.FileType)
	assert.Equal(t, "NAMING", cfg.EnvPrefix)
}

func TestLoaderValidate(t *testing.T) {
	loader, err := New(&Config{
		Name:      "missing",
		Paths:     []string{t.TempDir()},
		EnvPrefix: "EMPTYLOADERTEST",
	})
	require.NoError(t, err)

	err = loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))
}

func TestLoaderMalformedFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "broken.yaml"), "naming: [unclosed\n")

	loader, err := New(&Config{Name: "broken", Paths: []string{tmpDir}})
	require.NoError(t, err)
	assert.Error(t, loader.Load(context.Background()))
}

func TestLoaderWatch(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "watch-test.yaml")
	writeFile(t, configFile, "log:\n  level: info\n")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	loader, err := New(&Config{Name: "watch-test", Paths: []string{tmpDir}})
	require.NoError(t, err)
	require.NoError(t, loader.Load(ctx))

	ch, err := loader.Watch(ctx, "log.level")
	require.NoError(t, err)

	writeFile(t, configFile, "log:\n  level: debug\n")

	select {
	case event := <-ch:
		assert.Equal(t, "log.level", event.Key)
		assert.Equal(t, "debug", event.Value)
		assert.Equal(t, "info", event.OldValue)
		assert.Equal(t, "file", event.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for config change event")
	}
}

func TestLoaderWatchCancel(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "cancel-test.yaml"), "test: {value: 1}\n")

	loader, err := New(&Config{Name: "cancel-test", Paths: []string{tmpDir}})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	watchCtx, cancel := context.WithCancel(context.Background())
	ch, err := loader.Watch(watchCtx, "test.value")
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
