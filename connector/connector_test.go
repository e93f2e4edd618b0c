package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/xerrors"
)

func TestEtcdConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *EtcdConfig
		wantErr bool
	}{
		{name: "valid config with defaults", cfg: &EtcdConfig{Endpoints: []string{"localhost:2379"}}},
		{
			name: "valid config with auth",
			cfg:  &EtcdConfig{Endpoints: []string{"localhost:2379"}, Username: "root", Password: "secret"},
		},
		{name: "empty endpoints", cfg: &EtcdConfig{}, wantErr: true},
		{name: "blank endpoint", cfg: &EtcdConfig{Endpoints: []string{""}}, wantErr: true},
		{
			name:    "username without password",
			cfg:     &EtcdConfig{Endpoints: []string{"localhost:2379"}, Username: "root"},
			wantErr: true,
		},
		{
			name:    "negative recv size",
			cfg:     &EtcdConfig{Endpoints: []string{"localhost:2379"}, MaxCallRecvMsgSize: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, xerrors.Is(err, ErrConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "default", tt.cfg.Name)
			assert.Positive(t, tt.cfg.DialTimeout)
			assert.Positive(t, tt.cfg.KeepAliveTime)
			assert.Positive(t, tt.cfg.KeepAliveTimeout)
		})
	}
}

func TestNewEtcdNilConfig(t *testing.T) {
	_, err := NewEtcd(nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestEtcdConnectorLifecycleWithoutServer(t *testing.T) {
	conn, err := NewEtcd(&EtcdConfig{
		Name:      "lazy",
		Endpoints: []string{"127.0.0.1:1"},
	}, WithLogger(clog.Discard()), WithMeter(metrics.Discard()))
	require.NoError(t, err)

	assert.Equal(t, "lazy", conn.Name())
	assert.Nil(t, conn.GetClient())
	assert.False(t, conn.IsHealthy())
	assert.ErrorIs(t, conn.HealthCheck(context.Background()), ErrNotConnected)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Connect(context.Background()), ErrAlreadyClosed)
}
