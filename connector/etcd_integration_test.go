package connector_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/naming/connector"
	"github.com/ceyewan/naming/testkit"
)

func TestEtcdConnectorIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg := testkit.NewEtcdConfig(t)
	conn, err := connector.NewEtcd(cfg, connector.WithLogger(testkit.NewLogger()), connector.WithMeter(testkit.NewMeter()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := testkit.NewContext(t, 10*time.Second)
	defer cancel()

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Connect(ctx), "Connect should be idempotent")
	assert.True(t, conn.IsHealthy())

	key := "/naming-test/" + testkit.NewID()
	_, err = conn.GetClient().Put(ctx, key, "v")
	require.NoError(t, err)
	resp, err := conn.GetClient().Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1)
	assert.Equal(t, "v", string(resp.Kvs[0].Value))

	require.NoError(t, conn.HealthCheck(ctx))
	require.NoError(t, conn.Close())
	assert.False(t, conn.IsHealthy())
	assert.Nil(t, conn.GetClient())

}
