package testkit

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	tcetcd "github.com/testcontainers/testcontainers-go/modules/etcd"

	"github.com/ceyewan/naming/connector"
)

// EtcdEndpointsEnv 指定已有 etcd 集群时跳过容器启动，多个地址以逗号分隔
const EtcdEndpointsEnv = "NAMING_TEST_ETCD_ENDPOINTS"

const etcdImage = "quay.io/coreos/etcd:v3.5.9"

// NewEtcdConfig 返回可用的 etcd 连接配置
//
// 优先使用 NAMING_TEST_ETCD_ENDPOINTS，否则通过 testcontainers 启动容器，
// 生命周期由 t.Cleanup 管理。两者都不可用时跳过测试。
func NewEtcdConfig(t *testing.T) *connector.EtcdConfig {
	t.Helper()

	if eps := os.Getenv(EtcdEndpointsEnv); eps != "" {
		return &connector.EtcdConfig{
			Name:        "test-etcd",
			Endpoints:   strings.Split(eps, ","),
			DialTimeout: 5 * time.Second,
		}
	}

	ctx := context.Background()
	container, err := tcetcd.Run(ctx, etcdImage)
	if err != nil {
		t.Skipf("etcd container not available, skipping: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Skipf("etcd container host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, "2379")
	if err != nil {
		t.Skipf("etcd container port: %v", err)
	}

	return &connector.EtcdConfig{
		Name:        "test-etcd",
		Endpoints:   []string{net.JoinHostPort(host, mappedPort.Port())},
		DialTimeout: 5 * time.Second,
	}
}

// NewEtcdConnector 返回已连接的 etcd 连接器，连接失败时跳过测试
func NewEtcdConnector(t *testing.T) connector.EtcdConnector {
	t.Helper()

	conn, err := connector.NewEtcd(NewEtcdConfig(t), connector.WithLogger(NewLogger()))
	if err != nil {
		t.Fatalf("failed to create etcd connector: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		t.Skipf("etcd not reachable, skipping: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
