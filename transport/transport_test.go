package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/naming/xerrors"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		addr    string
		want    Endpoint
		wantErr bool
	}{
		{addr: "127.0.0.1:8848", want: Endpoint{Host: "127.0.0.1", Port: 8848}},
		{addr: " nacos.local:9848 ", want: Endpoint{Host: "nacos.local", Port: 9848}},
		{addr: "[::1]:2379", want: Endpoint{Host: "::1", Port: 2379}},
		{addr: "127.0.0.1", wantErr: true},
		{addr: ":8848", wantErr: true},
		{addr: "host:0", wantErr: true},
		{addr: "host:65536", wantErr: true},
		{addr: "host:http", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := ParseEndpoint(tt.addr)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, xerrors.Is(err, ErrInvalidEndpoint))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "[::1]:2379", Endpoint{Host: "::1", Port: 2379}.String())
}

func TestCredentialsHeaders(t *testing.T) {
	assert.Nil(t, Credentials{}.Headers())
	assert.Equal(t, map[string]string{HeaderAccessToken: "tok"}, Credentials{Token: "tok"}.Headers())

	both := Credentials{Token: "tok", Username: "nacos", Password: "secret"}
	assert.Equal(t, map[string]string{
		HeaderUsername: "nacos",
		HeaderPassword: "secret",
	}, both.Headers(), "username and password take precedence over token")

	// 只有用户名时退回 token
	assert.Equal(t, map[string]string{HeaderAccessToken: "tok"}, Credentials{Token: "tok", Username: "nacos"}.Headers())
}

func TestBuildTLSConfig(t *testing.T) {
	cfg, err := BuildTLSConfig(TLSOptions{})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = BuildTLSConfig(TLSOptions{Enabled: true, ServerName: "registry"})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "registry", cfg.ServerName)

	_, err = BuildTLSConfig(TLSOptions{Enabled: true, CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))
	_, err = BuildTLSConfig(TLSOptions{Enabled: true, CAFile: garbage})
	assert.Error(t, err)

	_, err = BuildTLSConfig(TLSOptions{Enabled: true, CertFile: "client.pem"})
	assert.Error(t, err)
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "SUBSCRIBE", RequestSubscribe.String())
	assert.Equal(t, "HEARTBEAT", RequestHeartbeat.String())
	assert.Equal(t, "SERVICE_SNAPSHOT", MessageServiceSnapshot.String())
	assert.Equal(t, "GOAWAY", MessageGoAway.String())
	assert.Equal(t, "config", TargetConfig.String())
	assert.Equal(t, "MessageKind(42)", MessageKind(42).String())
}

func TestAckHelpers(t *testing.T) {
	ok := Ack("r1")
	assert.False(t, ok.Rejected())

	rej := Reject("r2", CodeAuthRejected, "no permission")
	assert.True(t, rej.Rejected())
	assert.Equal(t, "r2", rej.RequestID)
}

func TestMsgpackCodecRoundTrip(t *testing.T) {
	c := msgpackCodec{}
	in := &Message{
		Kind:      MessageServiceSnapshot,
		Namespace: "public",
		Group:     "DEFAULT_GROUP",
		Name:      "order",
		Instances: []Instance{{IP: "10.0.0.1", Port: 8080, Healthy: true, Metadata: map[string]string{"zone": "a"}}},
	}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(Message)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, in, out)
	assert.Equal(t, CodecName, c.Name())
}
