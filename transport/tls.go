package transport

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/ceyewan/naming/xerrors"
)

// BuildTLSConfig 根据证书路径构造 tls.Config
//
// 未启用时返回 nil。CertFile 与 KeyFile 同时给出时启用双向 TLS。
func BuildTLSConfig(o TLSOptions) (*tls.Config, error) {
	if !o.Enabled {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: o.ServerName,
	}

	if o.CAFile != "" {
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, xerrors.Wrapf(err, "read ca file %s", o.CAFile)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, xerrors.Errorf("no certificate found in ca file %s", o.CAFile)
		}
		cfg.RootCAs = pool
	}

	if o.CertFile != "" || o.KeyFile != "" {
		if o.CertFile == "" || o.KeyFile == "" {
			return nil, xerrors.New("tls cert file and key file must be set together")
		}
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, xerrors.Wrap(err, "load client key pair")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
