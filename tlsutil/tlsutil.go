// Package tlsutil builds the tls.Config values the client and server need.
// TLS here is a thin capability: the client verifies the server against a
// supplied CA (with an escape hatch for self-signed deployments), the
// server presents a certificate/key pair. No mutual TLS.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientConfig returns a config that dials a TLS server. cafile may be
// empty to use the system roots. selfSigned disables hostname and
// certificate verification entirely; only use it for self-signed
// deployments where the CA is not distributable.
func ClientConfig(cafile string, serverName string, selfSigned bool) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: serverName,
	}
	if cafile != "" {
		pem, err := os.ReadFile(cafile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %s: %w", cafile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA file %s", cafile)
		}
		cfg.RootCAs = pool
	}
	if selfSigned {
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}

// ServerConfig returns a config that serves the given PEM-encoded
// certificate/key pair.
func ServerConfig(certfile, keyfile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certfile, keyfile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
	}, nil
}
