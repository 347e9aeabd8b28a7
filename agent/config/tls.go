package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// clientTLS trusts only the given CA bundle. A client certificate is
// presented when both certPath and keyPath are set.
func clientTLS(caPath, certPath, keyPath, serverName string) (*tls.Config, error) {
	if caPath == "" {
		return nil, fmt.Errorf("no ca bundle configured")
	}

	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ca bundle %s: %w", caPath, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}

	tlsConfig := &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
