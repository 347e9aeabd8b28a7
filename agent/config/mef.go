package config

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
)

const (
	DefaultMefHost    = "127.0.0.1"
	DefaultMefPort    = 10020
	DefaultMefService = "mef-edge-main"
	DefaultDocker     = "docker"
)

// MefConfig locates the companion process and the material used to trust it
type MefConfig struct {
	Host string
	Port int

	// root certificate written by the certificate exchange and trusted on dial
	RootCAPath string
	CertPath   string
	KeyPath    string
	// file the companion publishes its root certificate to
	CASourcePath string

	ServiceName   string
	DockerService string
}

func (m MefConfig) Address() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

func (m MefConfig) URL() string {
	return fmt.Sprintf("wss://%s/", m.Address())
}

func (m MefConfig) TLSConfig() (*tls.Config, error) {
	return clientTLS(m.RootCAPath, m.CertPath, m.KeyPath, m.Host)
}
