package config

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"regexp"
	"strconv"
)

type Mode string

const (
	Web            Mode = "Web"
	FusionDirector Mode = "FusionDirector"
)

const (
	DefaultServerPort  = 443
	DefaultServerName  = "fusiondirector.huawei.com"
	DefaultProductName = "Atlas 500"

	// account the device is shipped with; logging in with it does not count as connected
	InitialAccount = "EdgeAccount"

	devMgmtType = "AtlasEdge"
)

var nodeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{1,64}$`)

// NetConfig is a snapshot of the controller management settings
type NetConfig struct {
	Mode         Mode
	ServerName   string
	ServerIP     string
	ServerPort   int
	NodeID       string
	Account      string
	Password     string
	Status       string
	ProductName  string
	SerialNumber string
	AssetTag     string

	CAPath   string
	CertPath string
	KeyPath  string
}

func (n NetConfig) CloudManaged() bool {
	return n.Mode == FusionDirector
}

func (n NetConfig) InitialAccount() bool {
	return n.Account == InitialAccount
}

func (n NetConfig) hostPort() string {
	return net.JoinHostPort(n.ServerIP, strconv.Itoa(n.ServerPort))
}

func (n NetConfig) EventsURL() string {
	return fmt.Sprintf("wss://%s/websocket/%s/events", n.hostPort(), n.NodeID)
}

func (n NetConfig) TestURL() string {
	return fmt.Sprintf("https://%s/websocket/%s/AccountCheck", n.hostPort(), n.NodeID)
}

func (n NetConfig) Address() string {
	return n.hostPort()
}

// Headers returns the identification headers sent on both the connect test and the dial
func (n NetConfig) Headers() http.Header {
	credentials := base64.StdEncoding.EncodeToString([]byte(n.Account + ":" + n.Password))

	headers := http.Header{}
	headers.Set("Authorization", "Basic "+credentials)
	headers.Set("ProductName", n.ProductName)
	headers.Set("SerialNumber", n.SerialNumber)
	headers.Set("AssetTag", n.AssetTag)
	headers.Set("DevMgmtType", devMgmtType)
	return headers
}

func (n NetConfig) Validate() error {
	if !n.CloudManaged() {
		return nil
	}

	if net.ParseIP(n.ServerIP) == nil {
		return &InvalidFieldError{Field: "server_ip", Reason: fmt.Sprintf("%q is not an ip address", n.ServerIP)}
	}
	if n.ServerPort <= 0 || n.ServerPort > 65535 {
		return &InvalidFieldError{Field: "server_port", Reason: fmt.Sprintf("%d is out of range", n.ServerPort)}
	}
	if !nodeIDPattern.MatchString(n.NodeID) {
		return &InvalidFieldError{Field: "node_id", Reason: fmt.Sprintf("%q is not a valid node id", n.NodeID)}
	}
	if n.Account == "" || n.Password == "" {
		return &InvalidFieldError{Field: "account", Reason: "account and password are required"}
	}
	return nil
}

// TLSConfig builds the client configuration used to reach the controller
func (n NetConfig) TLSConfig() (*tls.Config, error) {
	return clientTLS(n.CAPath, n.CertPath, n.KeyPath, n.ServerName)
}

// FdInfo is the controller summary handed to the companion on every connect
type FdInfo struct {
	IP        string `json:"ip"`
	Domain    string `json:"domain"`
	Port      int    `json:"port"`
	CAContent string `json:"ca_content"`
}

func (n NetConfig) FdInfo() FdInfo {
	info := FdInfo{
		IP:     n.ServerIP,
		Domain: n.ServerName,
		Port:   n.ServerPort,
	}
	if n.CAPath != "" {
		if ca, err := os.ReadFile(n.CAPath); err == nil {
			info.CAContent = string(ca)
		}
	}
	return info
}
