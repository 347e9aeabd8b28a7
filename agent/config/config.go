/*
Package config gives typed access to the management settings kept in the
shared env config file. The file is also written by the provisioning tools, so
every read goes back to the file rather than trusting a cached copy.
*/
package config

import (
	"errors"
	"strconv"
	"sync"

	"github.com/Ascend/MEF-sub001/edgelib/envconfig"
)

// keys in the env config file
const (
	keyMode         = "net_mgmt_type"
	keyServerName   = "server_name"
	keyServerIP     = "server_ip"
	keyServerPort   = "server_port"
	keyNodeID       = "node_id"
	keyAccount      = "cloud_user"
	keyPassword     = "cloud_pwd"
	keyStatus       = "status"
	keyProductName  = "product_name"
	keySerialNumber = "serial_number"
	keyAssetTag     = "asset_tag"
	keyFdCA         = "fd_ca_path"
	keyFdCert       = "fd_cert_path"
	keyFdKey        = "fd_key_path"

	keyMefHost     = "mef_host"
	keyMefPort     = "mef_port"
	keyMefRootCA   = "mef_root_ca_path"
	keyMefCert     = "mef_cert_path"
	keyMefKey      = "mef_key_path"
	keyMefCASource = "mef_ca_source_path"
	keyMefService  = "mef_service"
	keyDocker      = "docker_service"
)

type Config struct {
	lock  sync.Mutex
	store envconfig.EnvConfig
}

func New(store envconfig.EnvConfig) *Config {
	return &Config{store: store}
}

func (c *Config) Path() string {
	return c.store.Path()
}

// Net reads the controller settings. Missing optional entries take their defaults.
func (c *Config) Net() (NetConfig, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	r := reader{store: c.store}
	n := NetConfig{
		Mode:         Mode(r.get(keyMode, string(Web))),
		ServerName:   r.get(keyServerName, DefaultServerName),
		ServerIP:     r.get(keyServerIP, ""),
		ServerPort:   r.getInt(keyServerPort, DefaultServerPort),
		NodeID:       r.get(keyNodeID, ""),
		Account:      r.get(keyAccount, ""),
		Password:     r.get(keyPassword, ""),
		Status:       r.get(keyStatus, ""),
		ProductName:  r.get(keyProductName, DefaultProductName),
		SerialNumber: r.get(keySerialNumber, ""),
		AssetTag:     r.get(keyAssetTag, ""),
		CAPath:       r.get(keyFdCA, ""),
		CertPath:     r.get(keyFdCert, ""),
		KeyPath:      r.get(keyFdKey, ""),
	}
	if r.err != nil {
		return NetConfig{}, configFetchError(r.err.Error())
	}
	return n, nil
}

func (c *Config) Mef() (MefConfig, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	r := reader{store: c.store}
	m := MefConfig{
		Host:          r.get(keyMefHost, DefaultMefHost),
		Port:          r.getInt(keyMefPort, DefaultMefPort),
		RootCAPath:    r.get(keyMefRootCA, ""),
		CertPath:      r.get(keyMefCert, ""),
		KeyPath:       r.get(keyMefKey, ""),
		CASourcePath:  r.get(keyMefCASource, ""),
		ServiceName:   r.get(keyMefService, DefaultMefService),
		DockerService: r.get(keyDocker, DefaultDocker),
	}
	if r.err != nil {
		return MefConfig{}, configFetchError(r.err.Error())
	}
	return m, nil
}

// UpdateStatus persists the management status shown to the configuring side
func (c *Config) UpdateStatus(status string) error {
	return c.set(keyStatus, status, "management connection status")
}

// UpdateNodeID replaces the node id after the controller reassigns a spare node
func (c *Config) UpdateNodeID(nodeID string) error {
	if !nodeIDPattern.MatchString(nodeID) {
		return &InvalidFieldError{Field: "node_id", Reason: "rejected replacement " + strconv.Quote(nodeID)}
	}
	return c.set(keyNodeID, nodeID, "")
}

// FdModeReady reports whether the device is cloud managed and the controller marked it ready
func (c *Config) FdModeReady() bool {
	n, err := c.Net()
	if err != nil {
		return false
	}
	return n.CloudManaged() && n.Status == "ready"
}

// IsWebMode treats an unreadable config as local management
func (c *Config) IsWebMode() bool {
	n, err := c.Net()
	if err != nil {
		return true
	}
	return n.Mode == Web
}

// ResetStaleStatus clears a connecting status left behind by an unclean shutdown
func (c *Config) ResetStaleStatus() (bool, error) {
	n, err := c.Net()
	if err != nil {
		return false, err
	}
	if n.Status != "connecting" {
		return false, nil
	}
	return true, c.UpdateStatus("")
}

func (c *Config) set(key string, value string, comment string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if _, err := c.store.Set(key, &envconfig.Entry{Value: value, Comment: comment}); err != nil {
		return configSaveError(err.Error())
	}
	return nil
}

// reader collects the first hard error so a whole snapshot can be read before checking
type reader struct {
	store envconfig.EnvConfig
	err   error
}

func (r *reader) get(key string, fallback string) string {
	if r.err != nil {
		return fallback
	}

	value, err := r.store.Get(key)
	var keyErr *envconfig.KeyError
	if errors.As(err, &keyErr) {
		return fallback
	} else if err != nil {
		r.err = err
		return fallback
	} else if value == "" {
		return fallback
	}
	return value
}

func (r *reader) getInt(key string, fallback int) int {
	value := r.get(key, "")
	if value == "" {
		return fallback
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		if r.err == nil {
			r.err = &InvalidFieldError{Field: key, Reason: strconv.Quote(value) + " is not a number"}
		}
		return fallback
	}
	return i
}
