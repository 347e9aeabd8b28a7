/*
Package companion controls the MEF companion process from the outside: its
service state, whether its port accepts connections and the root certificate
the agent trusts when dialing it.
*/
package companion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Ascend/MEF-sub001/agent/config"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
	"github.com/kardianos/service"
)

const ProbeTimeout = 5 * time.Second

// ServiceControl is the subset of service.Service used to drive another unit
type ServiceControl interface {
	Status() (service.Status, error)
	Start() error
	Stop() error
	Restart() error
}

// unit satisfies service.Interface for services we control but never run
type unit struct{}

func (unit) Start(service.Service) error { return nil }
func (unit) Stop(service.Service) error  { return nil }

func systemService(name string) (ServiceControl, error) {
	return service.New(unit{}, &service.Config{Name: name})
}

type Controller struct {
	logger *logger.Logger
	mef    ServiceControl
	docker ServiceControl
}

func New(logger *logger.Logger, cfg config.MefConfig) (*Controller, error) {
	mef, err := systemService(cfg.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to bind service %s: %w", cfg.ServiceName, err)
	}

	docker, err := systemService(cfg.DockerService)
	if err != nil {
		return nil, fmt.Errorf("failed to bind service %s: %w", cfg.DockerService, err)
	}

	return NewWithServices(logger, mef, docker), nil
}

func NewWithServices(logger *logger.Logger, mef ServiceControl, docker ServiceControl) *Controller {
	return &Controller{
		logger: logger.GetComponentLogger("Companion"),
		mef:    mef,
		docker: docker,
	}
}

// Installed reports whether the companion's service unit exists
func (c *Controller) Installed() bool {
	_, err := c.mef.Status()
	return !errors.Is(err, service.ErrNotInstalled)
}

// Managed reports whether frames may be relayed to the companion
func (c *Controller) Managed() bool {
	return c.Installed()
}

func (c *Controller) MefActive() bool {
	return active(c.mef)
}

func (c *Controller) DockerActive() bool {
	return active(c.docker)
}

func (c *Controller) StopMef() error {
	if !c.Installed() {
		return nil
	}

	if err := c.mef.Stop(); err != nil {
		return fmt.Errorf("failed to stop companion: %w", err)
	}
	c.logger.Info("Stopped companion")
	return nil
}

func (c *Controller) RestartMef() error {
	if err := c.mef.Restart(); err != nil {
		return fmt.Errorf("failed to restart companion: %w", err)
	}
	c.logger.Info("Restarted companion")
	return nil
}

// PortReachable reports whether address accepts a tcp connection within ProbeTimeout
func (c *Controller) PortReachable(ctx context.Context, address string) bool {
	dialer := net.Dialer{Timeout: ProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		c.logger.Infof("Companion port %s not available: %s", address, err)
		return false
	}
	conn.Close()
	return true
}

func active(s ServiceControl) bool {
	status, err := s.Status()
	return err == nil && status == service.StatusRunning
}
