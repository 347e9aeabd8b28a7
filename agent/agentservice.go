package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/kardianos/service"
)

const (
	agentServiceName   = "edge-agent"
	serviceDisplayName = "Edge Management Agent"
)

var errServiceStopped = errors.New("stopped by the service manager")

// AgentService runs the agent under the platform's service manager when there
// is one and in the foreground otherwise
type AgentService struct {
	agent            *Agent
	kardianosService service.Service
	serviceLogger    service.Logger

	cancel context.CancelFunc
}

func serviceConfig() *service.Config {
	options := make(service.KeyValue)
	options["Restart"] = "always"
	options["OnFailure"] = "restart"

	return &service.Config{
		Name:        agentServiceName,
		DisplayName: serviceDisplayName,
		Description: "Keeps the device's management channels to the controller and the companion process open.",
		Arguments:   []string{"--config", configPath},
		Option:      options,
	}
}

func NewAgentService(agent *Agent) (*AgentService, error) {
	as := &AgentService{agent: agent}

	agent.logger.Debugf("System service is %s", service.Platform())

	var err error
	if as.kardianosService, err = service.New(as, serviceConfig()); err != nil {
		return nil, fmt.Errorf("failed to create agent service: %w", err)
	}

	errs := make(chan error, 5)
	if as.serviceLogger, err = as.kardianosService.Logger(errs); err != nil {
		return nil, fmt.Errorf("failed to start agent service logger: %w", err)
	}

	go func() {
		for err := range errs {
			if err != nil {
				agent.logger.Errorf("service runtime error: %s", err)
			}
		}
	}()

	return as, nil
}

// controlService passes one of install, uninstall, start, stop or restart on
// to the service manager
func controlService(agent *Agent, action string) error {
	s, err := service.New(&AgentService{agent: agent}, serviceConfig())
	if err != nil {
		return fmt.Errorf("failed to create agent service: %w", err)
	}
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, agentServiceName, err)
	}
	agent.logger.Infof("Service %s: %s done", agentServiceName, action)
	return nil
}

// Start must not block
func (as *AgentService) Start(s service.Service) error {
	if service.Interactive() {
		as.agent.logger.Debug("Running in terminal.")
	} else {
		as.agent.logger.Debug("Running under service manager.")
	}

	ctx, cancel := shutdownContext()
	as.cancel = cancel

	go func() {
		defer cancel()
		if err := as.agent.Run(ctx); err != nil {
			as.agent.logger.Errorf("Agent stopped: %s", err)
		}
	}()

	as.agent.logger.Info("Agent Service Started")
	return nil
}

func (as *AgentService) Stop(s service.Service) error {
	as.agent.logger.Info("Agent Service is Stopping")
	as.agent.Close(errServiceStopped)
	<-as.agent.Done()
	if as.cancel != nil {
		as.cancel()
	}
	return nil
}

// Run blocks until the service manager stops the agent or the agent exits on
// its own. The latter is an error so the manager restarts it.
func (as *AgentService) Run() error {
	errChan := make(chan error, 2)

	go func() {
		<-as.agent.Done()
		if errors.Is(as.agent.Err(), errServiceStopped) {
			return
		}
		errChan <- as.agent.Err()
	}()

	go func() {
		errChan <- as.kardianosService.Run()
	}()

	return <-errChan
}
