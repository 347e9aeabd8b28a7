package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ascend/MEF-sub001/agent/config"
	"github.com/Ascend/MEF-sub001/agent/connstatus"
	"github.com/Ascend/MEF-sub001/agent/dispatcher"
	"github.com/Ascend/MEF-sub001/agent/reconnect"
	"github.com/Ascend/MEF-sub001/agent/reporter"
	"github.com/Ascend/MEF-sub001/agent/router"
	"github.com/Ascend/MEF-sub001/agent/session"
	"github.com/Ascend/MEF-sub001/agent/target"
	"github.com/Ascend/MEF-sub001/edgelib/connection"
	"github.com/Ascend/MEF-sub001/edgelib/connection/queue"
	"github.com/Ascend/MEF-sub001/edgelib/connection/tokenbucket"
	"github.com/Ascend/MEF-sub001/edgelib/connection/transporter"
	"github.com/Ascend/MEF-sub001/edgelib/connection/transporter/websocket"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

const (
	fdPingInterval     = 20 * time.Second
	fdPingTimeout      = 20 * time.Second
	fdHandshakeTimeout = 10 * time.Second
)

type NetSource interface {
	Net() (config.NetConfig, error)
	UpdateStatus(status string) error
	UpdateNodeID(nodeID string) error
	FdModeReady() bool
}

type ConnectTester interface {
	Test(ctx context.Context, n config.NetConfig) (reconnect.Outcome, error)
}

type HostsUpdater interface {
	Update(ip string, oldName string, newName string) error
}

type FdDeps struct {
	Config     NetSource
	Tester     ConnectTester
	Results    *reconnect.ResultCache
	Hosts      HostsUpdater
	Status     *connstatus.Tracker
	Target     *target.Target
	Dialer     Dialer
	Dispatcher *dispatcher.Dispatcher
	Router     dispatcher.Router
	Bucket     *tokenbucket.TokenBucket
	FromMef    *queue.Queue
	Providers  reporter.Providers

	// Halt stops every connection and marks the configuration bad. It is
	// called from the connect loop so it must not wait for that loop.
	Halt func()

	MefReady   func() bool
	PushFdInfo func(info config.FdInfo) error

	SendTimeout time.Duration
	// reporter sleeps are cut into slices of this length
	ReporterTick time.Duration
	Now          func() time.Time
}

// FdHooks connects to the management controller
type FdHooks struct {
	logger *logger.Logger
	deps   FdDeps

	// settings the current attempt was made with
	current config.NetConfig
}

func NewFdHooks(logger *logger.Logger, deps FdDeps) *FdHooks {
	if deps.SendTimeout <= 0 {
		deps.SendTimeout = session.DefaultSendTimeout
	}
	if deps.ReporterTick <= 0 {
		deps.ReporterTick = reporter.DefaultTick
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &FdHooks{
		logger: logger.GetComponentLogger("FdHooks"),
		deps:   deps,
	}
}

func (h *FdHooks) Preconditions(ctx context.Context) (bool, error) {
	n, err := h.deps.Config.Net()
	if err != nil {
		return false, err
	}

	if !n.CloudManaged() {
		h.logger.Debugf("Device is managed locally, not connecting")
		return false, nil
	}

	if err := n.Validate(); err != nil {
		return false, err
	}

	outcome, err := h.deps.Tester.Test(ctx, n)
	if err != nil {
		if h.deps.Results.Negative() {
			h.logger.Errorf("Connect test rejected the configuration (%s), halting", h.deps.Results.Get())
			h.deps.Halt()
		}
		return false, fmt.Errorf("connect test failed: %w", err)
	}
	if outcome.SameDevice {
		h.deps.Target.SetConnected(true)
	}

	// first time management
	if n.Status == "" {
		if err := h.deps.Config.UpdateStatus(connstatus.Connecting.String()); err != nil {
			return false, err
		}
	}

	h.current = n
	return true, nil
}

func (h *FdHooks) Connect(ctx context.Context) (transporter.Transporter, error) {
	n := h.current

	tlsConfig, err := n.TLSConfig()
	if err != nil {
		return nil, connection.NewError(connection.ConnectFailure, "build tls config", err)
	}

	transport, err := h.deps.Dialer.Dial(ctx, n.EventsURL(), n.Headers(), websocket.Options{
		TLSConfig:        tlsConfig,
		PingInterval:     fdPingInterval,
		PingTimeout:      fdPingTimeout,
		HandshakeTimeout: fdHandshakeTimeout,
		ReadLimit:        router.MaxFrameSize,
	})
	if err != nil {
		h.checkSpareNode(err, n.NodeID)
		h.deps.Status.TransToConnecting()
		return nil, connection.NewError(connection.ConnectFailure, "dial controller", err)
	}

	// the reconnect policy reads this record back
	if err := h.deps.Hosts.Update(n.ServerIP, h.deps.Target.ServerName(), n.ServerName); err != nil {
		transport.Close(err)
		return nil, connection.NewError(connection.ConnectFailure, "update hosts record", err)
	}

	return transport, nil
}

// checkSpareNode adopts the node id the controller assigns when this device
// replaced another one
func (h *FdHooks) checkSpareNode(err error, nodeID string) {
	var handshakeErr *websocket.HandshakeError
	if !errors.As(err, &handshakeErr) {
		return
	}

	spareNodeID, ok := reconnect.SpareNodeID(handshakeErr.Body)
	if !ok {
		return
	}

	h.logger.Infof("Current node is a spare part, controller assigned node id %s", spareNodeID)
	if err := h.deps.Config.UpdateNodeID(spareNodeID); err != nil {
		h.logger.Errorf("Failed to update spare node id: %s", err)
		return
	}
	h.logger.Infof("Updated spare device node id: %s -> %s", nodeID, spareNodeID)
}

func (h *FdHooks) Run(ctx context.Context, s *session.Session) error {
	n := h.current
	t := h.deps.Target

	t.SetObserved(n.ServerIP, n.ServerName)
	t.SetConnected(true)

	// logging in again after being connected means the controller has accepted us
	if n.Status == connstatus.Connected.String() {
		if err := h.deps.Config.UpdateStatus(connstatus.Ready.String()); err != nil {
			h.logger.Errorf("Failed to persist ready status: %s", err)
		}
	}

	if !n.InitialAccount() {
		h.deps.Status.TransToConnected()
	}

	if h.deps.MefReady() {
		if err := h.deps.PushFdInfo(n.FdInfo()); err != nil {
			h.logger.Errorf("Failed to push controller info to the companion: %s", err)
		}
	}

	// the peer may already have hung up; that ends the attempt like any other failure
	if err := s.Go("inbound", func(ctx context.Context) error {
		return h.deps.Dispatcher.RouteInbound(ctx, t, s.Transport(), h.deps.Bucket, h.deps.Router)
	}); err != nil {
		return err
	}

	for _, spec := range h.reporters() {
		r := reporter.New(h.logger, spec, t, h.deps.Status, h.deps.SendTimeout).WithTick(h.deps.ReporterTick)
		if err := s.Go(spec.Name, func(ctx context.Context) error {
			return r.Run(ctx, s)
		}); err != nil {
			return err
		}
	}

	return s.Go("outbound", func(ctx context.Context) error {
		return h.deps.Dispatcher.RouteOutbound(ctx, t, s, h.deps.FromMef)
	})
}

func (h *FdHooks) reporters() []reporter.Spec {
	ready := reporter.ReadyFunc(h.deps.Config.FdModeReady)
	return []reporter.Spec{
		reporter.Heartbeat(),
		reporter.SysInfo(h.deps.Providers, ready),
		reporter.SysStatus(h.deps.Providers, ready),
		reporter.Alarm(h.logger, h.deps.Providers),
		reporter.Event(h.logger, h.deps.Providers, h.deps.Now),
	}
}
