package supervisor

import (
	"context"
	"time"

	"github.com/Ascend/MEF-sub001/agent/config"
	"github.com/Ascend/MEF-sub001/agent/connstatus"
	"github.com/Ascend/MEF-sub001/agent/dispatcher"
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
	mefPingInterval     = 10 * time.Second
	mefPingTimeout      = 5 * time.Second
	mefHandshakeTimeout = 10 * time.Second
)

type MefSource interface {
	Mef() (config.MefConfig, error)
	IsWebMode() bool
	FdModeReady() bool
}

type Companion interface {
	Installed() bool
	MefActive() bool
	DockerActive() bool
	StopMef() error
	RestartMef() error
	PortReachable(ctx context.Context, address string) bool
	ExchangeCert(src string, dst string) error
}

type MefDeps struct {
	Config     MefSource
	Companion  Companion
	Fd         interface{ Ready() bool }
	Target     *target.Target
	Dialer     Dialer
	Dispatcher *dispatcher.Dispatcher
	Router     dispatcher.Router
	Bucket     *tokenbucket.TokenBucket
	ToMef      *queue.Queue

	PushFdInfo func() error
}

// MefHooks connects to the companion process once the controller link is ready
type MefHooks struct {
	logger *logger.Logger
	deps   MefDeps

	current config.MefConfig
}

func NewMefHooks(logger *logger.Logger, deps MefDeps) *MefHooks {
	return &MefHooks{
		logger: logger.GetComponentLogger("MefHooks"),
		deps:   deps,
	}
}

func (h *MefHooks) Preconditions(ctx context.Context) (bool, error) {
	c := h.deps.Companion

	if !c.Installed() {
		return false, nil
	}

	// no reason to keep the companion running under local management
	if h.deps.Config.IsWebMode() && c.MefActive() && c.DockerActive() {
		h.logger.Infof("Stopping companion under local management")
		return false, c.StopMef()
	}

	if !h.deps.Fd.Ready() || !h.deps.Config.FdModeReady() {
		return false, nil
	}

	if h.deps.Target.Ready() {
		return false, nil
	}

	m, err := h.deps.Config.Mef()
	if err != nil {
		return false, err
	}

	if !c.PortReachable(ctx, m.Address()) {
		if err := c.RestartMef(); err != nil {
			return false, err
		}
	}

	if h.deps.Target.FailedReason() != connstatus.ReasonEmpty {
		if err := c.ExchangeCert(m.CASourcePath, m.RootCAPath); err != nil {
			h.deps.Target.SetFailedReason(connstatus.ReasonExchangeCertFailed)
			return false, err
		}
	}

	h.current = m
	return true, nil
}

func (h *MefHooks) Connect(ctx context.Context) (transporter.Transporter, error) {
	m := h.current

	tlsConfig, err := m.TLSConfig()
	if err != nil {
		h.deps.Target.SetFailedReason(connstatus.ReasonInvalidSSLContext)
		return nil, connection.NewError(connection.ConnectFailure, "build tls config", err)
	}

	transport, err := h.deps.Dialer.Dial(ctx, m.URL(), nil, websocket.Options{
		TLSConfig:        tlsConfig,
		PingInterval:     mefPingInterval,
		PingTimeout:      mefPingTimeout,
		HandshakeTimeout: mefHandshakeTimeout,
		ReadLimit:        router.MaxFrameSize,
	})
	if err != nil {
		if connection.IsCertError(err) {
			h.deps.Target.SetFailedReason(connstatus.ReasonCertVerifyFailed)
		}
		return nil, connection.NewError(connection.ConnectFailure, "dial companion", err)
	}

	return transport, nil
}

func (h *MefHooks) Run(ctx context.Context, s *session.Session) error {
	t := h.deps.Target
	t.SetFailedReason(connstatus.ReasonEmpty)
	t.SetConnected(true)

	if err := h.deps.PushFdInfo(); err != nil {
		h.logger.Errorf("Failed to push controller info to the companion: %s", err)
	}

	if err := s.Go("inbound", func(ctx context.Context) error {
		return h.deps.Dispatcher.RouteInbound(ctx, t, s.Transport(), h.deps.Bucket, h.deps.Router)
	}); err != nil {
		return err
	}
	return s.Go("outbound", func(ctx context.Context) error {
		return h.deps.Dispatcher.RouteOutbound(ctx, t, s, h.deps.ToMef)
	})
}
