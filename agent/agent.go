package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/tomb.v2"

	"github.com/Ascend/MEF-sub001/agent/companion"
	"github.com/Ascend/MEF-sub001/agent/config"
	"github.com/Ascend/MEF-sub001/agent/connstatus"
	"github.com/Ascend/MEF-sub001/agent/dispatcher"
	"github.com/Ascend/MEF-sub001/agent/metrics"
	"github.com/Ascend/MEF-sub001/agent/monitor"
	"github.com/Ascend/MEF-sub001/agent/reconnect"
	"github.com/Ascend/MEF-sub001/agent/reporter"
	"github.com/Ascend/MEF-sub001/agent/router"
	"github.com/Ascend/MEF-sub001/agent/supervisor"
	"github.com/Ascend/MEF-sub001/agent/target"
	"github.com/Ascend/MEF-sub001/edgelib/connection"
	"github.com/Ascend/MEF-sub001/edgelib/connection/queue"
	"github.com/Ascend/MEF-sub001/edgelib/connection/tokenbucket"
	"github.com/Ascend/MEF-sub001/edgelib/envconfig"
	"github.com/Ascend/MEF-sub001/edgelib/envelope"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

const (
	DefaultAlarmTimeout = router.DefaultAlarmTimeout

	metricsShutdownTimeout = 5 * time.Second
)

type Options struct {
	ConfigPath  string
	HostsPath   string
	MetricsAddr string

	// Overrides for tests; zero values pick the production behaviour
	Providers       reporter.Providers
	Companion       *companion.Controller
	Dialer          supervisor.Dialer
	MonitorInterval time.Duration
	ReconnectDelay  time.Duration
}

type Agent struct {
	logger   *logger.Logger
	options  Options
	config   *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	status   *connstatus.Tracker

	fdTarget  *target.Target
	mefTarget *target.Target
	fd        *supervisor.Supervisor
	mef       *supervisor.Supervisor
	monitor   *monitor.Monitor

	companion *companion.Controller
	mefRouter *router.Mef
	requests  *router.ChanHandler

	fromMef *queue.Queue
	toMef   *queue.Queue
	alarms  *queue.Queue

	tmb tomb.Tomb
}

func New(logger *logger.Logger, options Options) (*Agent, error) {
	if options.HostsPath == "" {
		options.HostsPath = reconnect.DefaultHostsPath
	}

	store, err := envconfig.NewYamlEnvConfig(options.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", options.ConfigPath, err)
	}

	registry := prometheus.NewRegistry()
	a := &Agent{
		logger:   logger,
		options:  options,
		config:   config.New(store),
		registry: registry,
		metrics:  metrics.New(registry),
		requests: router.NewChanHandler(),
		fromMef:  queue.New("from-mef"),
		toMef:    queue.New("to-mef"),
		alarms:   queue.New("mef-alarm"),
	}
	a.status = connstatus.New(logger.GetComponentLogger("ConnectStatus"), a.metrics)
	a.fdTarget = target.New(logger, target.FD, target.Options{})
	a.mefTarget = target.New(logger, target.MEF, target.Options{})

	mefConfig, err := a.config.Mef()
	if err != nil {
		return nil, fmt.Errorf("failed to load companion settings: %w", err)
	}

	a.companion = options.Companion
	if a.companion == nil {
		if a.companion, err = companion.New(logger, mefConfig); err != nil {
			return nil, err
		}
	}

	if options.Providers == nil {
		options.Providers = &defaultProviders{agent: a}
	}
	if options.Dialer == nil {
		options.Dialer = supervisor.NewWebsocketDialer(logger)
	}
	a.options = options

	a.mefRouter = router.NewMef(logger, a.metrics, a.mefTarget.Ready, a.fromMef, a.alarms, a.toMef)
	fdRouter := router.NewFd(logger, a.metrics, a.config, a.companion, a.requests, a.toMef)

	results := &reconnect.ResultCache{}
	hosts := reconnect.NewHosts(options.HostsPath)
	supervisorOptions := supervisor.Options{ReconnectDelay: options.ReconnectDelay}

	fdHooks := supervisor.NewFdHooks(logger, supervisor.FdDeps{
		Config:     a.config,
		Tester:     reconnect.NewTester(logger.GetComponentLogger("ConnectTester"), results),
		Results:    results,
		Hosts:      hosts,
		Status:     a.status,
		Target:     a.fdTarget,
		Dialer:     options.Dialer,
		Dispatcher: dispatcher.New(logger, string(target.FD), a.metrics),
		Router:     fdRouter,
		Bucket:     tokenbucket.New(tokenbucket.DefaultCapacity, tokenbucket.DefaultRefill),
		FromMef:    a.fromMef,
		Providers:  options.Providers,
		// the connect loop must not wait for its own teardown
		Halt:       func() { go a.monitor.Halt() },
		MefReady:   a.mefTarget.Ready,
		PushFdInfo: a.pushFdInfo,
	})
	a.fd = supervisor.New(logger, a.metrics, a.fdTarget, fdHooks, supervisorOptions)

	mefHooks := supervisor.NewMefHooks(logger, supervisor.MefDeps{
		Config:     a.config,
		Companion:  a.companion,
		Fd:         a.fdTarget,
		Target:     a.mefTarget,
		Dialer:     options.Dialer,
		Dispatcher: dispatcher.New(logger, string(target.MEF), a.metrics),
		Router:     a.mefRouter,
		Bucket:     tokenbucket.New(tokenbucket.DefaultCapacity, tokenbucket.DefaultRefill),
		ToMef:      a.toMef,
		PushFdInfo: func() error {
			n, err := a.config.Net()
			if err != nil {
				return err
			}
			return a.pushFdInfo(n.FdInfo())
		},
	})
	a.mef = supervisor.New(logger, a.metrics, a.mefTarget, mefHooks, supervisorOptions)

	a.monitor = monitor.New(logger, monitor.Deps{
		Config:   a.config,
		Fd:       a.fd,
		Mef:      a.mef,
		FdTarget: a.fdTarget,
		Results:  results,
		Hosts:    hosts,
		Status:   a.status,
	}, options.MonitorInterval)

	return a, nil
}

// Run starts every connection and blocks until ctx ends or Close is called
func (a *Agent) Run(ctx context.Context) error {
	if reset, err := a.config.ResetStaleStatus(); err != nil {
		a.logger.Errorf("Failed to reset stale connection status: %s", err)
	} else if reset {
		a.logger.Infof("Cleared a connecting status left over from the last run")
	}

	if a.options.MetricsAddr != "" {
		a.tmb.Go(a.serveMetrics)
	}

	a.tmb.Go(func() error {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-a.tmb.Dying():
				return nil
			case <-t.C:
				a.metrics.QueueDepth(a.fromMef.Name(), a.fromMef.Len())
				a.metrics.QueueDepth(a.toMef.Name(), a.toMef.Len())
			}
		}
	})

	a.monitor.Start()

	a.tmb.Go(func() error {
		select {
		case <-ctx.Done():
			a.Close(nil)
		case <-a.tmb.Dying():
		}

		a.shutdown()
		return nil
	})

	a.logger.Info("Agent started")

	return a.tmb.Wait()
}

// Close stops the agent; Run returns reason
func (a *Agent) Close(reason error) {
	a.tmb.Kill(reason)
}

func (a *Agent) Done() <-chan struct{} {
	return a.tmb.Dead()
}

func (a *Agent) Err() error {
	return a.tmb.Err()
}

func (a *Agent) shutdown() {
	a.logger.Info("Agent stopping")
	a.monitor.Stop()
	a.fd.Stop()
	a.mef.Stop()
}

func (a *Agent) serveMetrics() error {
	server := &http.Server{
		Addr:    a.options.MetricsAddr,
		Handler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	}

	go func() {
		<-a.tmb.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		server.Shutdown(ctx)
	}()

	a.logger.Infof("Serving metrics on %s", a.options.MetricsAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Errorf("Metrics server failed: %s", err)
	}
	return nil
}

func (a *Agent) pushFdInfo(info config.FdInfo) error {
	return a.mefRouter.PushFdInfo(info)
}

func (a *Agent) targetFor(name target.Name) (*target.Target, error) {
	switch name {
	case target.FD:
		return a.fdTarget, nil
	case target.MEF:
		return a.mefTarget, nil
	default:
		return nil, fmt.Errorf("unknown connection %q", name)
	}
}

// SendSync sends env on the named connection and waits for the write
func (a *Agent) SendSync(ctx context.Context, name target.Name, env *envelope.Envelope) error {
	t, err := a.targetFor(name)
	if err != nil {
		return connection.NewError(connection.NotConnected, "sync send", err)
	}
	return t.SendSync(ctx, env)
}

func (a *Agent) IsReady(name target.Name) bool {
	t, err := a.targetFor(name)
	if err != nil {
		return false
	}
	return t.Ready()
}

// CurrentStatus is the controller connection status. A connected device
// counts as ready once the controller has marked it ready in the config.
func (a *Agent) CurrentStatus() connstatus.Status {
	current := a.status.Current()
	if current == connstatus.Connected && a.config.FdModeReady() {
		return connstatus.Ready
	}
	return current
}

// CachedAlarmInfo returns the companion's current alarms, or an empty list
func (a *Agent) CachedAlarmInfo(timeout time.Duration) []any {
	return a.mefRouter.CachedAlarmInfo(context.Background(), timeout)
}

// Requests delivers controller requests for local handlers
func (a *Agent) Requests() <-chan router.Request {
	return a.requests.Requests()
}

// Respond answers req on its route's response resource
func (a *Agent) Respond(ctx context.Context, req router.Request, content any) error {
	if req.Route.ResponseResource == "" {
		return fmt.Errorf("%s takes no response", req.Envelope.Route.Resource)
	}

	env, err := envelope.Build(content, req.Route.ResponseResource,
		envelope.WithParent(req.Envelope.Header.MsgId),
	)
	if err != nil {
		return err
	}
	return a.SendSync(ctx, target.FD, env)
}
