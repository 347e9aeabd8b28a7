/*
Package monitor watches the controller connection from the outside. Every
tick it snapshots the agent's state, asks the reconnect policy what to do and
then rebuilds or halts the controller connection. A halt holds until the
configuration file is written again.
*/
package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/tomb.v2"

	"github.com/Ascend/MEF-sub001/agent/config"
	"github.com/Ascend/MEF-sub001/agent/connstatus"
	"github.com/Ascend/MEF-sub001/agent/reconnect"
	"github.com/Ascend/MEF-sub001/agent/target"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

const DefaultInterval = 60 * time.Second

type NetSource interface {
	Net() (config.NetConfig, error)
	Path() string
}

type Supervisor interface {
	Start() bool
	Stop()
	Alive() bool
}

type HostsLookup interface {
	Lookup(name string) (string, error)
}

type Deps struct {
	Config   NetSource
	Fd       Supervisor
	Mef      Supervisor
	FdTarget *target.Target
	Results  *reconnect.ResultCache
	Hosts    HostsLookup
	Status   *connstatus.Tracker
}

type Monitor struct {
	logger   *logger.Logger
	deps     Deps
	interval time.Duration

	// held for the life of the monitor loop
	runLock sync.Mutex

	// serializes evaluations with halts
	evalLock sync.Mutex
	halted   bool

	lock sync.Mutex
	tmb  *tomb.Tomb
}

func New(logger *logger.Logger, deps Deps, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Monitor{
		logger:   logger.GetComponentLogger("Monitor"),
		deps:     deps,
		interval: interval,
	}
}

// Start launches the monitor loop and the config watch. It returns false if
// they are already running.
func (m *Monitor) Start() bool {
	if !m.runLock.TryLock() {
		m.logger.Warnf("Monitor already running, no need to start again")
		return false
	}

	tmb := &tomb.Tomb{}
	m.lock.Lock()
	m.tmb = tmb
	m.lock.Unlock()

	tmb.Go(func() error {
		defer m.runLock.Unlock()

		tmb.Go(func() error {
			if err := m.watch(tmb.Context(nil)); err != nil {
				m.logger.Errorf("Config watch stopped: %s", err)
			}
			return nil
		})

		m.loop(tmb.Context(nil))
		return nil
	})

	m.logger.Infof("Monitor started, checking the controller connection every %s", m.interval)
	return true
}

// Stop ends the monitor loop. Connections it started keep running.
func (m *Monitor) Stop() {
	m.lock.Lock()
	tmb := m.tmb
	m.lock.Unlock()

	if tmb == nil {
		return
	}

	tmb.Kill(nil)
	tmb.Wait()
}

func (m *Monitor) Alive() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.tmb != nil && m.tmb.Alive()
}

func (m *Monitor) Halted() bool {
	m.evalLock.Lock()
	defer m.evalLock.Unlock()
	return m.halted
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evaluate()
		}
	}
}

// Evaluate runs one policy check and applies its decision
func (m *Monitor) Evaluate() reconnect.Decision {
	m.evalLock.Lock()
	defer m.evalLock.Unlock()

	if m.halted {
		m.logger.Debugf("Connection halted, waiting for reconfiguration")
		return reconnect.Keep
	}

	// the companion loop gates itself on the controller link
	if !m.deps.Mef.Alive() {
		m.deps.Mef.Start()
	}

	in := m.snapshot()
	decision := reconnect.Decide(in)

	if in.ConfigErr == nil && !in.CloudManaged {
		m.deps.Status.TransToNotConfigured()
	}

	switch decision {
	case reconnect.Reconnect:
		m.reconnect()
	case reconnect.Halt:
		m.halt()
	default:
		m.logger.Tracef("Controller connection needs no action")
	}
	return decision
}

// Halt stops every connection and marks the configuration bad until the
// configuration file changes. It must not be called from a supervisor's
// own loop.
func (m *Monitor) Halt() {
	m.evalLock.Lock()
	defer m.evalLock.Unlock()
	m.halt()
}

// Resume lifts a halt, dropping the cached connect test outcome, and
// evaluates at once. It does nothing while not halted.
func (m *Monitor) Resume() bool {
	m.evalLock.Lock()
	if !m.halted {
		m.evalLock.Unlock()
		return false
	}
	m.halted = false
	m.deps.Results.Clear()
	m.evalLock.Unlock()

	m.logger.Infof("Configuration changed, resuming the controller connection")
	m.Evaluate()
	return true
}

func (m *Monitor) snapshot() reconnect.Inputs {
	n, err := m.deps.Config.Net()
	if err != nil {
		m.logger.Errorf("Failed to read connection settings: %s", err)
		return reconnect.Inputs{ConfigErr: err}
	}

	t := m.deps.FdTarget
	r := m.deps.Results
	in := reconnect.Inputs{
		CloudManaged:    n.CloudManaged(),
		SupervisorAlive: m.deps.Fd.Alive(),
		Ready:           t.Ready(),
		Connected:       t.Connected(),
		PersistedStatus: n.Status,
		AccountInvalid:  r.AccountInvalid(),
		IPLocked:        r.IPLocked(),
		CertInvalid:     r.CertInvalid(),
		ObservedIP:      t.ObservedIP(),
	}

	hostsIP, err := m.deps.Hosts.Lookup(n.ServerName)
	if err != nil {
		m.logger.Errorf("Failed to look up %s in the hosts file: %s", n.ServerName, err)
	}
	in.HostsIP = hostsIP

	return in
}

func (m *Monitor) reconnect() {
	m.logger.Infof("Controller connection needs rebuilding")
	m.deps.Status.TransToConnecting()

	if m.deps.Fd.Alive() {
		m.logger.Infof("Stopping the current controller connection")
		m.deps.Fd.Stop()
	}
	m.deps.Fd.Start()
}

func (m *Monitor) halt() {
	if m.halted {
		return
	}
	m.halted = true

	m.logger.Errorf("Controller rejected the configuration (%s), stopping all connections", m.deps.Results.Get())
	m.deps.Fd.Stop()
	m.deps.Mef.Stop()
	m.deps.Status.TransToErrConfigured()
}

// watch resumes a halt on every write to the configuration file. The directory is
// watched since saves replace the file.
func (m *Monitor) watch(ctx context.Context) error {
	path := m.deps.Config.Path()
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error starting new file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("unable to watch config directory for %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("file watcher closed events channel")
			}

			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				m.logger.Infof("Configuration changed, checking the controller connection")
				m.Resume()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("file watcher closed errors channel")
			}
			return fmt.Errorf("file watcher caught error: %w", err)
		}
	}
}
