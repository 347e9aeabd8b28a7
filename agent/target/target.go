/*
Package target holds the per peer connection state shared between the
supervisor that owns a connection and the callers that want to use it: the
live session, the connected flag, the cancel flag and the reason the last
attempt failed.
*/
package target

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ascend/MEF-sub001/agent/connstatus"
	"github.com/Ascend/MEF-sub001/agent/session"
	"github.com/Ascend/MEF-sub001/edgelib/connection"
	"github.com/Ascend/MEF-sub001/edgelib/envelope"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

type Name string

const (
	FD  Name = "fd"
	MEF Name = "mef"
)

const (
	defaultBusyWaitTick  = time.Second
	defaultBusyWaitTries = 5
)

type Options struct {
	Teardown session.TeardownOptions

	// How long a synchronous send waits for an in flight send to finish
	BusyWaitTick  time.Duration
	BusyWaitTries int
}

type Target struct {
	name    Name
	logger  *logger.Logger
	options Options

	lock         sync.RWMutex
	session      *session.Session
	connected    bool
	failedReason connstatus.FailedReason
	observedIP   string
	serverName   string

	cancelled    atomic.Bool
	teardownLock sync.Mutex
}

func New(logger *logger.Logger, name Name, options Options) *Target {
	if options.BusyWaitTick <= 0 {
		options.BusyWaitTick = defaultBusyWaitTick
	}
	if options.BusyWaitTries <= 0 {
		options.BusyWaitTries = defaultBusyWaitTries
	}

	return &Target{
		name:    name,
		logger:  logger.GetTargetLogger(string(name)),
		options: options,
	}
}

func (t *Target) Name() Name {
	return t.name
}

func (t *Target) Session() *session.Session {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.session
}

func (t *Target) SetSession(s *session.Session) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.session = s
}

func (t *Target) Connected() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.connected
}

func (t *Target) SetConnected(connected bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.connected != connected {
		t.logger.Infof("Connected flag set to %t", connected)
	}
	t.connected = connected
}

// Ready reports whether the target has an open session and is flagged connected
func (t *Target) Ready() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.connected && t.session != nil && !t.session.Closed()
}

func (t *Target) FailedReason() connstatus.FailedReason {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.failedReason
}

func (t *Target) SetFailedReason(reason connstatus.FailedReason) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if reason != connstatus.ReasonEmpty {
		t.logger.Warnf("Connection failed: %s", reason)
	}
	t.failedReason = reason
}

// SetObserved records the address actually dialed and the name it was dialed as
func (t *Target) SetObserved(ip string, serverName string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.observedIP = ip
	t.serverName = serverName
}

func (t *Target) ObservedIP() string {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.observedIP
}

func (t *Target) ServerName() string {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.serverName
}

func (t *Target) Cancel() {
	t.cancelled.Store(true)
}

func (t *Target) Cancelled() bool {
	return t.cancelled.Load()
}

func (t *Target) ResetCancelled() {
	t.cancelled.Store(false)
}

// Teardown stops the current session. Only one teardown runs at a time; a
// concurrent caller returns false immediately without waiting.
func (t *Target) Teardown() bool {
	if !t.teardownLock.TryLock() {
		t.logger.Infof("Teardown already in progress")
		return false
	}
	defer t.teardownLock.Unlock()

	s := t.Session()
	closed := session.Teardown(s, t.options.Teardown)

	t.lock.Lock()
	t.connected = false
	if closed {
		t.session = nil
	}
	t.lock.Unlock()

	if !closed {
		t.logger.Errorf("Session did not close during teardown")
	}
	return closed
}

// SendSync sends env on the current session and blocks until the frame is
// written, the send times out or the session goes away.
func (t *Target) SendSync(ctx context.Context, env *envelope.Envelope) error {
	const op = "sync send"

	s := t.Session()
	if !t.Connected() || s == nil || s.Closed() {
		t.logger.Warnf("Cannot send %s, no open connection", env.Route.Resource)
		return connection.NewError(connection.NotConnected, op, nil)
	}

	for tries := 0; s.Busy(); tries++ {
		if tries >= t.options.BusyWaitTries {
			t.logger.Warnf("Connection still busy after %d checks, sending anyway", tries)
			break
		}
		if err := connection.Sleep(ctx, t.options.BusyWaitTick, t.options.BusyWaitTick); err != nil {
			return connection.NewError(connection.SendCancelled, op, err)
		}
	}

	wire, err := env.Wire()
	if err != nil {
		return connection.NewError(connection.SendFailed, op, err)
	}

	if err := s.Send(ctx, wire); err != nil {
		t.logger.Errorf("Failed to send %s: %s", env.Route.Resource, err)
		return err
	}

	t.logger.Debugf("Sent %s synchronously", env.Route.Resource)
	return nil
}
