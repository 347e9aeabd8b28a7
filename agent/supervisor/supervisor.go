/*
Package supervisor keeps one peer connection alive. A Supervisor loops:
check whether an attempt should be made, dial, hand the new session to the
peer specific hooks, wait for the session to die, tear it down and wait out
the reconnect delay. The FD and MEF hooks hold everything peer specific.
*/
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/Ascend/MEF-sub001/agent/metrics"
	"github.com/Ascend/MEF-sub001/agent/session"
	"github.com/Ascend/MEF-sub001/agent/target"
	"github.com/Ascend/MEF-sub001/edgelib/connection/transporter"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
	"github.com/cenkalti/backoff/v4"
)

const DefaultReconnectDelay = 5 * time.Second

type State int32

const (
	Idle State = iota
	CheckPreconditions
	Connecting
	Running
	TearingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CheckPreconditions:
		return "checking preconditions"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case TearingDown:
		return "tearing down"
	default:
		return "unknown"
	}
}

type Hooks interface {
	// Preconditions reports whether an attempt should be made now
	Preconditions(ctx context.Context) (bool, error)
	Connect(ctx context.Context) (transporter.Transporter, error)
	// Run starts the session's goroutines and returns without waiting for them
	Run(ctx context.Context, s *session.Session) error
}

type Options struct {
	ReconnectDelay time.Duration
	SendTimeout    time.Duration
}

type Supervisor struct {
	logger  *logger.Logger
	metrics *metrics.Metrics
	target  *target.Target
	hooks   Hooks
	options Options

	// held for the whole life of the loop
	runLock sync.Mutex

	lock  sync.Mutex
	tmb   *tomb.Tomb
	state atomic.Int32
}

func New(logger *logger.Logger, m *metrics.Metrics, t *target.Target, hooks Hooks, options Options) *Supervisor {
	if options.ReconnectDelay <= 0 {
		options.ReconnectDelay = DefaultReconnectDelay
	}
	if options.SendTimeout <= 0 {
		options.SendTimeout = session.DefaultSendTimeout
	}

	return &Supervisor{
		logger:  logger.GetComponentLogger("Supervisor").GetTargetLogger(string(t.Name())),
		metrics: m,
		target:  t,
		hooks:   hooks,
		options: options,
	}
}

func (s *Supervisor) Target() *target.Target {
	return s.target
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Start launches the connect loop. It returns false without doing anything
// if a loop is already running.
func (s *Supervisor) Start() bool {
	if !s.runLock.TryLock() {
		s.logger.Warnf("Connect loop already running, no need to start again")
		return false
	}

	s.target.ResetCancelled()

	tmb := &tomb.Tomb{}
	s.lock.Lock()
	s.tmb = tmb
	s.lock.Unlock()

	tmb.Go(func() error {
		defer s.runLock.Unlock()
		defer s.setState(Idle)

		s.loop(tmb.Context(nil))
		s.logger.Infof("Connect loop stopped")
		return nil
	})
	return true
}

// Stop cancels the loop, tears down the current session and waits for the
// loop to exit
func (s *Supervisor) Stop() {
	s.target.Cancel()

	s.lock.Lock()
	tmb := s.tmb
	s.lock.Unlock()

	if tmb != nil {
		tmb.Kill(nil)
	}

	s.target.Teardown()

	if tmb != nil {
		<-tmb.Dead()
	}
}

// Alive reports whether the connect loop is running
func (s *Supervisor) Alive() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.tmb != nil && s.tmb.Alive()
}

func (s *Supervisor) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Supervisor) loop(ctx context.Context) {
	delay := backoff.WithContext(backoff.NewConstantBackOff(s.options.ReconnectDelay), ctx)

	for !s.target.Cancelled() {
		s.attempt(ctx)

		s.setState(TearingDown)
		s.target.Teardown()
		s.setState(Idle)

		if s.target.Cancelled() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay.NextBackOff()):
		}
	}
}

func (s *Supervisor) attempt(ctx context.Context) {
	s.setState(CheckPreconditions)
	if proceed, err := s.hooks.Preconditions(ctx); err != nil {
		s.logger.Errorf("Not connecting: %s", err)
		return
	} else if !proceed {
		return
	}

	s.setState(Connecting)
	s.logger.Infof("Connecting")
	transport, err := s.hooks.Connect(ctx)
	if err != nil {
		s.metrics.ConnectAttempt(string(s.target.Name()), "failed")
		s.logger.Errorf("Failed to connect: %s", err)
		return
	}
	s.metrics.ConnectAttempt(string(s.target.Name()), "ok")

	sess := session.New(s.logger, transport, s.options.SendTimeout)
	s.target.SetSession(sess)

	if err := s.hooks.Run(ctx, sess); err != nil {
		s.logger.Errorf("Failed to start session: %s", err)
		return
	}

	s.setState(Running)
	s.logger.Infof("Connected, session %s running", sess.Id())

	select {
	case <-sess.Dying():
		s.logger.Infof("Session %s ended: %v", sess.Id(), sess.Err())
	case <-ctx.Done():
	}
}
