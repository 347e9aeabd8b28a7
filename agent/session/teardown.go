package session

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultPollInterval = time.Second
	DefaultPollRetries  = 30
)

var (
	errTeardown       = errors.New("session torn down")
	errStillRunning   = errors.New("session goroutines still running")
	errStillConnected = errors.New("transport still open")
)

type TeardownOptions struct {
	PollInterval time.Duration
	PollRetries  uint64
}

func (o TeardownOptions) backoff() backoff.BackOff {
	interval := o.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	retries := o.PollRetries
	if retries == 0 {
		retries = DefaultPollRetries
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), retries)
}

// Teardown cancels every goroutine of s, waits a bounded time for them to
// return, then closes the transport. It reports whether s ended up fully
// closed. Tearing down a nil or already closed session is a no-op that
// succeeds.
func Teardown(s *Session, options TeardownOptions) bool {
	if s == nil {
		return true
	}
	if !s.Running() && s.transport.Closed() {
		s.logger.Debugf("Session already closed, nothing to tear down")
		return true
	}

	s.logger.Infof("Tearing down session")
	s.kill(errTeardown)

	waitForTasks := func() error {
		if s.Running() {
			return errStillRunning
		}
		return nil
	}
	if err := backoff.Retry(waitForTasks, options.backoff()); err != nil {
		s.logger.Warnf("Session goroutines did not finish in time, closing transport anyway")
	}

	s.transport.Close(errTeardown)

	waitForClose := func() error {
		if !s.transport.Closed() {
			return errStillConnected
		}
		return nil
	}
	if err := backoff.Retry(waitForClose, options.backoff()); err != nil {
		s.logger.Errorf("Transport failed to close after teardown")
		return false
	}

	s.logger.Infof("Session torn down")
	return true
}
