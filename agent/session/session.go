/*
Package session owns everything that lives and dies with one connection
attempt: the transport, the goroutines reading from and writing to it, and the
teardown that stops them. A failed goroutine, a closed transport or an
explicit teardown all bring the whole group down together.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/tomb.v2"

	"github.com/Ascend/MEF-sub001/edgelib/connection"
	"github.com/Ascend/MEF-sub001/edgelib/connection/transporter"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

const DefaultSendTimeout = 30 * time.Second

var (
	errTransportClosed = errors.New("transport closed")
	errSessionEnded    = errors.New("session already ended")
)

type Session struct {
	id     string
	logger *logger.Logger
	tmb    tomb.Tomb
	ctx    context.Context

	transport   transporter.Transporter
	sendTimeout time.Duration

	sending atomic.Int32

	// guards tmb.Go against a tomb whose last goroutine has returned
	goLock sync.Mutex
	sealed bool
}

func New(logger *logger.Logger, transport transporter.Transporter, sendTimeout time.Duration) *Session {
	id := uuid.New().String()
	s := &Session{
		id:          id,
		logger:      logger.GetConnectionLogger(id),
		transport:   transport,
		sendTimeout: sendTimeout,
	}
	s.ctx = s.tmb.Context(nil)

	// keeps the group alive until teardown and takes it down with the transport
	s.tmb.Go(func() error {
		defer s.seal()

		select {
		case <-s.tmb.Dying():
			return nil
		case <-transport.Done():
			if err := transport.Err(); err != nil {
				return err
			}
			return errTransportClosed
		}
	})

	return s
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) Transport() transporter.Transporter {
	return s.transport
}

// Go runs f as part of the session. f's context is cancelled as soon as the
// session starts dying and a non-nil return from f kills the session. Once
// the session has ended Go refuses f with a NotConnected error.
func (s *Session) Go(name string, f func(ctx context.Context) error) error {
	s.goLock.Lock()
	defer s.goLock.Unlock()

	if s.sealed {
		return connection.NewError(connection.NotConnected, fmt.Sprintf("start %s", name), errSessionEnded)
	}

	s.tmb.Go(func() error {
		err := f(s.ctx)
		if err != nil && s.tmb.Alive() {
			s.logger.Infof("%s stopped the session: %s", name, err)
		}
		return err
	})
	return nil
}

// seal runs as the watcher returns, while it still keeps the tomb alive
func (s *Session) seal() {
	s.goLock.Lock()
	defer s.goLock.Unlock()
	s.sealed = true
}

func (s *Session) Dying() <-chan struct{} {
	return s.tmb.Dying()
}

func (s *Session) Dead() <-chan struct{} {
	return s.tmb.Dead()
}

func (s *Session) Err() error {
	return s.tmb.Err()
}

// Running reports whether any session goroutine has yet to return
func (s *Session) Running() bool {
	select {
	case <-s.tmb.Dead():
		return false
	default:
		return true
	}
}

// Busy reports whether a send is in flight
func (s *Session) Busy() bool {
	return s.sending.Load() > 0
}

// Closed reports whether the session can no longer send
func (s *Session) Closed() bool {
	return !s.tmb.Alive() || s.transport.Closed()
}

// Send pushes one frame, bounded by the session's send timeout and cancelled
// when the session dies. Errors are *connection.Error.
func (s *Session) Send(ctx context.Context, message []byte) error {
	if s.Closed() {
		return connection.NewError(connection.NotConnected, "send", transporter.ErrTransportClosed)
	}

	s.sending.Add(1)
	defer s.sending.Add(-1)

	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	// the session's own context is cancelled by teardown
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return connection.Classify("send", s.transport.Send(ctx, message))
}

func (s *Session) kill(reason error) {
	s.tmb.Kill(reason)
}
