/*
Package reporter runs the periodic uploads to the controller: system info,
system status, alarms, events and the keepalive heartbeat. Each reporter loops
compute, send, sleep until its session goes away or a send fails for a reason
other than a timeout.
*/
package reporter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Ascend/MEF-sub001/edgelib/connection"
	"github.com/Ascend/MEF-sub001/edgelib/envelope"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

const DefaultTick = time.Second

type State int32

const (
	Idle State = iota
	Sending
	Sleeping
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Sleeping:
		return "sleeping"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Link is the connection state a reporter updates when it gives up
type Link interface {
	SetConnected(connected bool)
}

// StatusSink receives the connecting transition
type StatusSink interface {
	TransToConnecting()
}

type PayloadFunc func(ctx context.Context) (*envelope.Envelope, error)

type Spec struct {
	Name         string
	Interval     time.Duration
	InitialDelay time.Duration
	Payload      PayloadFunc

	// Cancellation is returned to the caller instead of being swallowed
	ReraiseCancel bool

	// Finding the connection already closed moves the status to connecting
	ConnectingOnClosed bool

	// Finding the connection already closed clears the connected flag
	DisconnectOnClosed bool
}

type Reporter struct {
	spec        Spec
	logger      *logger.Logger
	link        Link
	status      StatusSink
	tick        time.Duration
	sendTimeout time.Duration

	state atomic.Int32
}

func New(logger *logger.Logger, spec Spec, link Link, status StatusSink, sendTimeout time.Duration) *Reporter {
	return &Reporter{
		spec:        spec,
		logger:      logger.GetComponentLogger(spec.Name),
		link:        link,
		status:      status,
		tick:        DefaultTick,
		sendTimeout: sendTimeout,
	}
}

// WithTick changes the slice sleeps are cut into
func (r *Reporter) WithTick(tick time.Duration) *Reporter {
	r.tick = tick
	return r
}

func (r *Reporter) Name() string {
	return r.spec.Name
}

func (r *Reporter) State() State {
	return State(r.state.Load())
}

func (r *Reporter) setState(s State) {
	r.state.Store(int32(s))
}

// Run loops until the connection closes, ctx ends or a send fails outright
func (r *Reporter) Run(ctx context.Context, sender connection.Sender) error {
	defer r.setState(Terminated)
	r.setState(Idle)

	if r.spec.InitialDelay > 0 {
		r.setState(Sleeping)
		if err := connection.Sleep(ctx, r.spec.InitialDelay, r.tick); err != nil {
			return r.onFailure(connection.NewError(connection.SendCancelled, r.spec.Name, err))
		}
	}

	for {
		again, err := r.cycle(ctx, sender)
		if err != nil {
			return r.onFailure(err)
		}
		if !again {
			return nil
		}
	}
}

func (r *Reporter) cycle(ctx context.Context, sender connection.Sender) (bool, error) {
	r.setState(Sending)

	env, err := r.spec.Payload(ctx)
	if err != nil {
		return false, connection.NewError(connection.SendFailed, r.spec.Name, err)
	}

	if sender.Closed() {
		r.logger.Errorf("Connection is closed, stop reporting")
		if r.spec.DisconnectOnClosed {
			r.link.SetConnected(false)
		}
		if r.spec.ConnectingOnClosed {
			r.status.TransToConnecting()
		}
		return false, nil
	}

	wire, err := env.Wire()
	if err != nil {
		return false, connection.NewError(connection.SendFailed, r.spec.Name, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	err = connection.Classify(r.spec.Name, sender.Send(sendCtx, wire))
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return false, connection.NewError(connection.SendCancelled, r.spec.Name, ctx.Err())
		}
		if !connection.IsKind(err, connection.SendTimeout) {
			return false, err
		}
		r.logger.Warnf("Sending %s timed out, will retry next cycle", env.Route.Resource)
	} else {
		r.logger.Tracef("Reported %s", env.Route.Resource)
	}

	r.setState(Sleeping)
	if err := connection.Sleep(ctx, r.spec.Interval, r.tick); err != nil {
		return false, connection.NewError(connection.SendCancelled, r.spec.Name, err)
	}
	return true, nil
}

func (r *Reporter) onFailure(err error) error {
	if connection.IsKind(err, connection.SendCancelled) {
		if r.spec.ReraiseCancel {
			return err
		}
		r.logger.Warnf("Reporting cancelled: %s", err)
		r.link.SetConnected(false)
		r.status.TransToConnecting()
		return nil
	}

	r.logger.Errorf("Reporting failed: %s", err)
	r.link.SetConnected(false)
	r.status.TransToConnecting()
	return err
}
