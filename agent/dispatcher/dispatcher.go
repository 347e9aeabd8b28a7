/*
Package dispatcher moves frames between a live connection and the rest of the
agent. RouteOutbound drains a relay queue onto a connection; RouteInbound
throttles frames read off a connection and hands them to a router.
*/
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/Ascend/MEF-sub001/agent/metrics"
	"github.com/Ascend/MEF-sub001/edgelib/connection"
	"github.com/Ascend/MEF-sub001/edgelib/connection/queue"
	"github.com/Ascend/MEF-sub001/edgelib/connection/tokenbucket"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

const (
	NotReadyDelay   = time.Second
	EmptyQueueDelay = 500 * time.Millisecond
)

var errConnectionClosed = errors.New("connection closed while routing inbound frames")

// Target is the connection state the dispatcher consults before each step
type Target interface {
	Ready() bool
	Cancelled() bool
}

// Router handles a single inbound frame
type Router interface {
	Route(frame []byte) error
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Dispatcher struct {
	logger  *logger.Logger
	metrics *metrics.Metrics
	name    string
	sleep   SleepFunc
}

func New(logger *logger.Logger, name string, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		logger:  logger.GetComponentLogger("Dispatcher"),
		metrics: m,
		name:    name,
		sleep: func(ctx context.Context, d time.Duration) error {
			return connection.Sleep(ctx, d, d)
		},
	}
}

// WithSleep replaces the wait used between polls
func (d *Dispatcher) WithSleep(sleep SleepFunc) *Dispatcher {
	d.sleep = sleep
	return d
}

// RouteOutbound sends queued messages one at a time while target is ready.
// A message that fails to send is dropped; a timeout moves on to the next
// message and any other failure ends the loop.
func (d *Dispatcher) RouteOutbound(ctx context.Context, target Target, sender connection.Sender, q *queue.Queue) error {
	for !target.Cancelled() {
		if !target.Ready() {
			if err := d.sleep(ctx, NotReadyDelay); err != nil {
				return connection.NewError(connection.SendCancelled, "route outbound", err)
			}
			continue
		}

		message, err := q.GetNowait()
		if errors.Is(err, queue.ErrEmpty) {
			if err := d.sleep(ctx, EmptyQueueDelay); err != nil {
				return connection.NewError(connection.SendCancelled, "route outbound", err)
			}
			continue
		}
		d.metrics.QueueDepth(q.Name(), q.Len())

		if err := connection.Classify("route outbound", sender.Send(ctx, message)); err != nil {
			d.metrics.MessageSent(d.name, "failed")
			if connection.IsKind(err, connection.SendTimeout) {
				d.logger.Warnf("Sending message from %s timed out, dropped", q.Name())
				continue
			}
			if connection.IsKind(err, connection.SendCancelled) {
				d.logger.Warnf("Routing from %s cancelled", q.Name())
			} else {
				d.logger.Errorf("Failed to send message from %s: %s", q.Name(), err)
			}
			return err
		}
		d.metrics.MessageSent(d.name, "ok")
	}

	d.logger.Infof("Target cancelled, stop routing from %s", q.Name())
	return nil
}

// RouteInbound reads frames until the connection closes, ctx ends or the
// target is cancelled. Frames beyond the bucket's rate are dropped.
func (d *Dispatcher) RouteInbound(ctx context.Context, target Target, receiver connection.Receiver, bucket *tokenbucket.TokenBucket, router Router) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-receiver.Done():
			if err := receiver.Err(); err != nil {
				return err
			}
			return errConnectionClosed
		case frame := <-receiver.Inbound():
			if target.Cancelled() {
				d.logger.Infof("Target cancelled, stop routing inbound frames")
				return nil
			}

			if !bucket.Consume(1) {
				d.logger.Warnf("Inbound rate limit exceeded, frame dropped")
				d.metrics.FrameDropped(d.name, "rate_limited")
				continue
			}

			if err := router.Route(frame); err != nil {
				d.logger.Errorf("Failed to route inbound frame: %s", err)
			}
		}
	}
}
