package connection

import (
	"context"
	"time"
)

// Sender is anything that can push one frame to a remote peer
type Sender interface {
	Send(ctx context.Context, message []byte) error
	Closed() bool
}

// Receiver exposes the frames read off a connection along with its lifetime
type Receiver interface {
	Inbound() <-chan []byte
	Done() <-chan struct{}
	Err() error
}

// Sleep waits for d in tick sized slices so that cancellation is observed
// within one tick. It returns ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration, tick time.Duration) error {
	if tick <= 0 || tick > d {
		tick = d
	}

	for remaining := d; remaining > 0; remaining -= tick {
		step := tick
		if remaining < tick {
			step = remaining
		}

		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return ctx.Err()
}
