package transporter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

var ErrTransportClosed = errors.New("transport is closed")

type Transporter interface {
	Done() <-chan struct{}
	Err() error
	Inbound() <-chan []byte
	Dial(ctx context.Context, connUrl *url.URL, headers http.Header) error
	Send(ctx context.Context, message []byte) error
	Closed() bool
	Close(reason error)
}
