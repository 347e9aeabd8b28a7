/*
The Websocket package establishes and ferries raw bytes across the underlying websocket
connection. It is the lowest layer of a management connection: it knows nothing about
envelopes, only frames. Keepalive pings are sent on a fixed interval and a peer that
stops answering them is treated as gone.
*/

package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Ascend/MEF-sub001/edgelib/connection/transporter"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
	gorilla "github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"
)

const (
	HttpsOnlyWebsocketScheme = "wss"
	HttpWebsocketScheme      = "ws"

	inboundBufferSize     = 200
	maxHandshakeBodyBytes = 1024 * 1024
	closeWriteWait        = time.Second
)

type Options struct {
	TLSConfig *tls.Config

	// Zero disables keepalive pings
	PingInterval time.Duration
	PingTimeout  time.Duration

	HandshakeTimeout time.Duration

	// Frames larger than this are refused by the reader; zero means no limit
	ReadLimit int64
}

type Websocket struct {
	tmb     tomb.Tomb
	logger  *logger.Logger
	options Options

	client    *gorilla.Conn
	writeLock sync.Mutex

	// Received messages
	inbound chan []byte
}

func New(logger *logger.Logger, options Options) transporter.Transporter {
	return &Websocket{
		logger:  logger,
		options: options,
		inbound: make(chan []byte, inboundBufferSize),
	}
}

func (w *Websocket) Close(reason error) {
	if w.client == nil {
		return
	}

	if w.tmb.Alive() {
		w.logger.Infof("Websocket connection closing because: %s", reason)

		w.tmb.Kill(reason)
		w.client.WriteControl(
			gorilla.CloseMessage,
			gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""),
			time.Now().Add(closeWriteWait),
		)
		w.client.Close()
		w.tmb.Wait()
	} else {
		w.logger.Infof("Close was called while in a dying state")
		w.client.Close()
	}
}

func (w *Websocket) Closed() bool {
	return w.client == nil || !w.tmb.Alive()
}

func (w *Websocket) Done() <-chan struct{} {
	return w.tmb.Dead()
}

func (w *Websocket) Err() error {
	return w.tmb.Err()
}

func (w *Websocket) Inbound() <-chan []byte {
	return w.inbound
}

// Send writes one text frame. The write is abandoned when ctx expires or is
// cancelled, which leaves the connection unusable for further writes.
func (w *Websocket) Send(ctx context.Context, message []byte) error {
	if w.Closed() {
		return transporter.ErrTransportClosed
	}

	w.writeLock.Lock()
	defer w.writeLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	w.client.SetWriteDeadline(deadline)

	// net.Conn deadlines are safe to move from another goroutine, and doing so
	// unblocks a write that is stuck on a full socket buffer
	stop := context.AfterFunc(ctx, func() {
		w.client.UnderlyingConn().SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := w.client.WriteMessage(gorilla.TextMessage, message); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("write interrupted: %w", ctxErr)
		}
		return err
	}
	return nil
}

func (w *Websocket) Dial(ctx context.Context, connUrl *url.URL, headers http.Header) (err error) {
	target := *connUrl
	switch target.Scheme {
	case "https":
		target.Scheme = HttpsOnlyWebsocketScheme
	case "http":
		target.Scheme = HttpWebsocketScheme
	case "":
		target.Scheme = HttpsOnlyWebsocketScheme
	}

	dialer := &gorilla.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: w.options.HandshakeTimeout,
		TLSClientConfig:  w.options.TLSConfig,
	}

	// Try to connect websocket once
	client, resp, err := dialer.DialContext(ctx, target.String(), headers)
	if err != nil {
		if errors.Is(err, gorilla.ErrBadHandshake) && resp != nil {
			return newHandshakeError(resp)
		}
		return fmt.Errorf("error dialing websocket: %w", err)
	}

	if w.options.ReadLimit > 0 {
		client.SetReadLimit(w.options.ReadLimit)
	}

	// Reinitialize our variables in case this is post death
	w.client = client
	w.tmb = tomb.Tomb{}

	w.extendReadDeadline()
	client.SetPongHandler(func(string) error {
		w.extendReadDeadline()
		return nil
	})

	w.tmb.Go(func() error {
		if w.options.PingInterval > 0 {
			w.tmb.Go(w.ping)
		}
		return w.receive()
	})

	return nil
}

func (w *Websocket) extendReadDeadline() {
	if w.options.PingInterval <= 0 {
		return
	}
	w.client.SetReadDeadline(time.Now().Add(w.options.PingInterval + w.options.PingTimeout))
}

func (w *Websocket) ping() error {
	ticker := time.NewTicker(w.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.tmb.Dying():
			return nil
		case <-ticker.C:
			deadline := time.Now().Add(w.options.PingTimeout)
			if err := w.client.WriteControl(gorilla.PingMessage, nil, deadline); err != nil {
				// unblock the reader so the whole transport winds down
				w.client.Close()
				return fmt.Errorf("failed to send keepalive ping: %w", err)
			}
		}
	}
}

func (w *Websocket) receive() error {
	defer w.logger.Infof("Websocket connection closed")
	w.logger.Infof("Websocket connection started")

	for {
		// Read incoming message
		if _, rawMessage, err := w.client.ReadMessage(); !w.tmb.Alive() {
			return nil
		} else if err != nil {
			// Check if it's a clean exit
			if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
				w.logger.Error(err)
			} else {
				w.logger.Info("Websocket connection closed normally")
			}
			return err
		} else {
			w.extendReadDeadline()

			select {
			case w.inbound <- rawMessage:
			case <-w.tmb.Dying():
				return nil
			}
		}
	}
}

// HandshakeError is returned by Dial when the server answered the upgrade
// request with a non-101 status
type HandshakeError struct {
	StatusCode int
	Body       []byte
}

func newHandshakeError(resp *http.Response) *HandshakeError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxHandshakeBodyBytes))
	return &HandshakeError{StatusCode: resp.StatusCode, Body: body}
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected with status %d", e.StatusCode)
}

func (e *HandshakeError) Unwrap() error { return gorilla.ErrBadHandshake }
