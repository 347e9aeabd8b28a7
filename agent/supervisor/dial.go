package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Ascend/MEF-sub001/edgelib/connection/transporter"
	"github.com/Ascend/MEF-sub001/edgelib/connection/transporter/websocket"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

type Dialer interface {
	Dial(ctx context.Context, rawUrl string, headers http.Header, options websocket.Options) (transporter.Transporter, error)
}

type WebsocketDialer struct {
	logger *logger.Logger
}

func NewWebsocketDialer(logger *logger.Logger) *WebsocketDialer {
	return &WebsocketDialer{logger: logger}
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawUrl string, headers http.Header, options websocket.Options) (transporter.Transporter, error) {
	connUrl, err := url.Parse(rawUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", rawUrl, err)
	}

	transport := websocket.New(d.logger.GetComponentLogger("Websocket"), options)
	if err := transport.Dial(ctx, connUrl, headers); err != nil {
		return nil, err
	}
	return transport, nil
}
