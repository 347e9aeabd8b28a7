package reconnect

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/Ascend/MEF-sub001/agent/config"
	"github.com/Ascend/MEF-sub001/edgelib/connection"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
	"github.com/cenkalti/backoff/v4"
)

const (
	ProbeTimeout   = 5 * time.Second
	RequestTimeout = 5 * time.Second

	maxResponseSize = 1 << 20
	requestRetries  = 1
	retryDelay      = time.Second
)

// Outcome of a successful connect test
type Outcome struct {
	// controller already knows this device, the link counts as connected
	SameDevice bool
}

type TLSProvider func(config.NetConfig) (*tls.Config, error)

// Tester checks the controller address, the device credentials and the node
// id before a websocket dial is attempted. Negative outcomes that should stop
// further attempts are recorded in the ResultCache.
type Tester struct {
	logger *logger.Logger
	cache  *ResultCache

	tlsConfig TLSProvider
}

func NewTester(logger *logger.Logger, cache *ResultCache) *Tester {
	return &Tester{
		logger:    logger,
		cache:     cache,
		tlsConfig: config.NetConfig.TLSConfig,
	}
}

// WithTLS replaces how the client configuration is built
func (t *Tester) WithTLS(provider TLSProvider) *Tester {
	t.tlsConfig = provider
	return t
}

func (t *Tester) Test(ctx context.Context, n config.NetConfig) (Outcome, error) {
	if err := t.probe(ctx, n.Address()); err != nil {
		return Outcome{}, err
	}

	tlsConfig, err := t.tlsConfig(n)
	if err != nil {
		t.cache.Set(ResultInvalidCert)
		return Outcome{}, fmt.Errorf("failed to build tls config: %w", err)
	}

	client := &http.Client{
		Timeout:   RequestTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}
	defer client.CloseIdleConnections()

	var outcome Outcome
	request := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.TestURL(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header = n.Headers()

		resp, err := client.Do(req)
		if err != nil {
			if connection.IsCertError(err) {
				t.cache.Set(ResultInvalidCert)
				return backoff.Permanent(fmt.Errorf("controller certificate rejected: %w", err))
			}
			return err
		}
		defer resp.Body.Close()

		if outcome, err = t.checkResponse(resp); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(retryDelay), requestRetries), ctx)
	if err := backoff.Retry(request, policy); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

func (t *Tester) probe(ctx context.Context, address string) error {
	dialer := net.Dialer{Timeout: ProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			t.cache.Set(ResultInvalidIPPort)
		}
		return fmt.Errorf("controller %s unreachable: %w", address, err)
	}
	conn.Close()
	return nil
}

func (t *Tester) checkResponse(resp *http.Response) (Outcome, error) {
	if resp.ContentLength > maxResponseSize {
		return Outcome{}, fmt.Errorf("controller response too large: %d bytes", resp.ContentLength)
	}

	t.logger.Infof("Connect test answered with status %d", resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusOK:
		return Outcome{}, nil
	case http.StatusNotFound:
		return Outcome{}, fmt.Errorf("controller does not serve the account check endpoint")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read controller response: %w", err)
	}

	messageId, _, err := ParseErrorMessage(body)
	if err != nil {
		return Outcome{}, err
	}

	switch messageId {
	case ResultNoPrivilege, ResultAuthFailure:
		t.cache.Set(messageId)
		return Outcome{}, fmt.Errorf("account or password rejected: %s", messageId)
	case ResultIPLocked:
		t.cache.Set(messageId)
		return Outcome{}, fmt.Errorf("device ip is locked by the controller")
	case ResultInternalError:
		return Outcome{}, fmt.Errorf("controller internal error")
	case ResultNodeIDExist:
		return Outcome{}, fmt.Errorf("node id already registered with the controller")
	case ResultSameDevice:
		t.logger.Info("Controller recognised this device")
		return Outcome{SameDevice: true}, nil
	default:
		return Outcome{}, fmt.Errorf("unrecognised controller answer %q with status %d", messageId, resp.StatusCode)
	}
}
