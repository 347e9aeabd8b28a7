/*
Package connstatus tracks the process wide state of the management connection
to the controller. Every transition is logged, exported as a metric and fanned
out to subscribers.
*/
package connstatus

import (
	"sync"

	"github.com/Ascend/MEF-sub001/agent/metrics"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

type Status int

const (
	NotConfigured Status = iota
	Connecting
	Connected
	Ready
	ErrConfigured
)

var all = []Status{NotConfigured, Connecting, Connected, Ready, ErrConfigured}

func (s Status) String() string {
	switch s {
	case NotConfigured:
		return "not_configured"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Ready:
		return "ready"
	case ErrConfigured:
		return "err_configured"
	default:
		return "unknown"
	}
}

// FailedReason records why the last companion connection attempt failed
type FailedReason string

const (
	ReasonEmpty              FailedReason = ""
	ReasonInvalidSSLContext  FailedReason = "invalid_ssl_context"
	ReasonCertVerifyFailed   FailedReason = "cert_verify_failed"
	ReasonExchangeCertFailed FailedReason = "exchange_cert_failed"
)

const subscriberBuffer = 8

type Tracker struct {
	logger  *logger.Logger
	metrics *metrics.Metrics

	lock        sync.RWMutex
	current     Status
	subscribers []chan Status
}

func New(logger *logger.Logger, m *metrics.Metrics) *Tracker {
	t := &Tracker{
		logger:  logger,
		metrics: m,
		current: NotConfigured,
	}
	t.export(NotConfigured)
	return t
}

func (t *Tracker) Current() Status {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.current
}

// Subscribe returns a channel that receives every status change. Slow
// subscribers miss updates rather than block transitions.
func (t *Tracker) Subscribe() <-chan Status {
	t.lock.Lock()
	defer t.lock.Unlock()

	ch := make(chan Status, subscriberBuffer)
	t.subscribers = append(t.subscribers, ch)
	return ch
}

func (t *Tracker) TransToNotConfigured() { t.transTo(NotConfigured) }
func (t *Tracker) TransToConnecting()    { t.transTo(Connecting) }
func (t *Tracker) TransToConnected()     { t.transTo(Connected) }
func (t *Tracker) TransToReady()         { t.transTo(Ready) }
func (t *Tracker) TransToErrConfigured() { t.transTo(ErrConfigured) }

func (t *Tracker) transTo(next Status) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.current == next {
		return
	}

	t.logger.Infof("Connection status changed from %s to %s", t.current, next)
	t.current = next
	t.export(next)

	for _, ch := range t.subscribers {
		select {
		case ch <- next:
		default:
		}
	}
}

func (t *Tracker) export(current Status) {
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.String()
	}
	t.metrics.SetStatus(current.String(), names)
}
