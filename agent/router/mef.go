package router

import (
	"context"
	"time"

	"github.com/Ascend/MEF-sub001/agent/metrics"
	"github.com/Ascend/MEF-sub001/edgelib/connection/queue"
	"github.com/Ascend/MEF-sub001/edgelib/envelope"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

const (
	AlarmResource       = "websocket/alarm"
	AlarmQueryOperation = "query"
	FdInfoResource      = "websocket/fd_info"

	DefaultAlarmTimeout = 10 * time.Second
)

type Mef struct {
	logger  *logger.Logger
	metrics *metrics.Metrics

	ready   func() bool
	fromMef *queue.Queue
	alarms  *queue.Queue
	toMef   *queue.Queue
}

func NewMef(logger *logger.Logger, m *metrics.Metrics, ready func() bool, fromMef, alarms, toMef *queue.Queue) *Mef {
	return &Mef{
		logger:  logger.GetComponentLogger("MefRouter"),
		metrics: m,
		ready:   ready,
		fromMef: fromMef,
		alarms:  alarms,
		toMef:   toMef,
	}
}

// Route keeps alarm query answers for CachedAlarmInfo and relays the rest
// to the controller untouched
func (m *Mef) Route(frame []byte) error {
	env, err := envelope.Parse(frame, MaxFrameSize)
	if err != nil {
		m.metrics.FrameDropped("mef", "malformed")
		return err
	}

	if env.Route.Resource == AlarmResource && env.Header.ParentId != "" {
		m.alarms.Put(frame)
		return nil
	}

	m.fromMef.Put(frame)
	return nil
}

// CachedAlarmInfo asks the companion for its current alarms and waits up to
// timeout for the answer. Every failure yields an empty list.
func (m *Mef) CachedAlarmInfo(ctx context.Context, timeout time.Duration) []any {
	if !m.ready() {
		return []any{}
	}

	// answers to earlier queries that nobody waited for
	if stale := m.alarms.Drain(); stale > 0 {
		m.logger.Debugf("Discarded %d stale alarm answers", stale)
	}

	query, err := envelope.Build("", AlarmResource, envelope.WithOperation(AlarmQueryOperation))
	if err != nil {
		m.logger.Error(err)
		return []any{}
	}
	wire, err := query.Wire()
	if err != nil {
		m.logger.Error(err)
		return []any{}
	}
	m.toMef.Put(wire)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	answer, err := m.alarms.Get(ctx)
	if err != nil {
		m.logger.Errorf("Get companion alarm info failed: %s", err)
		return []any{}
	}

	env, err := envelope.Parse(answer, MaxFrameSize)
	if err != nil {
		m.logger.Errorf("Companion alarm info is invalid: %s", err)
		return []any{}
	}

	var content struct {
		Alarm []any `json:"alarm"`
	}
	if err := env.DecodeContent(&content); err != nil || content.Alarm == nil {
		m.logger.Errorf("Companion alarm info is invalid: %v", err)
		return []any{}
	}
	return content.Alarm
}

// PushFdInfo queues the controller summary for the companion
func (m *Mef) PushFdInfo(info any) error {
	env, err := envelope.Build(info, FdInfoResource)
	if err != nil {
		return err
	}
	wire, err := env.Wire()
	if err != nil {
		return err
	}
	m.toMef.Put(wire)
	return nil
}
