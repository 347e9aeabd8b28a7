package reporter

import (
	"context"
	"time"

	"github.com/Ascend/MEF-sub001/edgelib/envelope"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
)

const (
	SysInfoInterval   = 120 * time.Second
	SysStatusInterval = 60 * time.Second
	AlarmInterval     = 60 * time.Second
	EventDelay        = 300 * time.Second
	EventInterval     = 12 * time.Hour
	HeartbeatInterval = 15 * time.Second

	// The password change event fires once the password is this old
	PasswordAgeThreshold = 30 * 24 * time.Hour

	sysInfoResource   = "websocket/sys_info"
	sysStatusResource = "websocket/sys_status"
	alarmResource     = "websocket/alarm"
)

type AccountInfo struct {
	// Set while the default web account still needs its password changed
	InsecurePrompt   bool
	PasswordModified time.Time
}

// Providers compute the report bodies. They are owned by the rest of the
// edge system; the reporters only schedule and ship what they return.
type Providers interface {
	SysInfo(ctx context.Context) (any, error)
	SysStatus(ctx context.Context) (any, error)
	Alarms(ctx context.Context) (any, error)
	Account(ctx context.Context) (AccountInfo, error)
}

// ReadyFunc reports whether the device has finished first time management
type ReadyFunc func() bool

func SysInfo(p Providers, ready ReadyFunc) Spec {
	return Spec{
		Name:     "SysInfoReporter",
		Interval: SysInfoInterval,
		Payload: func(ctx context.Context) (*envelope.Envelope, error) {
			var content any = map[string]any{}
			if ready() {
				info, err := p.SysInfo(ctx)
				if err != nil {
					return nil, err
				}
				content = info
			}
			return envelope.Build(content, sysInfoResource)
		},
	}
}

func SysStatus(p Providers, ready ReadyFunc) Spec {
	return Spec{
		Name:     "SysStatusReporter",
		Interval: SysStatusInterval,
		Payload: func(ctx context.Context) (*envelope.Envelope, error) {
			var content any = map[string]any{}
			if ready() {
				status, err := p.SysStatus(ctx)
				if err != nil {
					return nil, err
				}
				content = status
			}
			return envelope.Build(content, sysStatusResource)
		},
	}
}

func Alarm(logger *logger.Logger, p Providers) Spec {
	return Spec{
		Name:               "AlarmReporter",
		Interval:           AlarmInterval,
		ConnectingOnClosed: true,
		Payload: func(ctx context.Context) (*envelope.Envelope, error) {
			alarms, err := p.Alarms(ctx)
			if err != nil || alarms == nil {
				// an empty report still goes out
				logger.Errorf("Failed to get alarm info: %v", err)
				alarms = map[string]any{"alarm": []any{}}
			}
			return envelope.Build(alarms, alarmResource)
		},
	}
}

func Event(logger *logger.Logger, p Providers, now func() time.Time) Spec {
	return Spec{
		Name:               "EventReporter",
		Interval:           EventInterval,
		InitialDelay:       EventDelay,
		ConnectingOnClosed: true,
		Payload: func(ctx context.Context) (*envelope.Envelope, error) {
			account, err := p.Account(ctx)
			if err != nil {
				logger.Errorf("Failed to get account info: %s", err)
				account = AccountInfo{}
			}
			return envelope.Build(EventPayload(account, now(), PasswordAgeThreshold), alarmResource)
		},
	}
}

func Heartbeat() Spec {
	return Spec{
		Name:               "Heartbeat",
		Interval:           HeartbeatInterval,
		ReraiseCancel:      true,
		ConnectingOnClosed: true,
		DisconnectOnClosed: true,
		Payload: func(ctx context.Context) (*envelope.Envelope, error) {
			return envelope.Build("ping", "node",
				envelope.WithGroup("resource"),
				envelope.WithOperation("keepalive"),
				envelope.WithSource("websocket"),
			)
		},
	}
}

// EventPayload builds the alarm list for the periodic event report. It holds
// one password change event when the insecure prompt is set and the password
// is at least threshold old, and is empty otherwise.
func EventPayload(account AccountInfo, now time.Time, threshold time.Duration) map[string]any {
	events := []any{}

	age := now.Sub(account.PasswordModified)
	if age < 0 {
		age = -age
	}

	if account.InsecurePrompt && age >= threshold {
		events = append(events, map[string]any{
			"type":                "event",
			"alarmId":             "0x01000006",
			"alarmName":           "Change the web password",
			"resource":            "system",
			"perceivedSeverity":   "MAJOR",
			"timestamp":           now.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05-07:00"),
			"notificationType":    "",
			"detailedInformation": "The web password is not changed, please change it.",
			"suggestion":          "Log in to the Atlas 500 WebUI and change the web password.",
			"reason":              "",
			"impact":              "",
		})
	}

	return map[string]any{"alarm": events}
}
