/*
Package router decides where an inbound frame goes. Frames from the controller
are either handed to a local handler or relayed to the companion process.
Frames from the companion are relayed to the controller, except for answers to
alarm queries, which are kept for the caller waiting on them.
*/
package router

import (
	"fmt"

	"github.com/Ascend/MEF-sub001/agent/metrics"
	"github.com/Ascend/MEF-sub001/edgelib/connection/queue"
	"github.com/Ascend/MEF-sub001/edgelib/envelope"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
	orderedmap "github.com/wk8/go-ordered-map"
)

const (
	MaxFrameSize = 1 << 20

	// the only resource accepted before the controller marks the device ready
	NetManagerResource = "websocket/netmanager"
)

var sourceWhitelist = map[string]bool{
	"FusionDirector": true,
	"websocket":      true,
}

// Route is where a known controller resource is handled and which resource
// the reply is sent back on. An empty ResponseResource means no reply.
type Route struct {
	Handler          string
	ResponseResource string
}

type Request struct {
	Envelope *envelope.Envelope
	Route    Route
}

type Handler interface {
	Handle(req Request) error
}

type Readiness interface {
	FdModeReady() bool
}

type Companion interface {
	Managed() bool
}

func defaultRoutes() *orderedmap.OrderedMap {
	routes := orderedmap.New()
	routes.Set("websocket/profile", Route{"espmanager/SysConfig", "websocket/profile"})
	routes.Set("websocket/profile_effect", Route{"espmanager/SysConfigEffect", "websocket/profile_effect"})
	routes.Set("websocket/tag", Route{"espmanager/SysAssetTag", "websocket/config_result"})
	routes.Set("websocket/restart", Route{"espmanager/ComputerSystemReset", "websocket/restart_result"})
	routes.Set("websocket/firmware_effective", Route{"espmanager/UpdateService/FirmwareEffective", "websocket/restart_result"})
	routes.Set("websocket/info_collect", Route{"espmanager/InfoCollect", "websocket/info_collect_process"})
	routes.Set("websocket/rearm", Route{"espmanager/ResetAlarm", ""})
	routes.Set("websocket/config_hostname", Route{"espmanager/Hostname", "websocket/config_result"})
	routes.Set(NetManagerResource, Route{"espmanager/netmanager", "websocket/config_result"})
	routes.Set("websocket/passthrough/account_modify", Route{"espmanager/passthrough/account_modify", "websocket/config_result"})
	routes.Set("websocket/config_dflc", Route{"espmanager/config_dflc", "websocket/config_dflc_result"})
	routes.Set("websocket/install", Route{"", "websocket/upgrade_progress"})
	routes.Set("websocket/cert_update", Route{"espmanager/cert_update", "websocket/config_result"})
	routes.Set("websocket/crl_update", Route{"espmanager/crl_update", "websocket/config_result"})
	routes.Set("websocket/cert_delete", Route{"espmanager/cert_delete", "websocket/config_result"})
	routes.Set("websocket/cert_query", Route{"espmanager/cert_query", "websocket/cert_info"})
	routes.Set("websocket/min_recovery", Route{"espmanager/handle_recover_mini_os", "websocket/config_result"})
	return routes
}

type Fd struct {
	logger  *logger.Logger
	metrics *metrics.Metrics

	routes    *orderedmap.OrderedMap
	readiness Readiness
	companion Companion
	handler   Handler
	toMef     *queue.Queue
}

func NewFd(logger *logger.Logger, m *metrics.Metrics, readiness Readiness, companion Companion, handler Handler, toMef *queue.Queue) *Fd {
	return &Fd{
		logger:    logger.GetComponentLogger("FdRouter"),
		metrics:   m,
		routes:    defaultRoutes(),
		readiness: readiness,
		companion: companion,
		handler:   handler,
		toMef:     toMef,
	}
}

// Resources lists the resources handled locally, in table order
func (f *Fd) Resources() []string {
	resources := make([]string, 0, f.routes.Len())
	for pair := f.routes.Oldest(); pair != nil; pair = pair.Next() {
		resources = append(resources, pair.Key.(string))
	}
	return resources
}

func (f *Fd) Lookup(resource string) (Route, bool) {
	if value, ok := f.routes.Get(resource); ok {
		return value.(Route), true
	}
	return Route{}, false
}

func (f *Fd) Route(frame []byte) error {
	env, err := envelope.Parse(frame, MaxFrameSize)
	if err != nil {
		f.metrics.FrameDropped("fd", "malformed")
		return err
	}

	// only the management settings message is accepted until the controller marks us ready
	if !f.readiness.FdModeReady() && env.Route.Resource != NetManagerResource {
		f.metrics.FrameDropped("fd", "not_ready")
		return fmt.Errorf("not ready, dropped message for %s", env.Route.Resource)
	}

	if !sourceWhitelist[env.Route.Source] {
		f.metrics.FrameDropped("fd", "bad_source")
		return fmt.Errorf("received message from unsupported source %q", env.Route.Source)
	}

	route, ok := f.Lookup(env.Route.Resource)
	if !ok {
		if f.companion.Managed() {
			f.logger.Debugf("Relaying %s to the companion", env.Route.Resource)
			f.toMef.Put(frame)
			return nil
		}

		f.metrics.FrameDropped("fd", "unsupported_resource")
		return fmt.Errorf("received message for unsupported resource %s", env.Route.Resource)
	}

	return f.handler.Handle(Request{Envelope: env, Route: route})
}
