package router

import (
	"context"
	"testing"
	"time"

	"github.com/Ascend/MEF-sub001/edgelib/connection/queue"
	"github.com/Ascend/MEF-sub001/edgelib/envelope"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRouter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Router Suite")
}

type fakeReadiness struct{ ready bool }

func (f *fakeReadiness) FdModeReady() bool { return f.ready }

type fakeCompanion struct{ managed bool }

func (f *fakeCompanion) Managed() bool { return f.managed }

func frame(resource string, opts ...envelope.Option) []byte {
	env, err := envelope.Build(map[string]string{"key": "value"}, resource, opts...)
	Expect(err).ToNot(HaveOccurred())
	wire, err := env.Wire()
	Expect(err).ToNot(HaveOccurred())
	return wire
}

var _ = Describe("Fd Router", func() {
	logger := logger.MockLogger(GinkgoWriter)

	var readiness *fakeReadiness
	var companion *fakeCompanion
	var handler *ChanHandler
	var toMef *queue.Queue
	var router *Fd

	BeforeEach(func() {
		readiness = &fakeReadiness{ready: true}
		companion = &fakeCompanion{}
		handler = NewChanHandler()
		toMef = queue.New("to-mef")
		router = NewFd(logger, nil, readiness, companion, handler, toMef)
	})

	It("hands a known resource to the local handler with its route", func() {
		Expect(router.Route(frame("websocket/restart", envelope.WithSource("FusionDirector")))).To(Succeed())

		var req Request
		Expect(handler.Requests()).To(Receive(&req))
		Expect(req.Route).To(Equal(Route{"espmanager/ComputerSystemReset", "websocket/restart_result"}))
		Expect(req.Envelope.Route.Resource).To(Equal("websocket/restart"))
		Expect(req.Envelope.Content).To(HaveKeyWithValue("key", "value"))
	})

	It("keeps the resource table in order", func() {
		resources := router.Resources()
		Expect(resources[0]).To(Equal("websocket/profile"))
		Expect(resources).To(ContainElement(NetManagerResource))
		Expect(resources[len(resources)-1]).To(Equal("websocket/min_recovery"))
	})

	It("drops malformed frames", func() {
		Expect(router.Route([]byte("not json"))).ToNot(Succeed())
		Expect(handler.Requests()).ToNot(Receive())
	})

	It("drops frames at the size limit", func() {
		Expect(router.Route(make([]byte, MaxFrameSize))).ToNot(Succeed())
	})

	It("rejects sources outside the whitelist", func() {
		Expect(router.Route(frame("websocket/restart", envelope.WithSource("intruder")))).ToNot(Succeed())
		Expect(handler.Requests()).ToNot(Receive())
	})

	When("the device is not ready", func() {
		BeforeEach(func() {
			readiness.ready = false
		})

		It("only admits the management settings message", func() {
			Expect(router.Route(frame("websocket/restart", envelope.WithSource("websocket")))).ToNot(Succeed())
			Expect(router.Route(frame(NetManagerResource, envelope.WithSource("websocket")))).To(Succeed())

			var req Request
			Expect(handler.Requests()).To(Receive(&req))
			Expect(req.Route.Handler).To(Equal("espmanager/netmanager"))
		})
	})

	When("the resource is unknown", func() {
		It("relays the raw frame when the companion is managed", func() {
			companion.managed = true
			raw := frame("websocket/container", envelope.WithSource("FusionDirector"))

			Expect(router.Route(raw)).To(Succeed())
			Expect(toMef.GetNowait()).To(Equal(raw))
		})

		It("rejects it otherwise", func() {
			Expect(router.Route(frame("websocket/container", envelope.WithSource("FusionDirector")))).ToNot(Succeed())
			Expect(toMef.Len()).To(Equal(0))
		})
	})

	It("rejects requests once the handler is full", func() {
		raw := frame("websocket/tag", envelope.WithSource("FusionDirector"))
		for i := 0; i < requestBuffer; i++ {
			Expect(router.Route(raw)).To(Succeed())
		}
		Expect(router.Route(raw)).ToNot(Succeed())
	})
})

var _ = Describe("Mef Router", func() {
	logger := logger.MockLogger(GinkgoWriter)

	var ready bool
	var fromMef, alarms, toMef *queue.Queue
	var router *Mef

	BeforeEach(func() {
		ready = true
		fromMef = queue.New("from-mef")
		alarms = queue.New("mef-alarm")
		toMef = queue.New("to-mef")
		router = NewMef(logger, nil, func() bool { return ready }, fromMef, alarms, toMef)
	})

	It("relays ordinary frames to the controller queue", func() {
		raw := frame("websocket/container_status")
		Expect(router.Route(raw)).To(Succeed())
		Expect(fromMef.GetNowait()).To(Equal(raw))
		Expect(alarms.Len()).To(Equal(0))
	})

	It("keeps alarm answers aside", func() {
		raw := frame(AlarmResource, envelope.WithParent("query-1"))
		Expect(router.Route(raw)).To(Succeed())
		Expect(alarms.GetNowait()).To(Equal(raw))
		Expect(fromMef.Len()).To(Equal(0))
	})

	It("drops malformed frames", func() {
		Expect(router.Route([]byte("{}"))).ToNot(Succeed())
		Expect(fromMef.Len()).To(Equal(0))
	})

	Context("Cached alarm info", func() {
		It("returns the alarms from the answer", func() {
			go func() {
				defer GinkgoRecover()

				query, err := toMef.Get(context.Background())
				Expect(err).ToNot(HaveOccurred())
				env, err := envelope.Parse(query, MaxFrameSize)
				Expect(err).ToNot(HaveOccurred())
				Expect(env.Route.Operation).To(Equal(AlarmQueryOperation))

				answer, err := envelope.Build(map[string]any{"alarm": []string{"disk full"}}, AlarmResource, envelope.WithParent(env.Header.MsgId))
				Expect(err).ToNot(HaveOccurred())
				wire, err := answer.Wire()
				Expect(err).ToNot(HaveOccurred())
				Expect(router.Route(wire)).To(Succeed())
			}()

			Expect(router.CachedAlarmInfo(context.Background(), time.Second)).To(Equal([]any{"disk full"}))
		})

		It("returns an empty list when nobody answers", func() {
			Expect(router.CachedAlarmInfo(context.Background(), 50*time.Millisecond)).To(BeEmpty())
			Expect(toMef.Len()).To(Equal(1))
		})

		It("does not query a companion that is not connected", func() {
			ready = false
			Expect(router.CachedAlarmInfo(context.Background(), time.Second)).To(BeEmpty())
			Expect(toMef.Len()).To(Equal(0))
		})

		It("discards stale answers before asking", func() {
			alarms.Put(frame(AlarmResource, envelope.WithParent("old")))
			Expect(router.CachedAlarmInfo(context.Background(), 50*time.Millisecond)).To(BeEmpty())
		})
	})

	It("queues the controller summary for the companion", func() {
		Expect(router.PushFdInfo(map[string]any{"ip": "10.0.0.1"})).To(Succeed())

		raw, err := toMef.GetNowait()
		Expect(err).ToNot(HaveOccurred())
		env, err := envelope.Parse(raw, MaxFrameSize)
		Expect(err).ToNot(HaveOccurred())
		Expect(env.Route.Resource).To(Equal(FdInfoResource))
		Expect(env.Content).To(HaveKeyWithValue("ip", "10.0.0.1"))
	})
})
