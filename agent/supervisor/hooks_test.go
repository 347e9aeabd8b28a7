package supervisor

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Ascend/MEF-sub001/agent/config"
	"github.com/Ascend/MEF-sub001/agent/connstatus"
	"github.com/Ascend/MEF-sub001/agent/dispatcher"
	"github.com/Ascend/MEF-sub001/agent/reconnect"
	"github.com/Ascend/MEF-sub001/agent/reporter"
	"github.com/Ascend/MEF-sub001/agent/session"
	"github.com/Ascend/MEF-sub001/agent/target"
	"github.com/Ascend/MEF-sub001/edgelib/connection"
	"github.com/Ascend/MEF-sub001/edgelib/connection/queue"
	"github.com/Ascend/MEF-sub001/edgelib/connection/tokenbucket"
	"github.com/Ascend/MEF-sub001/edgelib/connection/transporter"
	"github.com/Ascend/MEF-sub001/edgelib/connection/transporter/websocket"
	"github.com/Ascend/MEF-sub001/edgelib/envelope"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func writeCA(dir string) string {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	Expect(err).ToNot(HaveOccurred())

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(3),
		Subject:               pkix.Name{CommonName: "hooks ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	Expect(err).ToNot(HaveOccurred())

	path := filepath.Join(dir, "ca.pem")
	Expect(os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600)).To(Succeed())
	return path
}

type fakeNet struct {
	lock     sync.Mutex
	net      config.NetConfig
	err      error
	ready    bool
	statuses []string
	nodeIDs  []string
}

func (f *fakeNet) Net() (config.NetConfig, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.net, f.err
}

func (f *fakeNet) UpdateStatus(status string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeNet) UpdateNodeID(nodeID string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.nodeIDs = append(f.nodeIDs, nodeID)
	return nil
}

func (f *fakeNet) FdModeReady() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.ready
}

func (f *fakeNet) Statuses() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string{}, f.statuses...)
}

type fakeTester struct {
	calls   int
	outcome reconnect.Outcome
	err     error
	result  string
	cache   *reconnect.ResultCache
}

func (f *fakeTester) Test(ctx context.Context, n config.NetConfig) (reconnect.Outcome, error) {
	f.calls++
	if f.result != "" {
		f.cache.Set(f.result)
	}
	return f.outcome, f.err
}

type hostsCall struct{ ip, oldName, newName string }

type fakeHosts struct {
	calls []hostsCall
	err   error
}

func (f *fakeHosts) Update(ip string, oldName string, newName string) error {
	f.calls = append(f.calls, hostsCall{ip, oldName, newName})
	return f.err
}

type fakeDialer struct {
	transport *transporter.FakeTransporter
	err       error
	url       string
	headers   http.Header
	options   websocket.Options
}

func (f *fakeDialer) Dial(ctx context.Context, rawUrl string, headers http.Header, options websocket.Options) (transporter.Transporter, error) {
	f.url = rawUrl
	f.headers = headers
	f.options = options
	if f.err != nil {
		return nil, f.err
	}
	return f.transport, nil
}

type recordingRouter struct {
	frames chan []byte
}

func (r *recordingRouter) Route(frame []byte) error {
	r.frames <- frame
	return nil
}

type fakeCompanion struct {
	installed, mefActive, dockerActive bool
	reachable                          bool
	restartErr, exchangeErr            error
	stops, restarts, exchanges         int
}

func (f *fakeCompanion) Installed() bool    { return f.installed }
func (f *fakeCompanion) MefActive() bool    { return f.mefActive }
func (f *fakeCompanion) DockerActive() bool { return f.dockerActive }
func (f *fakeCompanion) StopMef() error     { f.stops++; return nil }
func (f *fakeCompanion) RestartMef() error  { f.restarts++; return f.restartErr }
func (f *fakeCompanion) PortReachable(ctx context.Context, address string) bool {
	return f.reachable
}
func (f *fakeCompanion) ExchangeCert(src string, dst string) error {
	f.exchanges++
	return f.exchangeErr
}

type fakeMefConfig struct {
	mef     config.MefConfig
	webMode bool
	fdReady bool
}

func (f *fakeMefConfig) Mef() (config.MefConfig, error) { return f.mef, nil }
func (f *fakeMefConfig) IsWebMode() bool                { return f.webMode }
func (f *fakeMefConfig) FdModeReady() bool              { return f.fdReady }

type readyFlag bool

func (r readyFlag) Ready() bool { return bool(r) }

var _ = Describe("Fd Hooks", func() {
	logger := logger.MockLogger(GinkgoWriter)

	var netSource *fakeNet
	var tester *fakeTester
	var results *reconnect.ResultCache
	var hosts *fakeHosts
	var dialer *fakeDialer
	var tracker *connstatus.Tracker
	var tgt *target.Target
	var providers *reporter.MockProviders
	var inbound *recordingRouter
	var fromMef *queue.Queue
	var halts int
	var pushed []config.FdInfo
	var mefReady bool
	var hooks *FdHooks

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "fdhooks")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })

		netSource = &fakeNet{net: config.NetConfig{
			Mode:        config.FusionDirector,
			ServerName:  "fd.example",
			ServerIP:    "10.0.0.1",
			ServerPort:  443,
			NodeID:      "node-1",
			Account:     "admin",
			Password:    "secret",
			Status:      "",
			ProductName: config.DefaultProductName,
			CAPath:      writeCA(dir),
		}}
		results = &reconnect.ResultCache{}
		tester = &fakeTester{cache: results}
		hosts = &fakeHosts{}
		dialer = &fakeDialer{transport: transporter.NewFakeTransporter()}
		tracker = connstatus.New(logger, nil)
		tgt = target.New(logger, target.FD, fastTeardown)
		providers = &reporter.MockProviders{}
		providers.On("Alarms").Return(map[string]any{"alarm": []any{}}, nil).Maybe()
		providers.On("SysInfo").Return(map[string]any{}, nil).Maybe()
		providers.On("SysStatus").Return(map[string]any{}, nil).Maybe()
		providers.On("Account").Return(reporter.AccountInfo{}, nil).Maybe()
		inbound = &recordingRouter{frames: make(chan []byte, 8)}
		fromMef = queue.New("from-mef")
		halts = 0
		pushed = nil
		mefReady = false

		hooks = NewFdHooks(logger, FdDeps{
			Config:     netSource,
			Tester:     tester,
			Results:    results,
			Hosts:      hosts,
			Status:     tracker,
			Target:     tgt,
			Dialer:     dialer,
			Dispatcher: dispatcher.New(logger, "fd", nil),
			Router:     inbound,
			Bucket:     tokenbucket.New(tokenbucket.DefaultCapacity, tokenbucket.DefaultRefill),
			FromMef:    fromMef,
			Providers:  providers,
			Halt:       func() { halts++ },
			MefReady:   func() bool { return mefReady },
			PushFdInfo: func(info config.FdInfo) error {
				pushed = append(pushed, info)
				return nil
			},
			SendTimeout:  time.Second,
			ReporterTick: 10 * time.Millisecond,
		})
	})

	Context("Preconditions", func() {
		It("skips local management", func() {
			netSource.net.Mode = config.Web
			Expect(hooks.Preconditions(context.Background())).To(BeFalse())
			Expect(tester.calls).To(Equal(0))
		})

		It("fails on an invalid configuration", func() {
			netSource.net.ServerIP = "nowhere"
			proceed, err := hooks.Preconditions(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(proceed).To(BeFalse())
		})

		It("fails when the config cannot be read", func() {
			netSource.err = fmt.Errorf("locked")
			_, err := hooks.Preconditions(context.Background())
			Expect(err).To(MatchError("locked"))
		})

		It("halts when the controller rejects the account", func() {
			tester.err = fmt.Errorf("rejected")
			tester.result = reconnect.ResultAuthFailure

			proceed, err := hooks.Preconditions(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(proceed).To(BeFalse())
			Expect(halts).To(Equal(1))
		})

		It("retries later on other connect test failures", func() {
			tester.err = fmt.Errorf("timeout")

			_, err := hooks.Preconditions(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(halts).To(Equal(0))
		})

		It("persists connecting on first time management", func() {
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())
			Expect(netSource.Statuses()).To(Equal([]string{"connecting"}))
		})

		It("leaves an existing status alone", func() {
			netSource.net.Status = "ready"
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())
			Expect(netSource.Statuses()).To(BeEmpty())
		})

		It("counts a recognised device as connected", func() {
			tester.outcome = reconnect.Outcome{SameDevice: true}
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())
			Expect(tgt.Connected()).To(BeTrue())
		})
	})

	Context("Connect", func() {
		BeforeEach(func() {
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())
		})

		It("dials the events endpoint with the device headers", func() {
			transport, err := hooks.Connect(context.Background())
			Expect(err).ToNot(HaveOccurred())
			Expect(transport).To(BeIdenticalTo(dialer.transport))

			Expect(dialer.url).To(Equal("wss://10.0.0.1:443/websocket/node-1/events"))
			Expect(dialer.headers.Get("DevMgmtType")).To(Equal("AtlasEdge"))
			Expect(dialer.options.TLSConfig).ToNot(BeNil())
			Expect(dialer.options.ReadLimit).To(BeNumerically(">", 0))
		})

		It("records the controller's name in the hosts file", func() {
			tgt.SetObserved("10.0.0.9", "fd.previous")
			_, err := hooks.Connect(context.Background())
			Expect(err).ToNot(HaveOccurred())
			Expect(hosts.calls).To(Equal([]hostsCall{{"10.0.0.1", "fd.previous", "fd.example"}}))
		})

		It("drops the connection when the hosts record cannot be written", func() {
			hosts.err = fmt.Errorf("read-only file system")
			_, err := hooks.Connect(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(dialer.transport.Closed()).To(BeTrue())
		})

		It("adopts the node id assigned to a spare part", func() {
			dialer.err = &websocket.HandshakeError{
				StatusCode: http.StatusForbidden,
				Body:       []byte(`{"error":{"@Message.ExtendedInfo":[{"MessageId":"FusionDirector.1.0.SpareNodeIDInCorrect","MessageArgs":["node-7"]}]}}`),
			}

			_, err := hooks.Connect(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(netSource.nodeIDs).To(Equal([]string{"node-7"}))
			Expect(tracker.Current()).To(Equal(connstatus.Connecting))
		})

		It("fails without touching the node id on other rejections", func() {
			dialer.err = fmt.Errorf("connection reset")
			_, err := hooks.Connect(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(netSource.nodeIDs).To(BeEmpty())
		})
	})

	Context("Run", func() {
		var sess *session.Session

		start := func() {
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())
			transport, err := hooks.Connect(context.Background())
			Expect(err).ToNot(HaveOccurred())

			sess = session.New(logger, transport, time.Second)
			tgt.SetSession(sess)
			Expect(hooks.Run(context.Background(), sess)).To(Succeed())
			DeferCleanup(func() { tgt.Teardown() })
		}

		nextResource := func() string {
			var raw []byte
			Eventually(dialer.transport.Sent).Should(Receive(&raw))
			env, err := envelope.Parse(raw, 1<<20)
			Expect(err).ToNot(HaveOccurred())
			return env.Route.Resource
		}

		It("marks the link connected and starts reporting", func() {
			start()

			Expect(tgt.Ready()).To(BeTrue())
			Expect(tgt.ObservedIP()).To(Equal("10.0.0.1"))
			Expect(tracker.Current()).To(Equal(connstatus.Connected))

			seen := map[string]bool{}
			for i := 0; i < 4; i++ {
				seen[nextResource()] = true
			}
			Expect(seen).To(HaveKey("node"))
			Expect(seen).To(HaveKey("websocket/sys_info"))
			Expect(seen).To(HaveKey("websocket/alarm"))
		})

		It("promotes a connected status to ready", func() {
			netSource.net.Status = "connected"
			start()
			Expect(netSource.Statuses()).To(ContainElement("ready"))
		})

		It("does not report connected for the initial account", func() {
			netSource.net.Account = config.InitialAccount
			start()
			Expect(tracker.Current()).To(Equal(connstatus.NotConfigured))
		})

		It("pushes the controller info when the companion is ready", func() {
			mefReady = true
			start()
			Expect(pushed).To(HaveLen(1))
			Expect(pushed[0].IP).To(Equal("10.0.0.1"))
		})

		It("routes inbound frames and relays companion messages", func() {
			start()

			dialer.transport.Frames <- []byte("from controller")
			Eventually(inbound.frames).Should(Receive(Equal([]byte("from controller"))))

			fromMef.Put([]byte("from companion"))
			Eventually(func() bool {
				select {
				case raw := <-dialer.transport.Sent:
					return string(raw) == "from companion"
				default:
					return false
				}
			}).Should(BeTrue())
		})

		It("ends the session when the controller hangs up", func() {
			start()
			dialer.transport.Close(fmt.Errorf("gone"))
			Eventually(sess.Dying()).Should(BeClosed())
		})
	})
})

var _ = Describe("Mef Hooks", func() {
	logger := logger.MockLogger(GinkgoWriter)

	var mefConfig *fakeMefConfig
	var companion *fakeCompanion
	var dialer *fakeDialer
	var tgt *target.Target
	var toMef *queue.Queue
	var pushes int
	var fdReady readyFlag
	var hooks *MefHooks

	build := func() {
		hooks = NewMefHooks(logger, MefDeps{
			Config:     mefConfig,
			Companion:  companion,
			Fd:         fdReady,
			Target:     tgt,
			Dialer:     dialer,
			Dispatcher: dispatcher.New(logger, "mef", nil),
			Router:     &recordingRouter{frames: make(chan []byte, 8)},
			Bucket:     tokenbucket.New(tokenbucket.DefaultCapacity, tokenbucket.DefaultRefill),
			ToMef:      toMef,
			PushFdInfo: func() error { pushes++; return nil },
		})
	}

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "mefhooks")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })

		mefConfig = &fakeMefConfig{
			mef: config.MefConfig{
				Host:       config.DefaultMefHost,
				Port:       config.DefaultMefPort,
				RootCAPath: writeCA(dir),
			},
			fdReady: true,
		}
		companion = &fakeCompanion{installed: true, reachable: true}
		dialer = &fakeDialer{transport: transporter.NewFakeTransporter()}
		tgt = target.New(logger, target.MEF, fastTeardown)
		toMef = queue.New("to-mef")
		pushes = 0
		fdReady = true
		build()
	})

	Context("Preconditions", func() {
		It("skips when the companion is not installed", func() {
			companion.installed = false
			Expect(hooks.Preconditions(context.Background())).To(BeFalse())
		})

		It("stops a running companion under local management", func() {
			mefConfig.webMode = true
			companion.mefActive = true
			companion.dockerActive = true

			Expect(hooks.Preconditions(context.Background())).To(BeFalse())
			Expect(companion.stops).To(Equal(1))
		})

		It("waits for the controller link", func() {
			fdReady = false
			build()
			Expect(hooks.Preconditions(context.Background())).To(BeFalse())
		})

		It("waits for the controller to mark the device ready", func() {
			mefConfig.fdReady = false
			Expect(hooks.Preconditions(context.Background())).To(BeFalse())
		})

		It("restarts a companion whose port is closed", func() {
			companion.reachable = false
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())
			Expect(companion.restarts).To(Equal(1))
		})

		It("gives up when the restart fails", func() {
			companion.reachable = false
			companion.restartErr = fmt.Errorf("unit failed")
			_, err := hooks.Preconditions(context.Background())
			Expect(err).To(HaveOccurred())
		})

		It("exchanges the root certificate after a failure", func() {
			tgt.SetFailedReason(connstatus.ReasonCertVerifyFailed)
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())
			Expect(companion.exchanges).To(Equal(1))
		})

		It("records a failed exchange", func() {
			tgt.SetFailedReason(connstatus.ReasonCertVerifyFailed)
			companion.exchangeErr = fmt.Errorf("bad cert")

			_, err := hooks.Preconditions(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(tgt.FailedReason()).To(Equal(connstatus.ReasonExchangeCertFailed))
		})
	})

	Context("Connect", func() {
		It("dials the companion with fast keepalives", func() {
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())
			_, err := hooks.Connect(context.Background())
			Expect(err).ToNot(HaveOccurred())
			Expect(dialer.url).To(Equal("wss://127.0.0.1:10020/"))
			Expect(dialer.options.PingInterval).To(Equal(10 * time.Second))
			Expect(dialer.options.PingTimeout).To(Equal(5 * time.Second))
		})

		It("records an unusable tls setup", func() {
			mefConfig.mef.RootCAPath = ""
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())

			_, err := hooks.Connect(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(tgt.FailedReason()).To(Equal(connstatus.ReasonInvalidSSLContext))
		})
	})

	Context("Run", func() {
		It("clears the failure, marks connected and relays queued frames", func() {
			tgt.SetFailedReason(connstatus.ReasonCertVerifyFailed)
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())
			transport, err := hooks.Connect(context.Background())
			Expect(err).ToNot(HaveOccurred())

			sess := session.New(logger, transport, time.Second)
			tgt.SetSession(sess)
			Expect(hooks.Run(context.Background(), sess)).To(Succeed())
			DeferCleanup(func() { tgt.Teardown() })

			Expect(tgt.FailedReason()).To(Equal(connstatus.ReasonEmpty))
			Expect(tgt.Ready()).To(BeTrue())
			Expect(pushes).To(Equal(1))

			toMef.Put([]byte("for the companion"))
			Eventually(dialer.transport.Sent).Should(Receive(Equal([]byte("for the companion"))))
		})

		It("fails the attempt when the companion hung up before the session started", func() {
			Expect(hooks.Preconditions(context.Background())).To(BeTrue())
			transport, err := hooks.Connect(context.Background())
			Expect(err).ToNot(HaveOccurred())

			sess := session.New(logger, transport, time.Second)
			tgt.SetSession(sess)
			DeferCleanup(func() { tgt.Teardown() })

			transport.Close(fmt.Errorf("companion restarted"))
			Eventually(sess.Dead()).Should(BeClosed())

			err = hooks.Run(context.Background(), sess)
			Expect(connection.IsKind(err, connection.NotConnected)).To(BeTrue())
		})
	})
})
