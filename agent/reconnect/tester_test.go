package reconnect

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"

	"github.com/Ascend/MEF-sub001/agent/config"
	"github.com/Ascend/MEF-sub001/edgelib/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func controllerError(messageId string) string {
	return `{"error":{"@Message.ExtendedInfo":[{"MessageId":"` + messageId + `"}]}}`
}

var _ = Describe("Connect Tester", func() {
	logger := logger.MockLogger(GinkgoWriter)

	var server *httptest.Server
	var status int
	var body string
	var requests chan *http.Request
	var cache *ResultCache
	var tester *Tester
	var netConfig config.NetConfig

	trustServer := func(config.NetConfig) (*tls.Config, error) {
		pool := x509.NewCertPool()
		pool.AddCert(server.Certificate())
		return &tls.Config{RootCAs: pool}, nil
	}

	BeforeEach(func() {
		status = http.StatusOK
		body = ""
		requests = make(chan *http.Request, 4)

		server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests <- r
			w.WriteHeader(status)
			w.Write([]byte(body))
		}))
		DeferCleanup(server.Close)

		serverUrl, err := url.Parse(server.URL)
		Expect(err).ToNot(HaveOccurred())
		port, err := strconv.Atoi(serverUrl.Port())
		Expect(err).ToNot(HaveOccurred())

		netConfig = config.NetConfig{
			Mode:         config.FusionDirector,
			ServerIP:     "127.0.0.1",
			ServerPort:   port,
			NodeID:       "node-1",
			Account:      "admin",
			Password:     "secret",
			SerialNumber: "SN01",
		}

		cache = &ResultCache{}
		tester = NewTester(logger, cache).WithTLS(trustServer)
	})

	When("the controller accepts the device", func() {
		It("succeeds and sends the identification headers", func() {
			outcome, err := tester.Test(context.Background(), netConfig)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.SameDevice).To(BeFalse())

			var req *http.Request
			Eventually(requests).Should(Receive(&req))
			Expect(req.URL.Path).To(Equal("/websocket/node-1/AccountCheck"))
			Expect(req.Header.Get("Authorization")).To(HavePrefix("Basic "))
			Expect(req.Header.Get("SerialNumber")).To(Equal("SN01"))
			Expect(cache.Get()).To(Equal(ResultNone))
		})
	})

	When("the controller already knows the device", func() {
		It("reports the same device", func() {
			status = http.StatusBadRequest
			body = controllerError(ResultSameDevice)

			outcome, err := tester.Test(context.Background(), netConfig)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.SameDevice).To(BeTrue())
		})
	})

	DescribeTable("rejections",
		func(code int, messageId string, cached string) {
			status = code
			body = controllerError(messageId)

			_, err := tester.Test(context.Background(), netConfig)
			Expect(err).To(HaveOccurred())
			Expect(cache.Get()).To(Equal(cached))
		},
		Entry("insufficient privilege", http.StatusUnauthorized, ResultNoPrivilege, ResultNoPrivilege),
		Entry("authentication failure", http.StatusUnauthorized, ResultAuthFailure, ResultAuthFailure),
		Entry("ip locked", http.StatusForbidden, ResultIPLocked, ResultIPLocked),
		Entry("internal error", http.StatusInternalServerError, ResultInternalError, ResultNone),
		Entry("node id exists", http.StatusBadRequest, ResultNodeIDExist, ResultNone),
		Entry("unknown message", http.StatusBadRequest, "Something.Else", ResultNone),
		Entry("missing endpoint", http.StatusNotFound, "", ResultNone),
	)

	When("the controller certificate is not trusted", func() {
		It("caches the invalid certificate outcome", func() {
			tester.WithTLS(func(config.NetConfig) (*tls.Config, error) {
				return &tls.Config{RootCAs: x509.NewCertPool()}, nil
			})

			_, err := tester.Test(context.Background(), netConfig)
			Expect(err).To(HaveOccurred())
			Expect(cache.CertInvalid()).To(BeTrue())
		})
	})

	When("the controller address refuses connections", func() {
		It("caches the invalid address outcome", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).ToNot(HaveOccurred())
			port := listener.Addr().(*net.TCPAddr).Port
			listener.Close()

			netConfig.ServerPort = port
			_, err = tester.Test(context.Background(), netConfig)
			Expect(err).To(HaveOccurred())
			Expect(cache.IPPortInvalid()).To(BeTrue())
			Expect(requests).ToNot(Receive())
		})
	})
})
