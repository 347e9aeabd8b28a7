package websocket

import (
	"net/http"
	"net/http/httptest"

	"github.com/Ascend/MEF-sub001/edgelib/logger"
	gorilla "github.com/gorilla/websocket"
)

// MockWebsocketServer plays a management peer: it records the handshake
// headers, echoes every frame back and can refuse the upgrade the way the
// controller does
type MockWebsocketServer struct {
	logger *logger.Logger
	server *httptest.Server

	Addr          string
	ReceivedBytes chan []byte
	Headers       chan http.Header

	// When set the upgrade is refused with this status and body
	RejectStatus int
	RejectBody   string
}

func NewMockWebsocketServer(logger *logger.Logger) *MockWebsocketServer {
	m := &MockWebsocketServer{
		logger:        logger,
		ReceivedBytes: make(chan []byte, 16),
		Headers:       make(chan http.Header, 1),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	m.Addr = m.server.URL
	return m
}

func (m *MockWebsocketServer) Shutdown() {
	m.server.CloseClientConnections()
	m.server.Close()
}

func (m *MockWebsocketServer) handle(w http.ResponseWriter, r *http.Request) {
	select {
	case m.Headers <- r.Header.Clone():
	default:
	}

	if m.RejectStatus != 0 {
		w.WriteHeader(m.RejectStatus)
		w.Write([]byte(m.RejectBody))
		return
	}

	conn, err := (&gorilla.Upgrader{}).Upgrade(w, r, nil)
	if err != nil {
		m.logger.Errorf("Mock peer failed to upgrade: %s", err)
		return
	}
	defer conn.Close()

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			m.logger.Debugf("Mock peer stopped reading: %s", err)
			return
		}

		m.ReceivedBytes <- frame

		if err := conn.WriteMessage(kind, frame); err != nil {
			m.logger.Debugf("Mock peer failed to echo: %s", err)
			return
		}
	}
}
