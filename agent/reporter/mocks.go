package reporter

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type MockProviders struct {
	mock.Mock
}

func (m *MockProviders) SysInfo(ctx context.Context) (any, error) {
	args := m.Called()
	return args.Get(0), args.Error(1)
}

func (m *MockProviders) SysStatus(ctx context.Context) (any, error) {
	args := m.Called()
	return args.Get(0), args.Error(1)
}

func (m *MockProviders) Alarms(ctx context.Context) (any, error) {
	args := m.Called()
	return args.Get(0), args.Error(1)
}

func (m *MockProviders) Account(ctx context.Context) (AccountInfo, error) {
	args := m.Called()
	return args.Get(0).(AccountInfo), args.Error(1)
}

// MockLink records the connected flag and connecting transitions a reporter makes
type MockLink struct {
	lock        sync.Mutex
	connected   bool
	connectings int
}

func NewMockLink(connected bool) *MockLink {
	return &MockLink{connected: connected}
}

func (m *MockLink) SetConnected(connected bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.connected = connected
}

func (m *MockLink) Connected() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.connected
}

func (m *MockLink) TransToConnecting() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.connectings++
}

func (m *MockLink) Connectings() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.connectings
}
