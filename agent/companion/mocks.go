package companion

import (
	"github.com/kardianos/service"
	"github.com/stretchr/testify/mock"
)

// mocked version of a controlled system service
type MockServiceControl struct {
	mock.Mock
}

func (m *MockServiceControl) Status() (service.Status, error) {
	args := m.Called()
	return args.Get(0).(service.Status), args.Error(1)
}

func (m *MockServiceControl) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockServiceControl) Stop() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockServiceControl) Restart() error {
	args := m.Called()
	return args.Error(0)
}
