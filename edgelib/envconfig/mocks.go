package envconfig

import "github.com/stretchr/testify/mock"

// mocked version of the EnvConfig
type MockEnvConfig struct {
	mock.Mock
}

func (m *MockEnvConfig) Set(id string, entry *Entry) (string, error) {
	args := m.Called(id, entry)
	return args.String(0), args.Error(1)
}

func (m *MockEnvConfig) Get(id string) (string, error) {
	args := m.Called(id)
	return args.String(0), args.Error(1)
}

func (m *MockEnvConfig) Delete(id string, hard bool) error {
	args := m.Called(id, hard)
	return args.Error(0)
}

func (m *MockEnvConfig) Path() string {
	args := m.Called()
	return args.String(0)
}
