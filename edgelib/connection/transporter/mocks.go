package transporter

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/stretchr/testify/mock"
)

type MockTransporter struct {
	mock.Mock
}

func (m *MockTransporter) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(chan struct{})
}

func (m *MockTransporter) Inbound() <-chan []byte {
	args := m.Called()
	return args.Get(0).(chan []byte)
}

func (m *MockTransporter) Dial(ctx context.Context, connUrl *url.URL, headers http.Header) error {
	args := m.Called(connUrl, headers)
	return args.Error(0)
}

func (m *MockTransporter) Send(ctx context.Context, message []byte) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *MockTransporter) Closed() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockTransporter) Close(reason error) {
	m.Called(reason)
}

func (m *MockTransporter) Err() error {
	args := m.Called()
	return args.Error(0)
}

// FakeTransporter is an in-memory Transporter. Sends are recorded on Sent;
// setting Block makes every Send wait for its context instead.
type FakeTransporter struct {
	lock   sync.Mutex
	closed bool
	err    error
	done   chan struct{}

	Block     bool
	SendErr   error
	Sent      chan []byte
	Frames    chan []byte
	CloseHook func()
}

func NewFakeTransporter() *FakeTransporter {
	return &FakeTransporter{
		done:   make(chan struct{}),
		Sent:   make(chan []byte, 64),
		Frames: make(chan []byte, 64),
	}
}

func (f *FakeTransporter) Done() <-chan struct{} {
	return f.done
}

func (f *FakeTransporter) Err() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.err
}

func (f *FakeTransporter) Inbound() <-chan []byte {
	return f.Frames
}

func (f *FakeTransporter) Dial(ctx context.Context, connUrl *url.URL, headers http.Header) error {
	return nil
}

func (f *FakeTransporter) Send(ctx context.Context, message []byte) error {
	if f.Closed() {
		return ErrTransportClosed
	}
	if f.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent <- message
	return nil
}

func (f *FakeTransporter) Closed() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.closed
}

// Close simulates either side hanging up
func (f *FakeTransporter) Close(reason error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.err = reason
	close(f.done)

	if f.CloseHook != nil {
		f.CloseHook()
	}
}
