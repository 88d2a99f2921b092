package leg

import (
	"context"
	"encoding/json"
	"sync"
)

// Mock is an in-memory Leg for testing. It records every frame sent.
type Mock struct {
	mu sync.RWMutex

	role  Role
	state State

	// Configurable behavior
	SendFunc  func(data []byte, binary bool) error
	CloseFunc func() error

	// Captured calls for assertions
	Text       [][]byte
	Binary     [][]byte
	CloseCalls int
}

// NewMock creates an open mock leg.
func NewMock(role Role) *Mock {
	return &Mock{role: role, state: StateOpen}
}

// Role implements Leg.
func (m *Mock) Role() Role {
	return m.role
}

// State implements Leg.
func (m *Mock) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetState overrides the reported state.
func (m *Mock) SetState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// SendText implements Leg.
func (m *Mock) SendText(data []byte) error {
	return m.record(data, false)
}

// SendJSON implements Leg.
func (m *Mock) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.record(data, false)
}

// SendBinary implements Leg.
func (m *Mock) SendBinary(data []byte) error {
	return m.record(data, true)
}

func (m *Mock) record(data []byte, binary bool) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(data, binary); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return ErrClosed
	}
	if binary {
		m.Binary = append(m.Binary, data)
	} else {
		m.Text = append(m.Text, data)
	}
	return nil
}

// Close implements Leg.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.CloseCalls++
	if m.state == StateOpen || m.state == StateConnecting {
		m.state = StateClosed
	}
	m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// TextFrames returns a copy of the text frames sent so far.
func (m *Mock) TextFrames() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.Text))
	copy(out, m.Text)
	return out
}

// BinaryFrames returns a copy of the binary frames sent so far.
func (m *Mock) BinaryFrames() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.Binary))
	copy(out, m.Binary)
	return out
}

// Closed reports whether Close has been called.
func (m *Mock) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CloseCalls > 0
}

// MockDialer hands out mock legs and emits EventOpen for each.
type MockDialer struct {
	mu sync.Mutex

	// DialFunc overrides the default behavior when set.
	DialFunc func(ctx context.Context, role Role, sink Sink) (Leg, error)

	// Legs holds the mock created for each role.
	Legs map[Role]*Mock
}

// NewMockDialer creates a MockDialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{Legs: make(map[Role]*Mock)}
}

// Dial implements Dialer.
func (d *MockDialer) Dial(ctx context.Context, role Role, sink Sink) (Leg, error) {
	if d.DialFunc != nil {
		return d.DialFunc(ctx, role, sink)
	}
	m := NewMock(role)
	d.mu.Lock()
	d.Legs[role] = m
	d.mu.Unlock()
	sink(Event{Role: role, Kind: EventOpen, Leg: m})
	return m, nil
}

// Leg returns the mock opened for role, or nil.
func (d *MockDialer) Leg(role Role) *Mock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Legs[role]
}
