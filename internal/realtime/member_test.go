package realtime

import (
	"errors"
	"sync"
)

// fakeMember records every payload it accepts
type fakeMember struct {
	id string

	mu       sync.Mutex
	payloads [][]byte
	broken   bool
}

func newFakeMember(id string) *fakeMember {
	return &fakeMember{id: id}
}

func (m *fakeMember) ID() string { return m.id }

func (m *fakeMember) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken {
		return errors.New("gone")
	}
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *fakeMember) received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte{}, m.payloads...)
}
