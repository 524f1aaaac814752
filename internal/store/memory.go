package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/voiceplay/internal/domain"
)

type Memory struct {
	mu         sync.RWMutex
	assistants map[domain.RoomID]int
	calls      map[domain.RoomID]bool // value: paused
}

func NewMemory() *Memory {
	return &Memory{
		assistants: make(map[domain.RoomID]int),
		calls:      make(map[domain.RoomID]bool),
	}
}

func (m *Memory) Assistant(_ context.Context, room domain.RoomID) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.assistants[room]
	return idx, ok, nil
}

func (m *Memory) SetAssistant(_ context.Context, room domain.RoomID, idx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistants[room] = idx
	return nil
}

func (m *Memory) MarkPlaying(_ context.Context, room domain.RoomID, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[room] = paused
	return nil
}

func (m *Memory) RecordActiveCall(_ context.Context, room domain.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[room]; !ok {
		m.calls[room] = false
	}
	return nil
}

func (m *Memory) ForgetCall(_ context.Context, room domain.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calls, room)
	return nil
}

func (m *Memory) ActiveCalls(context.Context) ([]domain.RoomID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RoomID, 0, len(m.calls))
	for r := range m.calls {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Paused reports the last MarkPlaying value of an active call.
func (m *Memory) Paused(_ context.Context, room domain.RoomID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[room], nil
}

func (m *Memory) Close() error { return nil }
