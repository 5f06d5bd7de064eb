package broker

import (
	"context"
	"sync"
)

// Memory is an in-process Broker. It connects the worker and the gateway
// when both run inside one process without an external broker.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrNotConnected
	}
	handlers := make([]Handler, 0, len(m.subs[channel]))
	for sub := range m.subs[channel] {
		handlers = append(handlers, sub.handler)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		data := make([]byte, len(payload))
		copy(data, payload)
		h(data)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string, handler Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrNotConnected
	}
	sub := &memorySubscription{broker: m, channel: channel, handler: handler}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySubscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	return sub, nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrNotConnected
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[*memorySubscription]struct{})
	return nil
}

type memorySubscription struct {
	broker  *Memory
	channel string
	handler Handler
}

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	delete(s.broker.subs[s.channel], s)
	return nil
}
