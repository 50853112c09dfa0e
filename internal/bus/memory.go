package bus

import (
	"sync"
)

// MemoryBus 进程内fan-out实现；本地开发与单测默认使用。
// 订阅者channel带缓冲，写满即丢帧（与外部总线的at-most-once语义一致）
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event
	nextID int
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]chan Event)}
}

func (b *MemoryBus) Publish(channel string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs[channel] {
		select {
		case ch <- event:
		default:
			// 消费太慢，丢帧
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(channel string) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan Event)
	}
	b.subs[channel][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[channel][id]; ok {
			delete(b.subs[channel], id)
			close(sub)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
		}
	}
	return ch, cancel, nil
}

func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[string]map[int]chan Event)
}
