package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/nats-io/nats.go"
)

// subscriberChan 订阅者channel的并发守卫：Unsubscribe返回后仍可能有
// 在途回调在写channel，send与close必须互斥，否则panic
type subscriberChan struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newSubscriberChan(buf int) *subscriberChan {
	return &subscriberChan{ch: make(chan Event, buf)}
}

func (s *subscriberChan) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// 消费太慢，丢帧
	}
}

func (s *subscriberChan) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// NATSBus 基于NATS core pub/sub的实现；多进程部署时server与worker
// 通过它共享同一事件流。channel名"run:<id>"不含'.'，可直接作subject
type NATSBus struct {
	nc *nats.Conn
}

func NewNATSBus(url string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("authority13-bus"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}
	return &NATSBus{nc: nc}, nil
}

func (b *NATSBus) Publish(channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := b.nc.Publish(channel, data); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(channel string) (<-chan Event, func(), error) {
	sc := newSubscriberChan(64)
	sub, err := b.nc.Subscribe(channel, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("解析事件失败 channel=%s: %v", channel, err)
			return
		}
		sc.send(ev)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("订阅失败: %w", err)
	}

	cancel := func() {
		_ = sub.Unsubscribe()
		sc.close()
	}
	return sc.ch, cancel, nil
}

func (b *NATSBus) Close() {
	b.nc.Drain()
}
