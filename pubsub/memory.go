package pubsub

import (
	"context"
	"sync"

	"github.com/ceyewan/meshlink/xerrors"
)

// ErrTransportClosed 传输层已关闭
var ErrTransportClosed = xerrors.NewCoded("TRANSPORT_CLOSED", "pubsub: transport closed")

const memoryBufferSize = 256

// MemoryTransport 进程内广播
//
// 每个订阅持有一个带缓冲的队列和一个投递 goroutine，同一订阅内按发布顺序投递。
// 队列满时 Publish 阻塞，直到有空位、订阅取消或 ctx 结束。
type MemoryTransport struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*memorySubscription
	nextID uint64
	closed bool
}

// NewMemoryTransport 创建进程内传输层
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{topics: make(map[string]map[uint64]*memorySubscription)}
}

// Publish 实现 Transport
func (t *MemoryTransport) Publish(ctx context.Context, topic string, data []byte) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	subs := make([]*memorySubscription, 0, len(t.topics[topic]))
	for _, s := range t.topics[topic] {
		subs = append(subs, s)
	}
	t.mu.RUnlock()

	for _, s := range subs {
		buf := make([]byte, len(data))
		copy(buf, data)
		select {
		case s.queue <- buf:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe 实现 Transport
func (t *MemoryTransport) Subscribe(_ context.Context, topic string, handler func([]byte)) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}

	t.nextID++
	s := &memorySubscription{
		t:       t,
		topic:   topic,
		id:      t.nextID,
		queue:   make(chan []byte, memoryBufferSize),
		done:    make(chan struct{}),
		handler: handler,
	}
	if t.topics[topic] == nil {
		t.topics[topic] = make(map[uint64]*memorySubscription)
	}
	t.topics[topic][s.id] = s
	go s.loop()
	return s, nil
}

// Close 取消所有订阅
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var subs []*memorySubscription
	for _, m := range t.topics {
		for _, s := range m {
			subs = append(subs, s)
		}
	}
	t.topics = make(map[string]map[uint64]*memorySubscription)
	t.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

func (t *MemoryTransport) remove(s *memorySubscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.topics[s.topic]; ok {
		delete(m, s.id)
		if len(m) == 0 {
			delete(t.topics, s.topic)
		}
	}
}

type memorySubscription struct {
	t       *MemoryTransport
	topic   string
	id      uint64
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
	handler func([]byte)
}

func (s *memorySubscription) loop() {
	for {
		select {
		case data := <-s.queue:
			s.handler(data)
		case <-s.done:
			return
		}
	}
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscription) Unsubscribe() error {
	s.t.remove(s)
	s.stop()
	return nil
}
