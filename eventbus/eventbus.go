// Package eventbus 提供进程内的领域事件总线。
//
// Publish 先把事件记录追加到历史，再并发执行该类型的全部处理器。
// 处理器之间相互隔离：返回错误或 panic 只会在 EventRecord 中留下一条失败结果，
// 不影响其他处理器，也不会让 Publish 失败。
//
//	bus, _ := eventbus.New(&eventbus.Config{MaxHistory: 10000})
//	cancel := bus.Subscribe("order.created", "mailer", func(ctx context.Context, e eventbus.DomainEvent) error {
//		return sendMail(ctx, e)
//	})
//	defer cancel()
//
//	rec, err := bus.Publish(ctx, eventbus.DomainEvent{Type: "order.created", AggregateID: "o-1"})
//
// 历史支持按类型、按聚合 ID 查询，以及按时间窗口统计。
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/idgen"
	"github.com/ceyewan/meshlink/metrics"
	"github.com/ceyewan/meshlink/xerrors"
)

// Handler 事件处理器，收到的是事件副本
type Handler func(ctx context.Context, event DomainEvent) error

type subscription struct {
	id   uint64
	name string
	fn   Handler
}

// Bus 本地事件总线
type Bus struct {
	cfg    Config
	logger clog.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	closed   bool
	inflight sync.WaitGroup

	histMu  sync.RWMutex
	history []*EventRecord

	events   metrics.Counter
	results  metrics.Counter
	duration metrics.Histogram
}

// New 创建事件总线，cfg 为 nil 时使用零值配置
func New(cfg *Config, opts ...Option) (*Bus, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
		newID:  idgen.NewUUIDV7,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Bus{
		cfg:      *cfg,
		logger:   o.logger,
		now:      o.now,
		newID:    o.newID,
		handlers: make(map[string][]subscription),
		events:   metrics.MustCounter(o.meter, "eventbus_events_total", "发布的事件数"),
		results:  metrics.MustCounter(o.meter, "eventbus_handler_results_total", "处理器执行结果"),
		duration: metrics.MustHistogram(o.meter, "eventbus_handler_duration_seconds", "处理器耗时",
			metrics.WithUnit("s")),
	}, nil
}

// Subscribe 注册处理器，name 用于结果记录，为空时自动生成。返回的函数用于取消
func (b *Bus) Subscribe(eventType, name string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if name == "" {
		name = fmt.Sprintf("handler-%d", id)
	}
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, name: name, fn: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

func (b *Bus) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[eventType]
	kept := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.handlers, eventType)
		return
	}
	b.handlers[eventType] = kept
}

// Handlers 某类型已注册的处理器名称，按注册顺序
func (b *Bus) Handlers(eventType string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers[eventType]))
	for _, s := range b.handlers[eventType] {
		names = append(names, s.name)
	}
	return names
}

// Publish 记录事件并执行处理器，全部处理器结束后返回完整记录
//
// 只有事件无效或总线已关闭时返回错误，处理器失败体现在记录中。
func (b *Bus) Publish(ctx context.Context, event DomainEvent) (*EventRecord, error) {
	rec, subs, err := b.begin(event, false)
	if err != nil {
		return nil, err
	}
	defer b.inflight.Done()

	b.dispatch(ctx, rec, subs)
	snapshot := b.snapshot(rec)
	return &snapshot, nil
}

// PublishAsync 记录事件后立即返回，处理器在后台执行
//
// 后台执行不跟随 ctx 取消，Close 会等待其结束。
func (b *Bus) PublishAsync(ctx context.Context, event DomainEvent) (DomainEvent, error) {
	rec, subs, err := b.begin(event, true)
	if err != nil {
		return DomainEvent{}, err
	}
	go func() {
		defer b.inflight.Done()
		b.dispatch(context.WithoutCancel(ctx), rec, subs)
	}()
	return rec.Event.clone(), nil
}

// begin 校验事件、填充默认字段并追加到历史
func (b *Bus) begin(event DomainEvent, async bool) (*EventRecord, []subscription, error) {
	if event.Type == "" {
		return nil, nil, xerrors.Wrapf(ErrInvalidEvent, "event type is required")
	}
	if event.ID == "" {
		event.ID = b.newID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}
	if event.Version == 0 {
		event.Version = 1
	}
	event = event.clone()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, nil, ErrClosed
	}
	b.inflight.Add(1)
	subs := b.handlers[event.Type]
	b.mu.RUnlock()

	rec := &EventRecord{Event: event, Results: make([]HandlerResult, 0, len(subs))}
	b.histMu.Lock()
	b.history = append(b.history, rec)
	if limit := b.cfg.MaxHistory; limit > 0 && len(b.history) > limit {
		trimmed := make([]*EventRecord, limit)
		copy(trimmed, b.history[len(b.history)-limit:])
		b.history = trimmed
	}
	b.histMu.Unlock()

	b.events.Inc(context.Background(), metrics.L(metrics.LabelEvent, event.Type))
	b.logger.Debug("event published",
		clog.String("event_id", event.ID),
		clog.String("type", event.Type),
		clog.String("aggregate_id", event.AggregateID),
		clog.Int("handlers", len(subs)),
		clog.Bool("async", async))
	return rec, subs, nil
}

func (b *Bus) dispatch(ctx context.Context, rec *EventRecord, subs []subscription) {
	if len(subs) == 0 {
		return
	}
	var g errgroup.Group
	if b.cfg.MaxConcurrency > 0 {
		g.SetLimit(b.cfg.MaxConcurrency)
	}
	for _, s := range subs {
		g.Go(func() error {
			res := b.run(ctx, rec.Event, s)
			b.histMu.Lock()
			rec.Results = append(rec.Results, res)
			b.histMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Bus) run(ctx context.Context, event DomainEvent, s subscription) HandlerResult {
	start := b.now()
	if b.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.HandlerTimeout)
		defer cancel()
	}

	err := b.invoke(ctx, event.clone(), s.fn)
	res := HandlerResult{
		Handler:     s.name,
		Success:     err == nil,
		ProcessedAt: b.now(),
	}
	res.Duration = res.ProcessedAt.Sub(start)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		res.Error = err.Error()
		res.Err = fmt.Errorf("%w: %s: %w", ErrHandler, s.name, err)
		b.logger.Warn("handler failed",
			clog.String("event_id", event.ID),
			clog.String("type", event.Type),
			clog.String("handler", s.name),
			clog.Error(err))
	}
	b.results.Inc(ctx, metrics.L(metrics.LabelEvent, event.Type), metrics.L(metrics.LabelOutcome, outcome))
	b.duration.Record(ctx, res.Duration.Seconds(), metrics.L(metrics.LabelEvent, event.Type))
	return res
}

func (b *Bus) invoke(ctx context.Context, event DomainEvent, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, event)
}

func (b *Bus) snapshot(rec *EventRecord) EventRecord {
	b.histMu.RLock()
	defer b.histMu.RUnlock()
	return rec.clone()
}

// History 全部事件记录，按发布顺序
func (b *Bus) History() []EventRecord {
	return b.filter(func(*EventRecord) bool { return true })
}

// ByType 某类型的事件记录
func (b *Bus) ByType(eventType string) []EventRecord {
	return b.filter(func(r *EventRecord) bool { return r.Event.Type == eventType })
}

// ByAggregate 某聚合的事件记录
func (b *Bus) ByAggregate(aggregateID string) []EventRecord {
	return b.filter(func(r *EventRecord) bool { return r.Event.AggregateID == aggregateID })
}

// Get 按事件 ID 查询记录
func (b *Bus) Get(eventID string) (EventRecord, bool) {
	recs := b.filter(func(r *EventRecord) bool { return r.Event.ID == eventID })
	if len(recs) == 0 {
		return EventRecord{}, false
	}
	return recs[0], true
}

func (b *Bus) filter(match func(*EventRecord) bool) []EventRecord {
	b.histMu.RLock()
	defer b.histMu.RUnlock()
	out := make([]EventRecord, 0)
	for _, r := range b.history {
		if match(r) {
			out = append(out, r.clone())
		}
	}
	return out
}

// Stats 统计 [since, until] 内的事件，零值表示不限
func (b *Bus) Stats(since, until time.Time) Stats {
	st := Stats{ByType: make(map[string]int), ByDate: make(map[string]int)}

	b.histMu.RLock()
	defer b.histMu.RUnlock()
	for _, r := range b.history {
		ts := r.Event.Timestamp
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		st.Total++
		st.ByType[r.Event.Type]++
		st.ByDate[ts.UTC().Format(time.DateOnly)]++
	}
	return st
}

// Close 拒绝新事件并等待进行中的处理器结束
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
