package mesh

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// 启动阶段，越小越先启动，停止顺序相反
const (
	phaseObservability = 0
	phaseTransport     = 10
	phaseComponent     = 20
)

type lifecycleItem struct {
	name  string
	phase int
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

// lifecycle 按阶段启停后台组件
type lifecycle struct {
	items   []lifecycleItem
	started []lifecycleItem
}

func (l *lifecycle) register(item lifecycleItem) {
	l.items = append(l.items, item)
}

func (l *lifecycle) startAll(ctx context.Context) error {
	sort.SliceStable(l.items, func(i, j int) bool { return l.items[i].phase < l.items[j].phase })
	for _, item := range l.items {
		if item.start != nil {
			if err := item.start(ctx); err != nil {
				return &LifecycleError{Phase: item.phase, Name: item.name, Cause: err}
			}
		}
		l.started = append(l.started, item)
	}
	return nil
}

// stopAll 逆序停止已启动的组件，汇总错误
func (l *lifecycle) stopAll(ctx context.Context) error {
	var errs []error
	for i := len(l.started) - 1; i >= 0; i-- {
		item := l.started[i]
		if item.stop == nil {
			continue
		}
		if err := item.stop(ctx); err != nil {
			errs = append(errs, &LifecycleError{Phase: item.phase, Name: item.name, Cause: err})
		}
	}
	l.started = nil
	return errors.Join(errs...)
}

// abort 构造失败时按逆序释放所有已注册的组件
func (l *lifecycle) abort(ctx context.Context) error {
	l.started = append([]lifecycleItem(nil), l.items...)
	return l.stopAll(ctx)
}

// LifecycleError 组件启停失败
type LifecycleError struct {
	Phase int
	Name  string
	Cause error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle error in phase %d [%s]: %v", e.Phase, e.Name, e.Cause)
}

func (e *LifecycleError) Unwrap() error {
	return e.Cause
}
