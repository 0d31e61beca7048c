package registry

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/xerrors"
)

// Janitor 周期清理心跳超时的实例
type Janitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartJanitor 启动清理协程，ctx 取消或调用 Stop 后退出。interval 与 timeout 必须为正
func StartJanitor(ctx context.Context, r *Registry, interval, timeout time.Duration) (*Janitor, error) {
	if interval <= 0 || timeout <= 0 {
		return nil, xerrors.Wrapf(xerrors.ErrInvalidInput,
			"registry: janitor needs positive interval and timeout, got %s and %s", interval, timeout)
	}

	ctx, cancel := context.WithCancel(ctx)
	j := &Janitor{
		registry: r,
		interval: interval,
		timeout:  timeout,
		cancel:   cancel,
	}

	j.wg.Add(1)
	go j.run(ctx)

	r.logger.Info("registry janitor started",
		clog.Duration("interval", interval),
		clog.Duration("timeout", timeout))
	return j, nil
}

func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.registry.logger.Debug("registry janitor stopped")
			return
		case <-ticker.C:
			if n := j.registry.Cleanup(j.timeout); n > 0 {
				j.registry.logger.Debug("janitor cleanup finished", clog.Int("removed", n))
			}
		}
	}
}

// Stop 停止并等待协程退出
func (j *Janitor) Stop() {
	j.cancel()
	j.wg.Wait()
}
