package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, cfg *Config) *Manager {
	t.Helper()
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{WindowSize: 10, FailureRatio: 1.5})
	assert.Error(t, err)

	m := newManager(t, &Config{})
	assert.Equal(t, uint32(5), m.cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, m.cfg.Timeout)

	m = newManager(t, &Config{WindowSize: 10})
	assert.Equal(t, 0.5, m.cfg.FailureRatio)
	assert.Equal(t, 5, m.cfg.MinimumRequests)
}

func TestBreaker_Lifecycle(t *testing.T) {
	m := newManager(t, &Config{FailureThreshold: 3, Timeout: 50 * time.Millisecond})
	b := m.Get("order", "a")

	assert.False(t, b.IsOpen())
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 3, b.Snapshot().Failures)
	assert.False(t, b.Snapshot().LastFailure.IsZero())

	time.Sleep(70 * time.Millisecond)
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateHalfOpen, b.State())
	// 半开状态保持到有结果为止
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().Failures)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	m := newManager(t, &Config{FailureThreshold: 2, Timeout: 40 * time.Millisecond})
	b := m.Get("order", "a")

	b.RecordFailure()
	b.RecordFailure()
	require.True(t, b.IsOpen())

	time.Sleep(60 * time.Millisecond)
	require.False(t, b.IsOpen())

	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)
	assert.False(t, b.IsOpen())
}

func TestBreaker_SuccessForcesClosedFromOpen(t *testing.T) {
	m := newManager(t, &Config{FailureThreshold: 1, Timeout: time.Hour})
	b := m.Get("order", "a")

	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.RecordSuccess()
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().Failures)

	// 重建后仍然按阈值打开
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	m := newManager(t, &Config{FailureThreshold: 3, Timeout: time.Hour})
	b := m.Get("order", "a")

	for i := 0; i < 10; i++ {
		b.RecordFailure()
		b.RecordFailure()
		b.RecordSuccess()
	}
	assert.False(t, b.IsOpen())
}

func TestBreaker_TrickleFailuresTripByDefault(t *testing.T) {
	m := newManager(t, &Config{FailureThreshold: 3, Timeout: time.Hour})
	b := m.Get("order", "a")

	// 默认不衰减：间隔很久的零星失败最终也会打开
	for i := 0; i < 3; i++ {
		b.RecordFailure()
		time.Sleep(30 * time.Millisecond)
	}
	assert.True(t, b.IsOpen())
}

func TestBreaker_IntervalDecay(t *testing.T) {
	m := newManager(t, &Config{FailureThreshold: 3, Timeout: time.Hour, Interval: 20 * time.Millisecond})
	b := m.Get("order", "a")

	for i := 0; i < 5; i++ {
		b.RecordFailure()
		time.Sleep(40 * time.Millisecond)
	}
	assert.False(t, b.IsOpen())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreaker_FailureWhileOpenRestartsTimeout(t *testing.T) {
	m := newManager(t, &Config{FailureThreshold: 1, Timeout: 200 * time.Millisecond})
	b := m.Get("order", "a")

	b.RecordFailure()
	require.True(t, b.IsOpen())

	// 打开前发出的调用晚到并失败
	time.Sleep(120 * time.Millisecond)
	b.RecordFailure()

	time.Sleep(120 * time.Millisecond)
	assert.True(t, b.IsOpen(), "cooldown counts from the last failure")
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 2, b.Snapshot().Failures)

	time.Sleep(120 * time.Millisecond)
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_IntervalResetsSnapshotFailures(t *testing.T) {
	m := newManager(t, &Config{FailureThreshold: 5, Timeout: time.Hour, Interval: 20 * time.Millisecond})
	b := m.Get("order", "a")

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, 2, b.Snapshot().Failures)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, b.Snapshot().Failures)

	b.RecordFailure()
	assert.Equal(t, 1, b.Snapshot().Failures)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_WindowMode(t *testing.T) {
	cfg := &Config{FailureThreshold: 2, Timeout: time.Hour, WindowSize: 10, FailureRatio: 0.5, MinimumRequests: 4}

	// 交替失败：连续计数永远到不了 2，但失败率达到 50%
	alternating := func(b *Breaker) {
		for i := 0; i < 5; i++ {
			if i%2 == 0 {
				b.RecordFailure()
			} else {
				b.RecordSuccess()
			}
		}
	}

	windowed := newManager(t, cfg).Get("order", "a")
	alternating(windowed)
	assert.True(t, windowed.IsOpen())
	assert.InDelta(t, 0.6, windowed.Snapshot().FailureRate, 0.001)

	counted := newManager(t, &Config{FailureThreshold: 2, Timeout: time.Hour}).Get("order", "a")
	alternating(counted)
	assert.False(t, counted.IsOpen())
}

func TestBreaker_WindowIgnoresTrickle(t *testing.T) {
	m := newManager(t, &Config{Timeout: time.Hour, WindowSize: 20, FailureRatio: 0.5, MinimumRequests: 5})
	b := m.Get("order", "a")

	for i := 0; i < 100; i++ {
		if i%10 == 0 {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
	}
	assert.False(t, b.IsOpen())
}

func TestWindow(t *testing.T) {
	w := newWindow(4)
	total, rate := w.stats()
	assert.Equal(t, 0, total)
	assert.Equal(t, 0.0, rate)

	w.record(false)
	w.record(false)
	w.record(true)
	w.record(true)
	total, rate = w.stats()
	assert.Equal(t, 4, total)
	assert.Equal(t, 0.5, rate)

	// 覆盖最早的两次失败
	w.record(true)
	w.record(true)
	_, rate = w.stats()
	assert.Equal(t, 0.0, rate)

	w.reset()
	total, _ = w.stats()
	assert.Equal(t, 0, total)
}

func TestManager(t *testing.T) {
	m := newManager(t, &Config{FailureThreshold: 1, Timeout: time.Hour})

	assert.Equal(t, StateClosed, m.State("order", "a"))
	assert.Empty(t, m.Stats())

	m.RecordFailure("order", "a")
	m.RecordSuccess("order", "b")
	assert.True(t, m.IsOpen("order", "a"))
	assert.False(t, m.IsOpen("order", "b"))
	assert.Same(t, m.Get("order", "a"), m.Get("order", "a"))

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].Instance)
	assert.Equal(t, StateOpen, stats[0].State)
	assert.Equal(t, "b", stats[1].Instance)
	assert.Equal(t, StateClosed, stats[1].State)

	// 不同服务的同名实例互不影响
	assert.False(t, m.IsOpen("user", "a"))
}

func TestManager_Concurrent(t *testing.T) {
	m := newManager(t, &Config{FailureThreshold: 1000, Timeout: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				m.RecordFailure("order", "a")
				m.IsOpen("order", "a")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, m.Get("order", "a").Snapshot().Failures)
	assert.False(t, m.IsOpen("order", "a"))
}
