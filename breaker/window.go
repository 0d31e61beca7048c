package breaker

import "sync"

// window 环形缓冲区记录最近 size 次调用结果
type window struct {
	mu       sync.Mutex
	buffer   []bool // true 成功
	index    int
	total    int
	failures int
}

func newWindow(size int) *window {
	return &window{buffer: make([]bool, size)}
}

func (w *window) record(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	size := len(w.buffer)
	if w.total == size && !w.buffer[w.index] {
		w.failures--
	}
	w.buffer[w.index] = success
	if !success {
		w.failures++
	}
	w.index = (w.index + 1) % size
	if w.total < size {
		w.total++
	}
}

// stats 返回样本数与失败率
func (w *window) stats() (int, float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.total == 0 {
		return 0, 0
	}
	return w.total, float64(w.failures) / float64(w.total)
}

func (w *window) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index, w.total, w.failures = 0, 0, 0
	clear(w.buffer)
}
