package timer

import (
	"sync"
	"time"
)

// SafeTimeout 一次性延迟回调。同一持有者再次 Schedule 会先取消上一个
// （last write wins），Stop 保证持有者销毁时不留下游离的定时器。
type SafeTimeout struct {
	mu  sync.Mutex
	t   *time.Timer
	gen uint64
}

// Schedule 在 delay 之后执行 fn，自动取消之前排定的回调
func (s *SafeTimeout) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.t != nil {
		s.t.Stop()
	}

	s.gen++
	gen := s.gen
	s.t = time.AfterFunc(delay, func() {
		// time.Timer.Stop 不保证拦截已经出队的回调，用代号再挡一次
		s.mu.Lock()
		stale := gen != s.gen
		s.mu.Unlock()
		if !stale {
			fn()
		}
	})
}

// Stop 取消排定中的回调，可重复调用
func (s *SafeTimeout) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
}
