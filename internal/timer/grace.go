package timer

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// GraceTimer 宽限期倒计时。给定一个绝对截止时间，每秒重算一次剩余整秒数
// remaining = max(0, floor(deadline-now))，归零时停止并恰好触发一次 OnElapsed。
//
// Update 是唯一入口：guard 为 true（资源仍活跃）或 deadline 为空时倒计时
// 停止；新的截止时间总是替换旧的（last write wins）。Cancel 之后不会再有
// 任何 tick 触达回调。
type GraceTimer struct {
	logger    *zap.Logger
	onTick    func(remaining int)
	onElapsed func()

	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	running  bool
	deadline time.Time
}

// NewGraceTimer 创建倒计时，回调均可为 nil
func NewGraceTimer(logger *zap.Logger, onTick func(remaining int), onElapsed func()) *GraceTimer {
	return &GraceTimer{
		logger:    logger,
		onTick:    onTick,
		onElapsed: onElapsed,
		interval:  time.Second,
		now:       time.Now,
	}
}

// SetInterval 覆盖 tick 间隔（用于测试）
func (g *GraceTimer) SetInterval(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.interval = d
}

// Update 根据 guard 和截止时间重估倒计时。
// guard 为 false 且 deadline 非空时启动（替换之前的倒计时），否则取消。
func (g *GraceTimer) Update(guardActive bool, deadline *time.Time) {
	if guardActive || deadline == nil {
		g.Cancel()
		return
	}
	g.Start(*deadline)
}

// Start 以给定截止时间启动倒计时，替换进行中的那个
func (g *GraceTimer) Start(deadline time.Time) {
	g.mu.Lock()

	if g.running {
		close(g.stopCh)
	}

	stopCh := make(chan struct{})
	g.stopCh = stopCh
	g.running = true
	g.deadline = deadline
	interval := g.interval
	g.mu.Unlock()

	go g.run(deadline, interval, stopCh)
}

// Cancel 停止倒计时并释放定时器资源，可重复调用
func (g *GraceTimer) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		close(g.stopCh)
		g.running = false
		g.deadline = time.Time{}
	}
}

// Remaining 当前剩余整秒数，未运行时为 0
func (g *GraceTimer) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return 0
	}
	return remainingSeconds(g.deadline, g.now())
}

func (g *GraceTimer) run(deadline time.Time, interval time.Duration, stopCh chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 启动时先报一次初始值，UI 不必等首个 tick
	g.fireTick(remainingSeconds(deadline, g.now()), stopCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			left := remainingSeconds(deadline, g.now())
			if !g.fireTick(left, stopCh) {
				return
			}
			if left <= 0 {
				g.elapse(stopCh)
				return
			}
		}
	}
}

// fireTick 持锁确认未被取消后触发回调，返回是否还在运行
func (g *GraceTimer) fireTick(remaining int, stopCh chan struct{}) bool {
	g.mu.Lock()
	cancelled := g.stopCh != stopCh || !g.running
	g.mu.Unlock()

	if cancelled {
		return false
	}
	if g.onTick != nil {
		g.onTick(remaining)
	}
	return true
}

func (g *GraceTimer) elapse(stopCh chan struct{}) {
	g.mu.Lock()
	if g.stopCh != stopCh || !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.deadline = time.Time{}
	g.mu.Unlock()

	if g.logger != nil {
		g.logger.Debug("Grace period elapsed")
	}
	if g.onElapsed != nil {
		g.onElapsed()
	}
}

func remainingSeconds(deadline, now time.Time) int {
	left := int(deadline.Sub(now) / time.Second)
	if left < 0 {
		return 0
	}
	return left
}
