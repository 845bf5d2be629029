package netwatch

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// 触发源事件
const (
	EventFocus   = "focus"   // 页面重新获得焦点
	EventVisible = "visible" // 页面可见性变为 visible
	EventOnline  = "online"  // 平台报告恢复在线
	EventOffline = "offline" // 平台报告离线
	EventTouch   = "touch"   // 用户触摸/点击
)

// Event UI 或平台转发进来的连接相关事件
type Event struct {
	Kind string `json:"kind"`
}

// Supervisor 连接恢复监督器。网络退化或页面回到前台时触发一次去重的
// "强制重连 + 静默重同步"，同一时刻至多一对在途。
//
// 离线事件只提示用户（没有可同步的对端）；质量样本不稳定时同样只提示，
// 稳定时触发同步。重连/同步内部的错误记日志后吞掉，绝不卡死在途保护位。
type Supervisor struct {
	logger         *zap.Logger
	forceReconnect func()
	silentlySync   func(ctx context.Context) error
	isConnected    func() bool
	warn           func(message string)
	monitor        QualityMonitor

	events   chan Event
	inFlight atomic.Bool
}

// New 创建监督器。warn 与 monitor 可为 nil。
func New(
	logger *zap.Logger,
	forceReconnect func(),
	silentlySync func(ctx context.Context) error,
	isConnected func() bool,
	warn func(message string),
	monitor QualityMonitor,
) *Supervisor {
	return &Supervisor{
		logger:         logger,
		forceReconnect: forceReconnect,
		silentlySync:   silentlySync,
		isConnected:    isConnected,
		warn:           warn,
		monitor:        monitor,
		events:         make(chan Event, 16),
	}
}

// Notify 投递一个触发事件，队列满时丢弃（触发器本就是尽力而为的）
func (s *Supervisor) Notify(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// Run 消费事件流和质量样本直到 ctx 结束
func (s *Supervisor) Run(ctx context.Context) {
	var samples <-chan Sample
	if s.monitor != nil {
		samples = s.monitor.Samples()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-s.events:
			s.handleEvent(ctx, ev)

		case sample := <-samples:
			s.handleSample(ctx, sample)
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventFocus, EventVisible, EventOnline:
		s.TriggerSync(ctx)

	case EventTouch:
		// 触摸只在当前已断开时才值得拉一次
		if s.isConnected != nil && !s.isConnected() {
			s.TriggerSync(ctx)
		}
		if s.monitor != nil {
			s.monitor.Poke(ctx)
		}

	case EventOffline:
		s.raiseWarning("Sin conexión a internet")

	default:
		s.logger.Debug("Ignoring unknown connectivity event", zap.String("kind", ev.Kind))
	}
}

func (s *Supervisor) handleSample(ctx context.Context, sample Sample) {
	if sample.Unstable() {
		s.logger.Warn("Connection quality unstable",
			zap.String("effective_type", sample.EffectiveType),
			zap.Duration("rtt", sample.RTT))
		s.raiseWarning("Conexión inestable, la ubicación puede demorar")
		return
	}

	s.TriggerSync(ctx)
}

// TriggerSync 执行一对 forceReconnect+silentlySync。
// 已有一对在途时本次调用是空操作；保护位在 defer 里释放，任何错误路径
// 都不会让它保持置位。
func (s *Supervisor) TriggerSync(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer s.inFlight.Store(false)

		if s.forceReconnect != nil {
			s.forceReconnect()
		}
		if s.silentlySync != nil {
			if err := s.silentlySync(ctx); err != nil {
				s.logger.Warn("Silent resync failed", zap.Error(err))
			}
		}
	}()
}

func (s *Supervisor) raiseWarning(message string) {
	if s.warn != nil {
		s.warn(message)
	}
}
