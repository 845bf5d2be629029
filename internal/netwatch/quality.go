package netwatch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// UnstableRTT 超过该往返延迟即判定链路不稳定
const UnstableRTT = 400 * time.Millisecond

// probeDebounce 主动探测的最小间隔
const probeDebounce = 10 * time.Second

// Sample 一次链路质量观测
type Sample struct {
	// EffectiveType 浏览器 Network Information API 风格的等级：
	// slow-2g / 2g / 3g / 4g。主动探测固定上报 4g，只看 RTT。
	EffectiveType string
	RTT           time.Duration
}

// Unstable 低于 4g，或 4g 但 RTT 超限，都算不稳定
func (s Sample) Unstable() bool {
	if s.EffectiveType != "4g" {
		return true
	}
	return s.RTT > UnstableRTT
}

// QualityMonitor 链路质量来源的策略接口，启动时按平台能力二选一
type QualityMonitor interface {
	// Samples 质量观测流
	Samples() <-chan Sample
	// Poke 请求一次按需观测（允许实现去抖或忽略）
	Poke(ctx context.Context)
}

// ReportedMonitor 由 UI 转发 navigator.connection 观测值的实现
type ReportedMonitor struct {
	ch chan Sample
}

// NewReportedMonitor 创建 UI 上报式监视器
func NewReportedMonitor() *ReportedMonitor {
	return &ReportedMonitor{ch: make(chan Sample, 8)}
}

// Report UI 每次 connection change 调用一次，满了直接丢弃
func (m *ReportedMonitor) Report(s Sample) {
	select {
	case m.ch <- s:
	default:
	}
}

// Samples 实现 QualityMonitor
func (m *ReportedMonitor) Samples() <-chan Sample { return m.ch }

// Poke 上报式来源没有按需观测，置空
func (m *ReportedMonitor) Poke(ctx context.Context) {}

// Pinger 轻量无载荷探测（HEAD 等价请求），返回往返耗时
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// ProbeMonitor 没有 Network Information API 时的轮询降级实现：
// 对 Trip Service 做 HEAD 探测测 RTT，限流为每 10 秒至多一次
type ProbeMonitor struct {
	logger  *zap.Logger
	pinger  Pinger
	limiter *rate.Limiter
	ch      chan Sample
}

// NewProbeMonitor 创建探测式监视器
func NewProbeMonitor(logger *zap.Logger, pinger Pinger) *ProbeMonitor {
	return &ProbeMonitor{
		logger:  logger,
		pinger:  pinger,
		limiter: rate.NewLimiter(rate.Every(probeDebounce), 1),
		ch:      make(chan Sample, 8),
	}
}

// Samples 实现 QualityMonitor
func (m *ProbeMonitor) Samples() <-chan Sample { return m.ch }

// Poke 触发一次探测，去抖窗口内的重复调用是空操作
func (m *ProbeMonitor) Poke(ctx context.Context) {
	if !m.limiter.Allow() {
		return
	}

	rtt, err := m.pinger.Ping(ctx)
	if err != nil {
		// 探测失败交给连接布尔值处理，这里只记录
		m.logger.Debug("Quality probe failed", zap.Error(err))
		return
	}

	select {
	case m.ch <- Sample{EffectiveType: "4g", RTT: rtt}:
	default:
	}
}

// Run 周期性探测直到 ctx 结束
func (m *ProbeMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(probeDebounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poke(ctx)
		}
	}
}
