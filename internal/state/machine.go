package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 追踪阶段常量
const (
	PhaseScanning           = "scanning"
	PhaseDestinationPending = "destination_pending"
	PhaseTracking           = "tracking"
	PhaseCancelled          = "cancelled"
	PhaseCompleted          = "completed"
	PhaseError              = "error"
)

// 阶段转换事件
const (
	EventScan     = "scan"     // 扫码成功，拿到行程标识
	EventBegin    = "begin"    // 开始追踪
	EventCancel   = "cancel"   // 行程被取消（立即或宽限期到期）
	EventComplete = "complete" // 车辆到达终点
	EventFail     = "fail"     // 不可恢复错误
	EventReset    = "reset"    // 回到扫码阶段
)

// TrackingMachine 乘客侧追踪阶段机。宽限期倒计时是 tracking 阶段内的
// 子状态：仍渲染为追踪中，但带可见倒计时。
type TrackingMachine struct {
	mu            sync.RWMutex
	fsm           *fsm.FSM
	inGrace       bool
	graceDeadline time.Time
	since         time.Time
	onPhaseChange func(from, to string)
}

// NewTrackingMachine 创建阶段机，初始为 scanning
func NewTrackingMachine(onPhaseChange func(from, to string)) *TrackingMachine {
	m := &TrackingMachine{
		since:         time.Now(),
		onPhaseChange: onPhaseChange,
	}

	m.fsm = fsm.NewFSM(
		PhaseScanning,
		fsm.Events{
			{Name: EventScan, Src: []string{PhaseScanning}, Dst: PhaseDestinationPending},
			{Name: EventBegin, Src: []string{PhaseDestinationPending}, Dst: PhaseTracking},

			// 取消/完成可以在拿到行程标识后的任何非终态发生：
			// 司机可能在乘客还没开始追踪时就结束了行程
			{Name: EventCancel, Src: []string{PhaseDestinationPending, PhaseTracking}, Dst: PhaseCancelled},
			{Name: EventComplete, Src: []string{PhaseDestinationPending, PhaseTracking}, Dst: PhaseCompleted},

			{Name: EventFail, Src: []string{PhaseScanning, PhaseDestinationPending, PhaseTracking}, Dst: PhaseError},
			{Name: EventReset, Src: []string{PhaseCancelled, PhaseCompleted, PhaseError}, Dst: PhaseScanning},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onPhaseChange != nil && e.Src != e.Dst {
					m.onPhaseChange(e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Phase 当前阶段
func (m *TrackingMachine) Phase() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Trigger 触发阶段转换
func (m *TrackingMachine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.since = time.Now()
	if m.fsm.Current() != PhaseTracking {
		m.inGrace = false
	}
	return nil
}

// Can 检查当前阶段是否允许该事件
func (m *TrackingMachine) Can(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// EnterGrace 进入宽限期子状态（仅在 tracking 阶段有意义）
func (m *TrackingMachine) EnterGrace(deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inGrace = true
	m.graceDeadline = deadline
}

// LeaveGrace 退出宽限期子状态
func (m *TrackingMachine) LeaveGrace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inGrace = false
	m.graceDeadline = time.Time{}
}

// InGrace 是否处于宽限期倒计时
func (m *TrackingMachine) InGrace() (bool, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inGrace, m.graceDeadline
}

// Terminal 是否处于终态
func (m *TrackingMachine) Terminal() bool {
	switch m.Phase() {
	case PhaseCancelled, PhaseCompleted, PhaseError:
		return true
	}
	return false
}
