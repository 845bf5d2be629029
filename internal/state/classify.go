package state

import (
	"time"

	"github.com/wariapp/wari/internal/models"
)

// DefaultGracePeriod 快照未携带截止时间时的默认宽限期
const DefaultGracePeriod = 600 * time.Second

// 快照分类结果
const (
	ClassNone               = "none"                // 本地已停止，忽略
	ClassActive             = "active"              // 行程进行中
	ClassCompleted          = "completed"           // 已到达，终态
	ClassCancelledImmediate = "cancelled_immediate" // 立即取消，无宽限期
	ClassGraceCountdown     = "grace_countdown"     // 进入宽限期倒计时
)

// LocalFlags 本地侧标记，不随快照下发
type LocalFlags struct {
	// Stopped 乘客已显式停止追踪；在重置前抑制所有重分类，
	// 避免和本地停止后仍在途的服务端快照竞争
	Stopped bool
}

// Classification 纯分类结果。Deadline 仅在 ClassGraceCountdown 时有效。
type Classification struct {
	Kind     string
	Deadline time.Time
}

// Classify 把一条行程快照归入分类。纯函数，不碰定时器也不碰网络。
//
// 规则（按优先级）：
//  1. is_completed → 终态 COMPLETED，本地 stopped 也不能挡住它
//  2. 本地已停止 → 忽略
//  3. 乘客取消 → 宽限期倒计时
//  4. 非活跃且无目的地 → 立即取消（位置从未被分享过，没有延迟的必要）
//  5. 非活跃且有目的地 → 宽限期倒计时（司机取消了进行中的行程）
//  6. 其余 → 进行中
func Classify(t *models.Trip, local LocalFlags, now time.Time) Classification {
	switch {
	case t.IsCompleted:
		return Classification{Kind: ClassCompleted}

	case local.Stopped:
		return Classification{Kind: ClassNone}

	case t.IsCanceledByPassenger:
		return Classification{Kind: ClassGraceCountdown, Deadline: graceDeadline(t, now)}

	case !t.IsActive && t.Destination == nil:
		return Classification{Kind: ClassCancelledImmediate}

	case !t.IsActive:
		return Classification{Kind: ClassGraceCountdown, Deadline: graceDeadline(t, now)}

	default:
		return Classification{Kind: ClassActive}
	}
}

// graceDeadline 快照带了截止时间就用它，否则默认 now+600s
func graceDeadline(t *models.Trip, now time.Time) time.Time {
	if t.GracePeriodEndTime != nil {
		return *t.GracePeriodEndTime
	}
	return now.Add(DefaultGracePeriod)
}
