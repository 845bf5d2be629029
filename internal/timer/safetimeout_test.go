package timer_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wariapp/wari/internal/timer"
)

func TestSafeTimeout_FiresOnce(t *testing.T) {
	var s timer.SafeTimeout
	var fired atomic.Int32

	s.Schedule(10*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

// 重新 Schedule 替换未触发的回调，只有最后一个会执行。
func TestSafeTimeout_RescheduleReplaces(t *testing.T) {
	var s timer.SafeTimeout
	var first, second atomic.Int32

	s.Schedule(20*time.Millisecond, func() { first.Add(1) })
	s.Schedule(40*time.Millisecond, func() { second.Add(1) })

	require.Eventually(t, func() bool {
		return second.Load() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(0), first.Load())
}

func TestSafeTimeout_Stop(t *testing.T) {
	var s timer.SafeTimeout
	var fired atomic.Int32

	s.Schedule(20*time.Millisecond, func() { fired.Add(1) })
	s.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	// Stop 后可以继续复用
	s.Schedule(10*time.Millisecond, func() { fired.Add(1) })
	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSafeTimeout_StopWithoutSchedule(t *testing.T) {
	var s timer.SafeTimeout
	s.Stop()
	s.Stop()
}
