package state_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wariapp/wari/internal/models"
	"github.com/wariapp/wari/internal/state"
)

var now = time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC)

func activeTrip() *models.Trip {
	return &models.Trip{
		ID:       "trip-1",
		IMEI:     "123456789012345",
		IsActive: true,
		Destination: &models.Destination{
			Address: "Plaza Mayor",
			Lat:     -9.93,
			Lng:     -76.24,
		},
	}
}

func TestClassify_Active(t *testing.T) {
	c := state.Classify(activeTrip(), state.LocalFlags{}, now)

	assert.Equal(t, state.ClassActive, c.Kind)
}

func TestClassify_CompletedIsTerminal(t *testing.T) {
	trip := activeTrip()
	trip.IsActive = false
	trip.IsCompleted = true

	c := state.Classify(trip, state.LocalFlags{}, now)

	assert.Equal(t, state.ClassCompleted, c.Kind)
}

// 终态 COMPLETED 连本地 stopped 标记都压不住。
func TestClassify_CompletedWinsOverStopped(t *testing.T) {
	trip := activeTrip()
	trip.IsActive = false
	trip.IsCompleted = true

	c := state.Classify(trip, state.LocalFlags{Stopped: true}, now)

	assert.Equal(t, state.ClassCompleted, c.Kind)
}

// 司机取消了一个从未设置目的地的行程：位置从未被分享，立即取消，
// 不创建任何倒计时。
func TestClassify_InactiveWithoutDestinationCancelsImmediately(t *testing.T) {
	trip := activeTrip()
	trip.IsActive = false
	trip.Destination = nil

	c := state.Classify(trip, state.LocalFlags{}, now)

	assert.Equal(t, state.ClassCancelledImmediate, c.Kind)
	assert.True(t, c.Deadline.IsZero())
}

func TestClassify_InactiveWithDestinationEntersGrace(t *testing.T) {
	deadline := now.Add(90 * time.Second)
	trip := activeTrip()
	trip.IsActive = false
	trip.GracePeriodActive = true
	trip.GracePeriodEndTime = &deadline

	c := state.Classify(trip, state.LocalFlags{}, now)

	require.Equal(t, state.ClassGraceCountdown, c.Kind)
	assert.Equal(t, deadline, c.Deadline)
}

func TestClassify_PassengerCancelEntersGrace(t *testing.T) {
	trip := activeTrip()
	trip.IsActive = false
	trip.IsCanceledByPassenger = true

	c := state.Classify(trip, state.LocalFlags{}, now)

	require.Equal(t, state.ClassGraceCountdown, c.Kind)
	// 快照没带截止时间时默认 600 秒
	assert.Equal(t, now.Add(state.DefaultGracePeriod), c.Deadline)
}

func TestClassify_PassengerCancelUsesSnapshotDeadline(t *testing.T) {
	deadline := now.Add(42 * time.Second)
	trip := activeTrip()
	trip.IsActive = false
	trip.IsCanceledByPassenger = true
	trip.GracePeriodActive = true
	trip.GracePeriodEndTime = &deadline

	c := state.Classify(trip, state.LocalFlags{}, now)

	require.Equal(t, state.ClassGraceCountdown, c.Kind)
	assert.Equal(t, deadline, c.Deadline)
}

// 本地已停止后，服务端还在途的取消快照不再引起任何重分类。
func TestClassify_StoppedSuppressesReclassification(t *testing.T) {
	trip := activeTrip()
	trip.IsActive = false
	trip.IsCanceledByPassenger = true

	c := state.Classify(trip, state.LocalFlags{Stopped: true}, now)

	assert.Equal(t, state.ClassNone, c.Kind)
}

// 同一条终态快照送两次，分类结果完全一致（幂等）。
func TestClassify_Idempotent(t *testing.T) {
	trip := activeTrip()
	trip.IsActive = false
	trip.IsCompleted = true

	first := state.Classify(trip, state.LocalFlags{}, now)
	second := state.Classify(trip, state.LocalFlags{}, now)

	assert.Equal(t, first, second)
}
