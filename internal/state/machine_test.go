package state_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wariapp/wari/internal/state"
)

func TestTrackingMachine_HappyPath(t *testing.T) {
	m := state.NewTrackingMachine(nil)
	assert.Equal(t, state.PhaseScanning, m.Phase())

	require.NoError(t, m.Trigger(state.EventScan))
	assert.Equal(t, state.PhaseDestinationPending, m.Phase())

	require.NoError(t, m.Trigger(state.EventBegin))
	assert.Equal(t, state.PhaseTracking, m.Phase())

	require.NoError(t, m.Trigger(state.EventComplete))
	assert.Equal(t, state.PhaseCompleted, m.Phase())
	assert.True(t, m.Terminal())
}

func TestTrackingMachine_CancelBeforeStart(t *testing.T) {
	m := state.NewTrackingMachine(nil)
	require.NoError(t, m.Trigger(state.EventScan))

	// 司机在乘客开始追踪前就结束了行程
	require.NoError(t, m.Trigger(state.EventCancel))
	assert.Equal(t, state.PhaseCancelled, m.Phase())
}

func TestTrackingMachine_InvalidTransition(t *testing.T) {
	m := state.NewTrackingMachine(nil)

	assert.False(t, m.Can(state.EventBegin))
	assert.Error(t, m.Trigger(state.EventBegin))
	assert.Equal(t, state.PhaseScanning, m.Phase())
}

func TestTrackingMachine_TerminalRejectsFurtherEvents(t *testing.T) {
	m := state.NewTrackingMachine(nil)
	require.NoError(t, m.Trigger(state.EventScan))
	require.NoError(t, m.Trigger(state.EventComplete))

	assert.False(t, m.Can(state.EventCancel))
	assert.Error(t, m.Trigger(state.EventCancel))
	assert.Equal(t, state.PhaseCompleted, m.Phase())
}

func TestTrackingMachine_ResetReturnsToScanning(t *testing.T) {
	m := state.NewTrackingMachine(nil)
	require.NoError(t, m.Trigger(state.EventScan))
	require.NoError(t, m.Trigger(state.EventCancel))

	require.NoError(t, m.Trigger(state.EventReset))
	assert.Equal(t, state.PhaseScanning, m.Phase())
}

func TestTrackingMachine_GraceSubState(t *testing.T) {
	m := state.NewTrackingMachine(nil)
	require.NoError(t, m.Trigger(state.EventScan))
	require.NoError(t, m.Trigger(state.EventBegin))

	deadline := time.Now().Add(90 * time.Second)
	m.EnterGrace(deadline)

	inGrace, got := m.InGrace()
	assert.True(t, inGrace)
	assert.Equal(t, deadline, got)
	// 宽限期仍渲染为追踪中
	assert.Equal(t, state.PhaseTracking, m.Phase())

	// 离开 tracking 阶段时宽限期子状态被清掉
	require.NoError(t, m.Trigger(state.EventCancel))
	inGrace, _ = m.InGrace()
	assert.False(t, inGrace)
}

func TestTrackingMachine_PhaseChangeCallback(t *testing.T) {
	var transitions [][2]string
	m := state.NewTrackingMachine(func(from, to string) {
		transitions = append(transitions, [2]string{from, to})
	})

	require.NoError(t, m.Trigger(state.EventScan))
	require.NoError(t, m.Trigger(state.EventBegin))

	require.Equal(t, 2, len(transitions))
	assert.Equal(t, [2]string{state.PhaseScanning, state.PhaseDestinationPending}, transitions[0])
	assert.Equal(t, [2]string{state.PhaseDestinationPending, state.PhaseTracking}, transitions[1])
}
