package netwatch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wariapp/wari/internal/netwatch"
)

// harness 把监督器的所有依赖换成可计数的假实现
type harness struct {
	reconnects atomic.Int32
	syncs      atomic.Int32
	connected  atomic.Bool
	syncDelay  time.Duration

	mu       sync.Mutex
	syncErr  error
	warnings []string
}

func (h *harness) setSyncErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.syncErr = err
}

func (h *harness) forceReconnect() { h.reconnects.Add(1) }

func (h *harness) silentlySync(ctx context.Context) error {
	if h.syncDelay > 0 {
		time.Sleep(h.syncDelay)
	}
	h.syncs.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syncErr
}

func (h *harness) isConnected() bool { return h.connected.Load() }

func (h *harness) warn(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.warnings = append(h.warnings, msg)
}

func (h *harness) warningCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.warnings)
}

func (h *harness) supervisor(monitor netwatch.QualityMonitor) *netwatch.Supervisor {
	return netwatch.New(zap.NewNop(), h.forceReconnect, h.silentlySync, h.isConnected, h.warn, monitor)
}

func TestSupervisor_FocusTriggersReconnectAndSync(t *testing.T) {
	h := &harness{}
	s := h.supervisor(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Notify(netwatch.Event{Kind: netwatch.EventFocus})

	require.Eventually(t, func() bool {
		return h.syncs.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), h.reconnects.Load())
}

func TestSupervisor_OfflineOnlyWarns(t *testing.T) {
	h := &harness{}
	s := h.supervisor(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Notify(netwatch.Event{Kind: netwatch.EventOffline})

	require.Eventually(t, func() bool {
		return h.warningCount() == 1
	}, time.Second, 5*time.Millisecond)

	// 离线没有可同步的对端
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), h.reconnects.Load())
	assert.Equal(t, int32(0), h.syncs.Load())
}

func TestSupervisor_TouchOnlySyncsWhenDisconnected(t *testing.T) {
	h := &harness{}
	h.connected.Store(true)
	s := h.supervisor(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Notify(netwatch.Event{Kind: netwatch.EventTouch})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), h.syncs.Load(), "touch while connected is a no-op")

	h.connected.Store(false)
	s.Notify(netwatch.Event{Kind: netwatch.EventTouch})

	require.Eventually(t, func() bool {
		return h.syncs.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

// 同一时刻至多一对重连+同步在途，重入的触发直接作废。
func TestSupervisor_TriggerSyncDeduplicates(t *testing.T) {
	h := &harness{syncDelay: 50 * time.Millisecond}
	s := h.supervisor(nil)

	ctx := context.Background()
	s.TriggerSync(ctx)
	s.TriggerSync(ctx)
	s.TriggerSync(ctx)

	require.Eventually(t, func() bool {
		return h.syncs.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), h.reconnects.Load())
	assert.Equal(t, int32(1), h.syncs.Load())
}

// 同步失败也要释放在途保护位，后续触发照常工作。
func TestSupervisor_SyncErrorReleasesGuard(t *testing.T) {
	h := &harness{}
	h.setSyncErr(context.DeadlineExceeded)
	s := h.supervisor(nil)

	ctx := context.Background()
	s.TriggerSync(ctx)
	require.Eventually(t, func() bool {
		return h.syncs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	h.setSyncErr(nil)
	require.Eventually(t, func() bool {
		s.TriggerSync(ctx)
		return h.syncs.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisor_UnstableSampleWarnsWithoutSync(t *testing.T) {
	h := &harness{}
	m := netwatch.NewReportedMonitor()
	s := h.supervisor(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	m.Report(netwatch.Sample{EffectiveType: "2g"})

	require.Eventually(t, func() bool {
		return h.warningCount() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), h.syncs.Load())
}

func TestSupervisor_StableSampleTriggersSync(t *testing.T) {
	h := &harness{}
	m := netwatch.NewReportedMonitor()
	s := h.supervisor(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	m.Report(netwatch.Sample{EffectiveType: "4g", RTT: 50 * time.Millisecond})

	require.Eventually(t, func() bool {
		return h.syncs.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.warningCount())
}
