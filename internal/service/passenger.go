package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wariapp/wari/internal/api/tripsvc"
	"github.com/wariapp/wari/internal/config"
	"github.com/wariapp/wari/internal/models"
	"github.com/wariapp/wari/internal/repository"
	"github.com/wariapp/wari/internal/state"
	"github.com/wariapp/wari/internal/timer"
)

// PassengerService 乘客侧追踪控制器。消费信道快照、驱动阶段机、
// 持有宽限期倒计时，并把派生的 TripStatus 暴露给视图层。
type PassengerService struct {
	cfg      *config.Config
	logger   *zap.Logger
	trips    TripAPI
	realtime Realtime
	tripLog  *repository.TripLogRepository // 可为 nil

	machine *state.TrackingMachine
	grace   *timer.GraceTimer

	mu          sync.Mutex
	ident       models.TripIdentifier
	destination *models.Destination
	stopped     bool
	wasActive   bool
	status      models.TripStatus

	subMu       sync.Mutex
	subscribers []chan models.TripStatus
}

// NewPassengerService 创建乘客控制器
func NewPassengerService(
	cfg *config.Config,
	logger *zap.Logger,
	trips TripAPI,
	realtime Realtime,
	tripLog *repository.TripLogRepository,
) *PassengerService {
	s := &PassengerService{
		cfg:      cfg,
		logger:   logger,
		trips:    trips,
		realtime: realtime,
		tripLog:  tripLog,
	}

	s.machine = state.NewTrackingMachine(s.onPhaseChange)
	s.grace = timer.NewGraceTimer(logger, s.onGraceTick, s.onGraceElapsed)

	return s
}

// GraceTimer 暴露给测试调整 tick 间隔
func (s *PassengerService) GraceTimer() *timer.GraceTimer {
	return s.grace
}

// Scan 处理扫码结果：解析载荷、拉取行程、派生 TripIdentifier 并加入房间
func (s *PassengerService) Scan(ctx context.Context, raw string) (*models.Trip, error) {
	id := models.ParseQRPayload(raw)
	if id == "" {
		return nil, fmt.Errorf("%w: empty QR payload", ErrValidation)
	}

	trip, err := s.trips.GetTrip(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("scan trip %s: %w", id, err)
	}

	s.mu.Lock()
	s.ident = models.TripIdentifier{IMEI: trip.IMEI, TripID: trip.ID}
	s.stopped = false
	s.mu.Unlock()

	if s.machine.Can(state.EventScan) {
		s.machine.Trigger(state.EventScan)
	}

	if err := s.realtime.JoinRoom(trip.ID); err != nil {
		s.logger.Warn("Join trip room failed", zap.String("trip_id", trip.ID), zap.Error(err))
	}

	s.HandleSnapshot(trip)
	return trip, nil
}

// SelectDestination 记录乘客选择的目的地。目的地是单调的：
// 正常流程里设置后不再清空。
func (s *PassengerService) SelectDestination(d models.Destination) error {
	if d.Address == "" {
		return fmt.Errorf("%w: missing destination address", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.destination = &d
	return nil
}

// StartTracking 提交目的地与开始时间并启动监控。服务端报告行程已完成
// 或已失效时短路到对应终态而不是继续。成功时返回追踪页路径。
func (s *PassengerService) StartTracking(ctx context.Context) (string, error) {
	s.mu.Lock()
	ident := s.ident
	dest := s.destination
	s.mu.Unlock()

	if !ident.Valid() {
		return "", fmt.Errorf("%w: scan a trip QR first", ErrValidation)
	}
	if dest == nil {
		return "", fmt.Errorf("%w: select a destination first", ErrValidation)
	}

	now := time.Now().UTC()
	trip, err := s.trips.UpdateTrip(ctx, ident.TripID, tripsvc.TripUpdate{
		StartDate:   &now,
		Destination: dest,
	})
	if err != nil {
		s.setStatus(models.TripStatus{Code: models.StatusError, Message: "No se pudo iniciar el viaje"})
		return "", fmt.Errorf("start tracking: %w", err)
	}

	if trip.IsCompleted {
		s.finishCompleted()
		return "", nil
	}
	if !trip.IsActive {
		s.finishCancelled(0)
		return "", nil
	}

	if err := s.trips.StartMonitoring(ctx, ident.TripID); err != nil {
		s.setStatus(models.TripStatus{Code: models.StatusError, Message: "No se pudo iniciar el monitoreo"})
		return "", fmt.Errorf("start tracking: %w", err)
	}

	if s.machine.Can(state.EventBegin) {
		s.machine.Trigger(state.EventBegin)
	}

	s.mu.Lock()
	s.wasActive = true
	s.mu.Unlock()

	s.setStatus(models.TripStatus{Code: models.StatusActive, Message: "Viaje en curso"})
	return "/passenger?tripId=" + ident.TripID, nil
}

// StopTracking 乘客显式停止。先置本地 stopped 标记压制后续快照的
// 重分类，再停监控并把行程标记为非活跃；只有位置确实在被分享时
// （行程活跃且有目的地）才附带宽限期字段。
func (s *PassengerService) StopTracking(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	ident := s.ident
	dest := s.destination
	wasActive := s.wasActive
	s.mu.Unlock()

	s.grace.Cancel()

	if !ident.Valid() {
		return fmt.Errorf("%w: no trip to stop", ErrValidation)
	}

	if err := s.trips.StopMonitoring(ctx, ident.IMEI); err != nil {
		return fmt.Errorf("stop tracking: %w", err)
	}

	inactive := false
	canceled := true
	update := tripsvc.TripUpdate{
		IsActive:              &inactive,
		IsCanceledByPassenger: &canceled,
	}
	if wasActive && dest != nil {
		graceActive := true
		end := time.Now().UTC().Add(s.cfg.GracePeriod)
		update.GracePeriodActive = &graceActive
		update.GracePeriodEndTime = &end
	}

	// 这里不消费更新返回值：本地状态等下一条信道快照确认
	if _, err := s.trips.UpdateTrip(ctx, ident.TripID, update); err != nil {
		return fmt.Errorf("stop tracking: %w", err)
	}

	s.finishCancelled(0)
	return nil
}

// ShareMessage 分享载荷。原生分享在 UI 侧完成，这里只负责组装文本
// 和 wa.me 的兜底深链。
type ShareMessage struct {
	Text     string `json:"text"`
	URL      string `json:"url"`
	WhatsApp string `json:"whatsapp"`
}

// ShareTracking 组装分享内容并尽力把 has_been_shared 上报到服务端。
// 分享是便利功能，不在关键路径上，任何失败都被吞掉。
func (s *PassengerService) ShareTracking(ctx context.Context) (*ShareMessage, error) {
	s.mu.Lock()
	ident := s.ident
	s.mu.Unlock()

	if !ident.Valid() {
		return nil, fmt.Errorf("%w: no trip to share", ErrValidation)
	}

	link := s.cfg.PublicBaseURL + "/passenger?tripId=" + ident.TripID
	text := "Sigue mi viaje en Wari: " + link
	msg := &ShareMessage{
		Text:     text,
		URL:      link,
		WhatsApp: "https://wa.me/?text=" + url.QueryEscape(text),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		shared := true
		if _, err := s.trips.UpdateTrip(ctx, ident.TripID, tripsvc.TripUpdate{HasBeenShared: &shared}); err != nil {
			s.logger.Debug("Mark shared failed", zap.Error(err))
		}
	}()

	return msg, nil
}

// HandleSnapshot 每条信道快照的入口。快照是完整权威状态而不是增量；
// 每次分类整体替换上一次，新的宽限期调度前先取消旧的（last snapshot wins）。
func (s *PassengerService) HandleSnapshot(t *models.Trip) {
	s.mu.Lock()
	if s.ident.TripID == "" {
		s.ident = models.TripIdentifier{IMEI: t.IMEI, TripID: t.ID}
	}
	if s.ident.TripID != t.ID {
		s.mu.Unlock()
		s.logger.Warn("Dropping snapshot for foreign trip",
			zap.String("got", t.ID),
			zap.String("want", s.ident.TripID))
		return
	}
	local := state.LocalFlags{Stopped: s.stopped}
	s.wasActive = t.IsActive
	s.mu.Unlock()

	s.recordSnapshot(t)

	c := state.Classify(t, local, time.Now())
	switch c.Kind {
	case state.ClassCompleted:
		s.finishCompleted()

	case state.ClassCancelledImmediate:
		s.finishCancelled(0)

	case state.ClassGraceCountdown:
		s.machine.EnterGrace(c.Deadline)
		s.grace.Start(c.Deadline)

	case state.ClassActive:
		s.grace.Cancel()
		s.machine.LeaveGrace()
		s.setStatus(models.TripStatus{Code: models.StatusActive, Message: "Viaje en curso"})

	case state.ClassNone:
		// 本地已停止，忽略
	}
}

// ForceReconnect 监督器回调：掐断信道连接让其重拨
func (s *PassengerService) ForceReconnect() {
	s.realtime.Reconnect()
}

// SilentSync 监督器回调：静默重拉一次权威状态并重新分类。
// 断线窗口内丢失的事件不会重放，重同步是唯一的补偿手段。
func (s *PassengerService) SilentSync(ctx context.Context) error {
	s.mu.Lock()
	ident := s.ident
	s.mu.Unlock()

	if !ident.Valid() {
		return nil
	}

	trip, err := s.trips.GetTrip(ctx, ident.TripID)
	if err != nil {
		return fmt.Errorf("silent sync: %w", err)
	}

	s.HandleSnapshot(trip)
	return nil
}

// Status 当前派生状态
func (s *PassengerService) Status() models.TripStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Phase 当前追踪阶段
func (s *PassengerService) Phase() string {
	return s.machine.Phase()
}

// Identifier 当前持有的行程联合键
func (s *PassengerService) Identifier() models.TripIdentifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ident
}

// Subscribe 订阅状态更新流
func (s *PassengerService) Subscribe() <-chan models.TripStatus {
	ch := make(chan models.TripStatus, 8)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()
	return ch
}

// Reset 清掉本地标记回到扫码阶段，准备下一次行程
func (s *PassengerService) Reset() {
	s.grace.Cancel()

	s.mu.Lock()
	s.ident = models.TripIdentifier{}
	s.destination = nil
	s.stopped = false
	s.wasActive = false
	s.status = models.TripStatus{}
	s.mu.Unlock()

	if s.machine.Can(state.EventReset) {
		s.machine.Trigger(state.EventReset)
	}
}

func (s *PassengerService) finishCompleted() {
	s.grace.Cancel()
	s.machine.LeaveGrace()
	if s.machine.Can(state.EventComplete) {
		s.machine.Trigger(state.EventComplete)
	}
	s.setStatus(models.TripStatus{
		Code:        models.StatusCompleted,
		Message:     "El viaje ha finalizado",
		Description: "El vehículo llegó a su destino",
	})
}

func (s *PassengerService) finishCancelled(countdown int) {
	s.grace.Cancel()
	s.machine.LeaveGrace()
	if s.machine.Can(state.EventCancel) {
		s.machine.Trigger(state.EventCancel)
	}
	s.setStatus(models.TripStatus{
		Code:      models.StatusCancelled,
		Message:   "El viaje fue cancelado",
		Countdown: countdown,
	})
}

func (s *PassengerService) onGraceTick(remaining int) {
	s.setStatus(models.TripStatus{
		Code:        models.StatusActive,
		Message:     "Viaje en curso",
		Description: "El viaje finalizará pronto",
		Countdown:   remaining,
	})
}

func (s *PassengerService) onGraceElapsed() {
	s.finishCancelled(0)
}

// onPhaseChange 阶段转换回调，尽力落库
func (s *PassengerService) onPhaseChange(from, to string) {
	s.logger.Info("Tracking phase changed",
		zap.String("from", from),
		zap.String("to", to))

	if s.tripLog == nil {
		return
	}

	s.mu.Lock()
	tripID := s.ident.TripID
	s.mu.Unlock()
	if tripID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.tripLog.RecordTransition(ctx, tripID, from, to); err != nil {
			s.logger.Error("Failed to persist phase transition", zap.Error(err))
		}
	}()
}

func (s *PassengerService) recordSnapshot(t *models.Trip) {
	if s.tripLog == nil {
		return
	}

	snapshot := *t
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.tripLog.RecordSnapshot(ctx, &snapshot); err != nil {
			s.logger.Error("Failed to persist trip snapshot", zap.Error(err))
		}
	}()
}

// setStatus 整体替换派生状态并广播给订阅者
func (s *PassengerService) setStatus(status models.TripStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	s.subMu.Lock()
	for _, ch := range s.subscribers {
		select {
		case ch <- status:
		default:
			// 慢消费者丢弃本次更新
		}
	}
	s.subMu.Unlock()
}
