package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wariapp/wari/internal/api/directory"
	"github.com/wariapp/wari/internal/api/tripsvc"
	"github.com/wariapp/wari/internal/config"
	"github.com/wariapp/wari/internal/models"
	"github.com/wariapp/wari/internal/session"
)

// DriverService 司机侧会话控制器。持有登录派生的会话、活跃行程的
// 创建与续期、QR 可见性状态，并对同一条信道快照做出反应：行程失效
// 时自动为同一设备补建新行程（乘客看到的 QR 刚刚过期）。
type DriverService struct {
	cfg       *config.Config
	logger    *zap.Logger
	trips     TripAPI
	directory VehicleDirectory
	realtime  Realtime
	store     *session.Store
	notify    func(message string) // toast 回调，可为 nil

	mu            sync.Mutex
	vehicle       *models.Vehicle
	trip          *models.Trip
	authenticated bool

	renewing atomic.Bool
}

// NewDriverService 创建司机控制器
func NewDriverService(
	cfg *config.Config,
	logger *zap.Logger,
	trips TripAPI,
	dir VehicleDirectory,
	realtime Realtime,
	store *session.Store,
	notify func(message string),
) *DriverService {
	return &DriverService{
		cfg:       cfg,
		logger:    logger,
		trips:     trips,
		directory: dir,
		realtime:  realtime,
		store:     store,
		notify:    notify,
	}
}

// FindVehicleByPlate 按车牌查车辆并核对 IMEI 后四位。后四位核对就是
// 这条流程的准入检查，车辆记录上没有另外的密码。查不到和不匹配都
// 以哨兵错误返回，从不向上抛未捕获异常。
func (s *DriverService) FindVehicleByPlate(ctx context.Context, plate, imeiLast4 string) (*models.Vehicle, error) {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	imeiLast4 = strings.TrimSpace(imeiLast4)

	if plate == "" {
		return nil, fmt.Errorf("%w: missing plate", ErrValidation)
	}
	if len(imeiLast4) != 4 {
		return nil, fmt.Errorf("%w: imei check needs exactly 4 digits", ErrValidation)
	}

	v, err := s.directory.SearchVehicleByPlate(ctx, plate)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrVehicleNotFound
		}
		return nil, fmt.Errorf("find vehicle: %w", err)
	}

	if !strings.HasSuffix(v.IMEI, imeiLast4) {
		return nil, ErrIMEIMismatch
	}

	return v, nil
}

// Login 完整登录流程：核对车辆、创建行程、加入房间并持久化会话
func (s *DriverService) Login(ctx context.Context, plate, imeiLast4 string) (*models.Trip, error) {
	v, err := s.FindVehicleByPlate(ctx, plate, imeiLast4)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.vehicle = v
	s.authenticated = true
	s.mu.Unlock()

	if err := s.CreateTrip(ctx, v.IMEI); err != nil {
		s.mu.Lock()
		s.vehicle = nil
		s.authenticated = false
		s.mu.Unlock()
		return nil, err
	}

	return s.currentTrip(), nil
}

// CreateTrip 为设备注册新行程，成功后同时更新本地状态和持久化会话
func (s *DriverService) CreateTrip(ctx context.Context, imei string) error {
	s.mu.Lock()
	plate := ""
	if s.vehicle != nil {
		plate = s.vehicle.Plate
	}
	s.mu.Unlock()

	trip, err := s.trips.CreateTrip(ctx, imei, plate)
	if err != nil {
		return fmt.Errorf("create trip: %w", err)
	}

	s.mu.Lock()
	s.trip = trip
	authenticated := s.authenticated
	s.mu.Unlock()

	if err := s.store.Save(session.Data{
		TripID:        trip.ID,
		Plate:         plate,
		Authenticated: authenticated,
	}); err != nil {
		s.logger.Warn("Persist driver session failed", zap.Error(err))
	}

	if err := s.realtime.JoinRoom(trip.ID); err != nil {
		s.logger.Warn("Join trip room failed", zap.String("trip_id", trip.ID), zap.Error(err))
	}

	s.logger.Info("Trip created for device",
		zap.String("trip_id", trip.ID),
		zap.String("imei", imei))
	return nil
}

// HandleSnapshot 信道快照回调。登录状态下看到自己的行程变为非活跃，
// 说明展示中的 QR 刚过期，为同一设备自动补建新行程；补建失败只提示，
// 不拉垮会话。
func (s *DriverService) HandleSnapshot(t *models.Trip) {
	s.mu.Lock()
	authenticated := s.authenticated
	current := s.trip
	s.mu.Unlock()

	if !authenticated || current == nil || t.ID != current.ID {
		return
	}

	if t.IsActive {
		s.mu.Lock()
		s.trip = t
		s.mu.Unlock()
		return
	}

	// 同一行程的多条失效快照只触发一次补建
	if !s.renewing.CompareAndSwap(false, true) {
		return
	}

	imei := current.IMEI
	go func() {
		defer s.renewing.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.CreateTrip(ctx, imei); err != nil {
			s.logger.Error("Trip renewal failed", zap.String("imei", imei), zap.Error(err))
			s.toast("No se pudo renovar el código QR")
			return
		}
		s.toast("Código QR renovado")
	}()
}

// Logout 结束会话。有活跃行程时先停监控并按乘客停止的同一套宽限期
// 策略把行程置为非活跃，再清掉本地与持久化状态。上游调用失败只记
// 日志：登出必须总能把本地会话清干净。
func (s *DriverService) Logout(ctx context.Context) error {
	s.mu.Lock()
	trip := s.trip
	s.mu.Unlock()

	if trip != nil && trip.IsActive {
		if err := s.trips.StopMonitoring(ctx, trip.IMEI); err != nil {
			s.logger.Warn("Stop monitoring on logout failed", zap.Error(err))
		}

		inactive := false
		update := tripsvc.TripUpdate{IsActive: &inactive}
		if trip.Destination != nil {
			graceActive := true
			end := time.Now().UTC().Add(s.cfg.GracePeriod)
			update.GracePeriodActive = &graceActive
			update.GracePeriodEndTime = &end
		}
		if _, err := s.trips.UpdateTrip(ctx, trip.ID, update); err != nil {
			s.logger.Warn("Deactivate trip on logout failed", zap.Error(err))
		}
	}

	if err := s.realtime.LeaveRoom(); err != nil {
		s.logger.Debug("Leave room on logout failed", zap.Error(err))
	}

	if err := s.store.Clear(); err != nil {
		s.logger.Warn("Clear driver session failed", zap.Error(err))
	}

	s.mu.Lock()
	s.vehicle = nil
	s.trip = nil
	s.authenticated = false
	s.mu.Unlock()

	s.logger.Info("Driver logged out")
	return nil
}

// Restore 启动时恢复会话：读持久化的 trip id 和车牌，重拉行程并重新
// 校验车辆。恢复途中任何一步失败都走完整登出，避免半恢复的会话。
func (s *DriverService) Restore(ctx context.Context) error {
	data, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if data.TripID == "" || !data.Authenticated {
		return nil
	}

	trip, err := s.trips.GetTrip(ctx, data.TripID)
	if err != nil {
		s.Logout(ctx)
		return fmt.Errorf("restore trip: %w", err)
	}

	v, err := s.directory.SearchVehicleByPlate(ctx, data.Plate)
	if err != nil {
		s.Logout(ctx)
		return fmt.Errorf("restore vehicle: %w", err)
	}
	if v.IMEI != trip.IMEI {
		s.Logout(ctx)
		return fmt.Errorf("restore: session vehicle mismatch")
	}

	s.mu.Lock()
	s.vehicle = v
	s.trip = trip
	s.authenticated = true
	s.mu.Unlock()

	if err := s.realtime.JoinRoom(trip.ID); err != nil {
		s.logger.Warn("Join trip room failed", zap.String("trip_id", trip.ID), zap.Error(err))
	}

	s.logger.Info("Driver session restored",
		zap.String("trip_id", trip.ID),
		zap.String("plate", data.Plate))
	return nil
}

// QRPayload 当前行程的 QR 载荷（图像编码在 UI 侧完成）
func (s *DriverService) QRPayload() (string, error) {
	trip := s.currentTrip()
	if trip == nil {
		return "", ErrNoSession
	}

	payload, err := json.Marshal(map[string]string{"tripId": trip.ID})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Session 会话快照，供视图层渲染
type Session struct {
	Authenticated bool   `json:"authenticated"`
	Plate         string `json:"plate,omitempty"`
	TripID        string `json:"trip_id,omitempty"`
	TripActive    bool   `json:"trip_active"`
}

// CurrentSession 当前会话状态
func (s *DriverService) CurrentSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Session{Authenticated: s.authenticated}
	if s.vehicle != nil {
		out.Plate = s.vehicle.Plate
	}
	if s.trip != nil {
		out.TripID = s.trip.ID
		out.TripActive = s.trip.IsActive
	}
	return out
}

func (s *DriverService) currentTrip() *models.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trip
}

func (s *DriverService) toast(message string) {
	if s.notify != nil {
		s.notify(message)
	}
}
