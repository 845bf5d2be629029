package service

import (
	"context"
	"fmt"

	"github.com/wariapp/wari/internal/api/tripsvc"
	"github.com/wariapp/wari/internal/models"
)

// TripAPI Trip Service 能力面，按接口注入便于测试
type TripAPI interface {
	CreateTrip(ctx context.Context, imei, plate string) (*models.Trip, error)
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	UpdateTrip(ctx context.Context, id string, update tripsvc.TripUpdate) (*models.Trip, error)
	StartMonitoring(ctx context.Context, tripID string) error
	StopMonitoring(ctx context.Context, imei string) error
	DeactivateAllByIMEI(ctx context.Context, imei string) error
}

// Realtime 推送信道能力面
type Realtime interface {
	Connect()
	Disconnect()
	Reconnect()
	JoinRoom(tripID string) error
	LeaveRoom() error
	IsConnected() bool
}

// VehicleDirectory 车辆目录能力面
type VehicleDirectory interface {
	SearchVehicleByPlate(ctx context.Context, plate string) (*models.Vehicle, error)
	SearchVehicleByIMEI(ctx context.Context, imei string) (*models.Vehicle, error)
}

// 校验与业务错误。上游 HTTP 错误在调用点捕获后换成这些，交给
// 处理器转成用户可见的提示。
var (
	ErrValidation      = fmt.Errorf("validation failed")
	ErrVehicleNotFound = fmt.Errorf("vehicle not found")
	ErrIMEIMismatch    = fmt.Errorf("imei mismatch")
	ErrNoSession       = fmt.Errorf("no driver session")
)

// 接口实现检查
var (
	_ TripAPI  = (*tripsvc.Client)(nil)
	_ Realtime = (*tripsvc.RealtimeClient)(nil)
)
