package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/wariapp/wari/internal/api/directory"
	"github.com/wariapp/wari/internal/api/tripsvc"
	"github.com/wariapp/wari/internal/config"
	"github.com/wariapp/wari/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		PublicBaseURL: "https://wari.pe",
		GracePeriod:   600 * time.Second,
	}
}

type recordedUpdate struct {
	ID     string
	Update tripsvc.TripUpdate
}

// fakeTripAPI 函数字段式假实现，未设置的方法走合理的默认返回
type fakeTripAPI struct {
	mu             sync.Mutex
	createCalls    []string
	getCalls       []string
	updateCalls    []recordedUpdate
	startMonCalls  []string
	stopMonCalls   []string
	deactivateCall []string

	createFn func(ctx context.Context, imei, plate string) (*models.Trip, error)
	getFn    func(ctx context.Context, id string) (*models.Trip, error)
	updateFn func(ctx context.Context, id string, u tripsvc.TripUpdate) (*models.Trip, error)
	startErr error
	stopErr  error
}

func (f *fakeTripAPI) CreateTrip(ctx context.Context, imei, plate string) (*models.Trip, error) {
	f.mu.Lock()
	f.createCalls = append(f.createCalls, imei)
	f.mu.Unlock()

	if f.createFn != nil {
		return f.createFn(ctx, imei, plate)
	}
	return &models.Trip{ID: "new-trip", IMEI: imei, IsActive: true}, nil
}

func (f *fakeTripAPI) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	f.mu.Lock()
	f.getCalls = append(f.getCalls, id)
	f.mu.Unlock()

	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return &models.Trip{ID: id, IMEI: "123456789012345", IsActive: true}, nil
}

func (f *fakeTripAPI) UpdateTrip(ctx context.Context, id string, u tripsvc.TripUpdate) (*models.Trip, error) {
	f.mu.Lock()
	f.updateCalls = append(f.updateCalls, recordedUpdate{ID: id, Update: u})
	f.mu.Unlock()

	if f.updateFn != nil {
		return f.updateFn(ctx, id, u)
	}
	return &models.Trip{ID: id, IMEI: "123456789012345", IsActive: true}, nil
}

func (f *fakeTripAPI) StartMonitoring(ctx context.Context, tripID string) error {
	f.mu.Lock()
	f.startMonCalls = append(f.startMonCalls, tripID)
	f.mu.Unlock()
	return f.startErr
}

func (f *fakeTripAPI) StopMonitoring(ctx context.Context, imei string) error {
	f.mu.Lock()
	f.stopMonCalls = append(f.stopMonCalls, imei)
	f.mu.Unlock()
	return f.stopErr
}

func (f *fakeTripAPI) DeactivateAllByIMEI(ctx context.Context, imei string) error {
	f.mu.Lock()
	f.deactivateCall = append(f.deactivateCall, imei)
	f.mu.Unlock()
	return nil
}

func (f *fakeTripAPI) updates() []recordedUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedUpdate, len(f.updateCalls))
	copy(out, f.updateCalls)
	return out
}

func (f *fakeTripAPI) creates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.createCalls))
	copy(out, f.createCalls)
	return out
}

func (f *fakeTripAPI) gets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.getCalls))
	copy(out, f.getCalls)
	return out
}

type fakeRealtime struct {
	mu         sync.Mutex
	joins      []string
	leaves     int
	reconnects int
	connected  bool
	joinErr    error
}

func (f *fakeRealtime) Connect()    {}
func (f *fakeRealtime) Disconnect() {}

func (f *fakeRealtime) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

func (f *fakeRealtime) JoinRoom(tripID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, tripID)
	return f.joinErr
}

func (f *fakeRealtime) LeaveRoom() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return nil
}

func (f *fakeRealtime) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRealtime) joinedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.joins))
	copy(out, f.joins)
	return out
}

// fakeDirectory 以车牌为键的内存目录
type fakeDirectory struct {
	vehicles map[string]*models.Vehicle
	err      error
}

func (f *fakeDirectory) SearchVehicleByPlate(ctx context.Context, plate string) (*models.Vehicle, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vehicles[plate]; ok {
		return v, nil
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDirectory) SearchVehicleByIMEI(ctx context.Context, imei string) (*models.Vehicle, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, v := range f.vehicles {
		if v.IMEI == imei {
			return v, nil
		}
	}
	return nil, directory.ErrNotFound
}
