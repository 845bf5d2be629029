package tripsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wariapp/wari/internal/models"
)

// 错误定义
var (
	ErrTripNotFound = fmt.Errorf("trip not found")
	ErrUnauthorized = fmt.Errorf("unauthorized")
	ErrRateLimited  = fmt.Errorf("rate limited")
)

// Client Trip Service REST 客户端
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient 创建 Trip Service 客户端
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// TripUpdate 部分更新：只有非 nil 的字段会被提交，id 始终必填。
// Destination 按线上格式编码为不透明字符串。
type TripUpdate struct {
	IsActive              *bool               `json:"is_active,omitempty"`
	IsCanceledByPassenger *bool               `json:"is_canceled_by_passenger,omitempty"`
	GracePeriodActive     *bool               `json:"grace_period_active,omitempty"`
	GracePeriodEndTime    *time.Time          `json:"grace_period_end_time,omitempty"`
	HasBeenShared         *bool               `json:"has_been_shared,omitempty"`
	StartDate             *time.Time          `json:"start_date,omitempty"`
	Destination           *models.Destination `json:"-"`
}

// MarshalJSON destination 以字符串形式上送
func (u TripUpdate) MarshalJSON() ([]byte, error) {
	type alias TripUpdate
	wrapped := struct {
		alias
		Destination string `json:"destination,omitempty"`
	}{alias: alias(u)}

	if u.Destination != nil {
		wrapped.Destination = u.Destination.Encode()
	}
	return json.Marshal(wrapped)
}

type createTripRequest struct {
	IMEI  string `json:"imei"`
	Plate string `json:"plate,omitempty"`
}

// CreateTrip 为设备注册新行程，id 由服务端分配
func (c *Client) CreateTrip(ctx context.Context, imei, plate string) (*models.Trip, error) {
	var trip models.Trip
	if err := c.doJSON(ctx, "POST", "/api/trips", createTripRequest{IMEI: imei, Plate: plate}, &trip); err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}
	return &trip, nil
}

// GetTrip 按 id 获取行程
func (c *Client) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	var trip models.Trip
	if err := c.doJSON(ctx, "GET", "/api/trips/"+id, nil, &trip); err != nil {
		return nil, fmt.Errorf("get trip %s: %w", id, err)
	}
	return &trip, nil
}

// UpdateTrip 部分更新行程，返回更新后的完整记录
func (c *Client) UpdateTrip(ctx context.Context, id string, update TripUpdate) (*models.Trip, error) {
	if id == "" {
		return nil, fmt.Errorf("update trip: missing id")
	}

	var trip models.Trip
	if err := c.doJSON(ctx, "PATCH", "/api/trips/"+id, update, &trip); err != nil {
		return nil, fmt.Errorf("update trip %s: %w", id, err)
	}
	return &trip, nil
}

// StartMonitoring 开始位置监控
func (c *Client) StartMonitoring(ctx context.Context, tripID string) error {
	if err := c.doJSON(ctx, "POST", "/api/trips/"+tripID+"/monitoring/start", nil, nil); err != nil {
		return fmt.Errorf("start monitoring %s: %w", tripID, err)
	}
	return nil
}

// StopMonitoring 停止设备的位置监控
func (c *Client) StopMonitoring(ctx context.Context, imei string) error {
	if err := c.doJSON(ctx, "POST", "/api/devices/"+imei+"/monitoring/stop", nil, nil); err != nil {
		return fmt.Errorf("stop monitoring %s: %w", imei, err)
	}
	return nil
}

// DeactivateAllByIMEI 注销设备名下所有行程
func (c *Client) DeactivateAllByIMEI(ctx context.Context, imei string) error {
	if err := c.doJSON(ctx, "POST", "/api/devices/"+imei+"/deactivate-trips", nil, nil); err != nil {
		return fmt.Errorf("deactivate trips %s: %w", imei, err)
	}
	return nil
}

// Ping 无载荷探活请求，返回往返耗时（供链路质量探测使用）
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, "HEAD", c.baseURL+"/api/health", nil)
	if err != nil {
		return 0, err
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	resp.Body.Close()

	return time.Since(started), nil
}

// doJSON 执行请求并解码响应，out 为 nil 时丢弃响应体
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		// 正常
	case http.StatusNotFound:
		return ErrTripNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
