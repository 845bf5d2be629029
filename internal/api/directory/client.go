package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/wariapp/wari/internal/models"
)

// 错误定义
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrUnauthorized = fmt.Errorf("unauthorized")
)

// Client 车辆/用户目录服务客户端。登录后持有 bearer token，
// 供 Me/Logout 等会话接口使用。
type Client struct {
	httpClient *http.Client
	baseURL    string

	mu    sync.RWMutex
	token string
}

// NewClient 创建目录服务客户端
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
	}
}

// SetToken 设置会话令牌（令牌对本客户端不透明，由目录服务签发和校验）
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token 当前会话令牌
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SearchVehicleByPlate 按车牌查车辆，未找到返回 ErrNotFound
func (c *Client) SearchVehicleByPlate(ctx context.Context, plate string) (*models.Vehicle, error) {
	var v models.Vehicle
	path := "/api/vehicles?plate=" + url.QueryEscape(plate)
	if err := c.doJSON(ctx, "GET", path, nil, &v); err != nil {
		return nil, fmt.Errorf("search vehicle by plate: %w", err)
	}
	return &v, nil
}

// SearchVehicleByIMEI 按 IMEI 查车辆，未找到返回 ErrNotFound
func (c *Client) SearchVehicleByIMEI(ctx context.Context, imei string) (*models.Vehicle, error) {
	var v models.Vehicle
	path := "/api/vehicles?imei=" + url.QueryEscape(imei)
	if err := c.doJSON(ctx, "GET", path, nil, &v); err != nil {
		return nil, fmt.Errorf("search vehicle by imei: %w", err)
	}
	return &v, nil
}

// ListDrivers 按序返回司机列表
func (c *Client) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	var drivers []models.Driver
	if err := c.doJSON(ctx, "GET", "/api/drivers?ordered=true", nil, &drivers); err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	return drivers, nil
}

// ListSponsors 赞助商列表（外围透传）
func (c *Client) ListSponsors(ctx context.Context) ([]models.Sponsor, error) {
	var sponsors []models.Sponsor
	if err := c.doJSON(ctx, "GET", "/api/sponsors", nil, &sponsors); err != nil {
		return nil, fmt.Errorf("list sponsors: %w", err)
	}
	return sponsors, nil
}

type loginRequest struct {
	Plate    string `json:"plate"`
	Password string `json:"password"`
}

// LoginResponse 登录结果
type LoginResponse struct {
	Token string        `json:"token"`
	User  models.Driver `json:"user"`
}

// Login 登录并保存会话令牌
func (c *Client) Login(ctx context.Context, plate, password string) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.doJSON(ctx, "POST", "/api/auth/login", loginRequest{Plate: plate, Password: password}, &out); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Logout 注销会话并清空本地令牌
func (c *Client) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, "POST", "/api/auth/logout", nil, nil)
	c.SetToken("")
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Me 用当前令牌做会话校验
func (c *Client) Me(ctx context.Context) (*models.Driver, error) {
	var d models.Driver
	if err := c.doJSON(ctx, "GET", "/api/auth/me", nil, &d); err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	return &d, nil
}

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
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
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
