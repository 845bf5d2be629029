package models

import "time"

// Vehicle 车辆目录返回的设备对象，按 IMEI 绑定一台物理定位器
type Vehicle struct {
	IMEI      string    `json:"imei"`
	Plate     string    `json:"plate"`
	Brand     string    `json:"brand,omitempty"`
	Model     string    `json:"model,omitempty"`
	OwnerName string    `json:"owner_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Driver 司机账号信息
type Driver struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plate     string    `json:"plate"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sponsor 赞助商条目（外围透传数据）
type Sponsor struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logo_url"`
	SiteURL string `json:"site_url,omitempty"`
}
