package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Trip 是由 Trip Service 拥有的共享行程记录。客户端只持有只读副本，
// 通过 partial update 提交变更。
//
// destination 在线上是一个不透明字符串（内嵌 JSON），解析失败时保持为空，
// 不中断整个快照的反序列化。
type Trip struct {
	ID                    string       `json:"id"`
	IMEI                  string       `json:"imei"`
	IsActive              bool         `json:"is_active"`
	IsCompleted           bool         `json:"is_completed"`
	IsCanceledByPassenger bool         `json:"is_canceled_by_passenger"`
	Destination           *Destination `json:"-"`
	GracePeriodActive     bool         `json:"grace_period_active"`
	GracePeriodEndTime    *time.Time   `json:"grace_period_end_time,omitempty"`
	HasBeenShared         bool         `json:"has_been_shared"`
	StartDate             *time.Time   `json:"start_date,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// Destination 乘客选择的目的地
type Destination struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Encode 序列化为线上使用的不透明字符串
func (d *Destination) Encode() string {
	data, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(data)
}

type tripWire struct {
	ID                    string     `json:"id"`
	IMEI                  string     `json:"imei"`
	IsActive              bool       `json:"is_active"`
	IsCompleted           bool       `json:"is_completed"`
	IsCanceledByPassenger bool       `json:"is_canceled_by_passenger"`
	Destination           string     `json:"destination,omitempty"`
	GracePeriodActive     bool       `json:"grace_period_active"`
	GracePeriodEndTime    *time.Time `json:"grace_period_end_time,omitempty"`
	HasBeenShared         bool       `json:"has_been_shared"`
	StartDate             *time.Time `json:"start_date,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// UnmarshalJSON 解析行程快照，destination 字符串解析失败时留空
func (t *Trip) UnmarshalJSON(data []byte) error {
	var w tripWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	t.ID = w.ID
	t.IMEI = w.IMEI
	t.IsActive = w.IsActive
	t.IsCompleted = w.IsCompleted
	t.IsCanceledByPassenger = w.IsCanceledByPassenger
	t.GracePeriodActive = w.GracePeriodActive
	t.GracePeriodEndTime = w.GracePeriodEndTime
	t.HasBeenShared = w.HasBeenShared
	t.StartDate = w.StartDate
	t.CreatedAt = w.CreatedAt
	t.UpdatedAt = w.UpdatedAt

	t.Destination = nil
	if w.Destination != "" {
		var d Destination
		if err := json.Unmarshal([]byte(w.Destination), &d); err == nil && d.Address != "" {
			t.Destination = &d
		}
	}

	return nil
}

// MarshalJSON 按线上格式输出，destination 编码为字符串
func (t Trip) MarshalJSON() ([]byte, error) {
	w := tripWire{
		ID:                    t.ID,
		IMEI:                  t.IMEI,
		IsActive:              t.IsActive,
		IsCompleted:           t.IsCompleted,
		IsCanceledByPassenger: t.IsCanceledByPassenger,
		GracePeriodActive:     t.GracePeriodActive,
		GracePeriodEndTime:    t.GracePeriodEndTime,
		HasBeenShared:         t.HasBeenShared,
		StartDate:             t.StartDate,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
	if t.Destination != nil {
		w.Destination = t.Destination.Encode()
	}
	return json.Marshal(w)
}

// TripIdentifier 乘客侧调用 stop/update 接口所需的最小联合键，
// 从首个快照或扫码结果派生一次，整个会话期间持有
type TripIdentifier struct {
	IMEI   string `json:"imei"`
	TripID string `json:"trip_id"`
}

// Valid 两个字段都非空才可用
func (ti TripIdentifier) Valid() bool {
	return ti.IMEI != "" && ti.TripID != ""
}

// qrPayload QR 码内嵌的 JSON 载荷
type qrPayload struct {
	TripID string `json:"tripId"`
}

// ParseQRPayload 解析扫码结果。正常载荷是 {"tripId": "..."}；
// 解析失败时降级为把原始文本当作裸 trip id
func ParseQRPayload(raw string) string {
	raw = strings.TrimSpace(raw)

	var p qrPayload
	if err := json.Unmarshal([]byte(raw), &p); err == nil && p.TripID != "" {
		return p.TripID
	}

	return raw
}
