package models

// 行程状态码（客户端派生，不落库）
const (
	StatusActive    = "ACTIVE"
	StatusCancelled = "CANCELLED"
	StatusCompleted = "COMPLETED"
	StatusError     = "ERROR"
)

// TripStatus 视图层消费的派生状态。每次分类事件整体替换，从不合并。
// Countdown 仅在宽限期倒计时中非零，单位秒。
type TripStatus struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
	Countdown   int    `json:"countdown,omitempty"`
}
