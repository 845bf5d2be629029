package session

import (
	"encoding/json"
	"os"
	"sync"
)

// Data 需要跨重启保留的司机会话状态，web 端 localStorage 的等价物
type Data struct {
	TripID        string `json:"trip_id"`
	Plate         string `json:"plate"`
	Authenticated bool   `json:"authenticated"`
}

// Store 文件型键值存储，只存一份司机会话
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore 创建会话存储
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load 读取持久化的会话，文件不存在时返回零值
func (s *Store) Load() (Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Data{}, nil
		}
		return Data{}, err
	}

	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		// 损坏的会话文件当作没有会话，恢复流程会走完整登出
		return Data{}, nil
	}
	return d, nil
}

// Save 持久化会话
func (s *Store) Save(d Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0600)
}

// Clear 清除持久化的会话，文件不存在时不报错
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
