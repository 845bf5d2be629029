package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Database（可选，为空则不落行程日志）
	DatabaseURL string

	// Trip Service
	TripServiceURL string
	TripServiceKey string
	RealtimeURL    string

	// Directory Service
	DirectoryURL string

	// 分享链接的对外站点地址
	PublicBaseURL string

	// 宽限期与链路质量
	GracePeriod     time.Duration
	UseQualityProbe bool

	// 司机会话存储路径
	SessionFile string
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:      getEnv("PORT", "4000"),
		Debug:           getEnvBool("DEBUG", false),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		TripServiceURL:  getEnv("TRIP_SERVICE_URL", "https://api.wari.pe"),
		TripServiceKey:  getEnv("TRIP_SERVICE_KEY", ""),
		RealtimeURL:     getEnv("REALTIME_URL", "wss://api.wari.pe/realtime"),
		DirectoryURL:    getEnv("DIRECTORY_URL", "https://directory.wari.pe"),
		PublicBaseURL:   getEnv("PUBLIC_BASE_URL", "https://wari.pe"),
		GracePeriod:     getEnvDuration("GRACE_PERIOD", 600*time.Second),
		UseQualityProbe: getEnvBool("USE_QUALITY_PROBE", true),
		SessionFile:     getEnv("SESSION_FILE", "session.json"),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
