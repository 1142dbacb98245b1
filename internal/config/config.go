package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port              string
	JWTSecret         string
	Env               string
	SessionTTLMinutes int
	OnlineWindow      time.Duration
	HistoryLimit      int
	LongPollMax       time.Duration
	MaxMessageLength  int
	SeedAdminUsername string
	SeedAdminPassword string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// lookupenv 与 getenv 不同：变量存在但为空时返回空串，只有未设置时才用默认值。
func lookupenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// getenvInt 读取正整数环境变量，缺失或非法时回退到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:              getenv("APP_PORT", "8080"),
		JWTSecret:         getenv("JWT_SECRET", defaultJWTSecret),
		Env:               getenv("APP_ENV", "dev"),
		SessionTTLMinutes: getenvInt("SESSION_TTL_MINUTES", 720),
		OnlineWindow:      time.Duration(getenvInt("ONLINE_WINDOW_SECONDS", 5)) * time.Second,
		HistoryLimit:      getenvInt("HISTORY_LIMIT", 100),
		LongPollMax:       time.Duration(getenvInt("LONG_POLL_MAX_MS", 25000)) * time.Millisecond,
		MaxMessageLength:  getenvInt("MAX_MESSAGE_LENGTH", 2000),
		// SEED_ADMIN_USERNAME 设为空串时不创建管理员。
		SeedAdminUsername: lookupenv("SEED_ADMIN_USERNAME", "Ducklord"),
		SeedAdminPassword: getenv("SEED_ADMIN_PASSWORD", "chatking"),
	}
}

// Validate 在启动前检查配置，非 dev 环境禁止使用默认密钥和默认管理员密码。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if cfg.Env != "dev" {
		if cfg.JWTSecret == defaultJWTSecret {
			return errors.New("default jwt secret is not allowed outside dev")
		}
		if cfg.SeedAdminUsername != "" && cfg.SeedAdminPassword == "chatking" {
			return errors.New("default admin password is not allowed outside dev")
		}
	}
	return nil
}
