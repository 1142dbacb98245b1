package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultClientPath   = "~/.config/ducklord/client.toml"
	defaultServerURL    = "http://127.0.0.1:8080"
	defaultPollInterval = 150 * time.Millisecond
	defaultHistoryCount = 50
	defaultClientLog    = "~/.local/state/ducklord/client.log"
)

// Client 是终端客户端的配置，从 TOML 文件读取，文件缺失时使用默认值。
type Client struct {
	ServerURL    string
	Username     string
	Password     string
	Register     bool
	PollInterval time.Duration
	HistoryCount int
	LogFile      string
}

// LoadClient 读取客户端配置；path 为空时使用默认路径。
func LoadClient(path string) (Client, error) {
	cfg := Client{
		ServerURL:    defaultServerURL,
		PollInterval: defaultPollInterval,
		HistoryCount: defaultHistoryCount,
		LogFile:      expandHome(defaultClientLog),
	}
	if strings.TrimSpace(path) == "" {
		path = defaultClientPath
	}

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Client{}, fmt.Errorf("read client config: %w", err)
	}

	var raw struct {
		ServerURL      string `toml:"server_url"`
		Username       string `toml:"username"`
		Password       string `toml:"password"`
		Register       bool   `toml:"register"`
		PollIntervalMS int    `toml:"poll_interval_ms"`
		HistoryCount   int    `toml:"history_count"`
		LogFile        string `toml:"log_file"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Client{}, fmt.Errorf("parse client config: %w", err)
	}

	if v := strings.TrimSpace(raw.ServerURL); v != "" {
		cfg.ServerURL = v
	}
	cfg.Username = strings.TrimSpace(raw.Username)
	cfg.Password = raw.Password
	cfg.Register = raw.Register
	if raw.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(raw.PollIntervalMS) * time.Millisecond
	}
	if raw.HistoryCount > 0 {
		cfg.HistoryCount = raw.HistoryCount
	}
	if v := strings.TrimSpace(raw.LogFile); v != "" {
		cfg.LogFile = expandHome(v)
	}
	return cfg, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
