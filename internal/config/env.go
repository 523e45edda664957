package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides 汇总允许通过环境变量覆盖的字段，便于容器部署。
type EnvOverrides struct {
	ConfigPath  string `env:"OFFLINE_HUB_CONFIG"`
	ListenPort  int    `env:"OFFLINE_HUB_LISTEN_PORT"`
	LogLevel    string `env:"OFFLINE_HUB_LOG_LEVEL"`
	StorageType string `env:"OFFLINE_HUB_STORAGE_DRIVER"`
	RedisAddr   string `env:"OFFLINE_HUB_REDIS_ADDR"`
}

// ParseEnv 读取 OFFLINE_HUB_* 环境变量。
func ParseEnv() (EnvOverrides, error) {
	var overrides EnvOverrides
	if err := env.Parse(&overrides); err != nil {
		return EnvOverrides{}, fmt.Errorf("解析环境变量失败: %w", err)
	}
	return overrides, nil
}

// Apply 将非空的覆盖项写回配置。
func (o EnvOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.ListenPort != 0 {
		cfg.Global.ListenPort = o.ListenPort
	}
	if level := strings.TrimSpace(o.LogLevel); level != "" {
		cfg.Global.LogLevel = level
	}
	if driver := strings.TrimSpace(o.StorageType); driver != "" {
		cfg.Global.StorageDriver = driver
	}
	if addr := strings.TrimSpace(o.RedisAddr); addr != "" {
		cfg.Global.RedisAddr = addr
	}
}
