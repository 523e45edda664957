package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为：监听端口、日志、缓存驱动与上游访问参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	StoragePath     string   `mapstructure:"StoragePath"`
	RedisAddr       string   `mapstructure:"RedisAddr"`
	RedisPrefix     string   `mapstructure:"RedisPrefix"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// AppConfig 描述被代理的单页应用：缓存命名空间（版本号即名称）、预缓存清单、
// 数据服务识别规则以及后台同步参数。
type AppConfig struct {
	BaseURL                   string   `mapstructure:"BaseURL"`
	StaticNamespace           string   `mapstructure:"StaticNamespace"`
	DynamicNamespace          string   `mapstructure:"DynamicNamespace"`
	ShellDocument             string   `mapstructure:"ShellDocument"`
	Manifest                  []string `mapstructure:"Manifest"`
	DataOriginPattern         string   `mapstructure:"DataOriginPattern"`
	ShareTargetPath           string   `mapstructure:"ShareTargetPath"`
	SharedDataKey             string   `mapstructure:"SharedDataKey"`
	SyncTag                   string   `mapstructure:"SyncTag"`
	PeriodicSyncTag           string   `mapstructure:"PeriodicSyncTag"`
	PeriodicSyncInterval      Duration `mapstructure:"PeriodicSyncInterval"`
	ConnectivityProbeInterval Duration `mapstructure:"ConnectivityProbeInterval"`
	// DeferActivation 为 true 时，安装完成的新版本等待 SKIP_WAITING 消息才激活。
	DeferActivation bool `mapstructure:"DeferActivation"`
}

// OriginConfig 把本地 Host 映射到一个上游源站（应用本身、数据服务或 CDN）。
type OriginConfig struct {
	Name     string `mapstructure:"Name"`
	Domain   string `mapstructure:"Domain"`
	Upstream string `mapstructure:"Upstream"`
	Proxy    string `mapstructure:"Proxy"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	App     AppConfig      `mapstructure:"App"`
	Origins []OriginConfig `mapstructure:"Origin"`
}

// Resolve 以 BaseURL 为基准解析相对地址（如 "./index.html"），绝对地址原样返回。
func (a AppConfig) Resolve(ref string) (*url.URL, error) {
	base, err := url.Parse(a.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	target, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	resolved := base.ResolveReference(target)
	resolved.Fragment = ""
	return resolved, nil
}

// ResolveString 与 Resolve 相同，但直接返回字符串形式，出错时返回空串。
func (a AppConfig) ResolveString(ref string) string {
	u, err := a.Resolve(ref)
	if err != nil {
		return ""
	}
	return u.String()
}

// OriginNames 返回所有源站的 name:domain 摘要，供日志字段使用。
func OriginNames(origins []OriginConfig) []string {
	if len(origins) == 0 {
		return nil
	}
	result := make([]string, len(origins))
	for i, origin := range origins {
		result[i] = fmt.Sprintf("%s:%s", origin.Name, origin.Domain)
	}
	return result
}
