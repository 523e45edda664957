package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedStorageDrivers = map[string]struct{}{
	"memory": {},
	"file":   {},
	"sqlite": {},
	"redis":  {},
}

const supportedStorageDriverList = "memory|file|sqlite|redis"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := c.Global.validate(); err != nil {
		return err
	}
	if err := c.App.validate(); err != nil {
		return err
	}

	if len(c.Origins) == 0 {
		return errors.New("至少需要配置一个 Origin")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	for i := range c.Origins {
		origin := &c.Origins[i]
		if origin.Name == "" {
			return newFieldError("Origin[].Name", "不能为空")
		}
		if _, exists := seenNames[origin.Name]; exists {
			return newFieldError(originField(origin.Name, "Name"), "重复")
		}
		seenNames[origin.Name] = struct{}{}

		if err := validateDomain(origin.Domain); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Name, "Domain"), err)
		}
		domain := strings.ToLower(origin.Domain)
		if _, exists := seenDomains[domain]; exists {
			return newFieldError(originField(origin.Name, "Domain"), "重复")
		}
		seenDomains[domain] = struct{}{}

		if err := validateUpstream(origin.Upstream); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Name, "Upstream"), err)
		}
		if origin.Proxy != "" {
			if err := validateUpstream(origin.Proxy); err != nil {
				return fmt.Errorf("%s: %w", originField(origin.Name, "Proxy"), err)
			}
		}
	}

	return nil
}

func (g GlobalConfig) validate() error {
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	driver := strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if _, ok := supportedStorageDrivers[driver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedStorageDriverList)
	}
	if (driver == "file" || driver == "sqlite") && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if driver == "redis" && strings.TrimSpace(g.RedisAddr) == "" {
		return newFieldError("Global.RedisAddr", "redis 驱动需要地址")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	return nil
}

func (a AppConfig) validate() error {
	if err := validateUpstream(a.BaseURL); err != nil {
		return fmt.Errorf("App.BaseURL: %w", err)
	}
	if strings.TrimSpace(a.StaticNamespace) == "" {
		return newFieldError("App.StaticNamespace", "不能为空")
	}
	if strings.TrimSpace(a.DynamicNamespace) == "" {
		return newFieldError("App.DynamicNamespace", "不能为空")
	}
	if a.StaticNamespace == a.DynamicNamespace {
		return newFieldError("App.DynamicNamespace", "不能与 StaticNamespace 相同")
	}
	if strings.TrimSpace(a.DataOriginPattern) == "" {
		return newFieldError("App.DataOriginPattern", "不能为空")
	}
	if !strings.HasPrefix(a.ShareTargetPath, "/") {
		return newFieldError("App.ShareTargetPath", "必须以 / 开头")
	}
	for i, ref := range a.Manifest {
		if strings.TrimSpace(ref) == "" {
			return newFieldError(fmt.Sprintf("App.Manifest[%d]", i), "不能为空")
		}
		if _, err := a.Resolve(ref); err != nil {
			return newFieldError(fmt.Sprintf("App.Manifest[%d]", i), err.Error())
		}
	}
	if _, err := a.Resolve(a.ShellDocument); err != nil {
		return newFieldError("App.ShellDocument", err.Error())
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
