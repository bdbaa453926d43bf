package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var supportedLogLevels = map[string]struct{}{
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
	"fatal": {},
	"panic": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("配置为空: %w", ErrInvalidConfig)
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedLogLevels[strings.ToLower(strings.TrimSpace(g.LogLevel))]; !ok {
		return newFieldError("Global.LogLevel", "仅支持 trace/debug/info/warn/error/fatal/panic")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if err := validateDirName(g.FileDirName); err != nil {
		return newFieldError("Global.FileDirName", err.Error())
	}
	if g.CachePruneTriggerLimit <= 0 {
		return newFieldError("Global.CachePruneTriggerLimit", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.WarmConcurrency <= 0 {
		return newFieldError("Global.WarmConcurrency", "必须大于 0")
	}

	if len(c.Consumer.ValidProtocols) == 0 {
		return newFieldError("Consumer.ValidProtocols", "至少需要一个协议")
	}
	for _, proto := range c.Consumer.ValidProtocols {
		if proto == "" || strings.Contains(proto, ":") {
			return newFieldError("Consumer.ValidProtocols", fmt.Sprintf("非法协议: %q", proto))
		}
	}
	for _, host := range c.Consumer.FileHostWhitelist {
		if host == "" || strings.ContainsAny(host, "/ ") {
			return newFieldError("Consumer.FileHostWhitelist", fmt.Sprintf("非法主机: %q", host))
		}
	}

	return nil
}

func validateDirName(name string) error {
	if name == "" {
		return errors.New("不能为空")
	}
	if filepath.IsAbs(name) {
		return errors.New("必须是相对目录名")
	}
	if filepath.Clean(name) != name || strings.HasPrefix(name, "..") {
		return errors.New("不允许包含 .. 或多余分隔符")
	}
	return nil
}
