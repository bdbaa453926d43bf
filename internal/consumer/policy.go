package consumer

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/imgcache/internal/config"
)

// ErrInvalidSource 表示图片来源不是可访问的 web URL，或不在白名单内。
var ErrInvalidSource = errors.New("invalid image source")

// URLPolicy 描述允许的协议与主机白名单；白名单为空时不限制主机。
type URLPolicy struct {
	ValidProtocols []string
	HostWhitelist  []string
}

// PolicyFromConfig 从消费层配置构造 URLPolicy。
func PolicyFromConfig(cfg config.ConsumerConfig) URLPolicy {
	return URLPolicy{
		ValidProtocols: append([]string(nil), cfg.ValidProtocols...),
		HostWhitelist:  append([]string(nil), cfg.FileHostWhitelist...),
	}
}

// Validate 要求 raw 是带协议的绝对 URL，协议在 ValidProtocols 内，且（若配置）主机在白名单内。
func (p URLPolicy) Validate(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty url: %w", ErrInvalidSource)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", err.Error(), ErrInvalidSource)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("%s is not an absolute url: %w", raw, ErrInvalidSource)
	}

	protocols := p.ValidProtocols
	if len(protocols) == 0 {
		protocols = []string{"http", "https"}
	}
	if !containsFold(protocols, parsed.Scheme) {
		return fmt.Errorf("protocol %q not allowed: %w", parsed.Scheme, ErrInvalidSource)
	}

	if len(p.HostWhitelist) > 0 && !containsFold(p.HostWhitelist, parsed.Hostname()) {
		return fmt.Errorf("host %q not whitelisted: %w", parsed.Hostname(), ErrInvalidSource)
	}
	return nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
