package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CachePruneTriggerLimit.Int64() != 15*1024*1024 {
		t.Fatalf("CachePruneTriggerLimit 应解析为 15MiB，得到 %d", cfg.Global.CachePruneTriggerLimit)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 20*time.Second {
		t.Fatalf("UpstreamTimeout 应解析为 20s，得到 %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应被转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.WarmConcurrency != 4 {
		t.Fatalf("WarmConcurrency 应当使用默认值 4，得到 %d", cfg.Global.WarmConcurrency)
	}
	if len(cfg.Consumer.FileHostWhitelist) != 2 {
		t.Fatalf("FileHostWhitelist 应当被解析: %v", cfg.Consumer.FileHostWhitelist)
	}
	if got := cfg.CacheRoot(); got != filepath.Join(cfg.Global.StoragePath, "imgcache") {
		t.Fatalf("CacheRoot 不符合预期: %s", got)
	}
}

func TestValidateRejectsEscapingDirName(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("越界的 FileDirName 应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateFields(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero prune limit", func(c *Config) { c.Global.CachePruneTriggerLimit = 0 }, true},
		{"absolute dir name", func(c *Config) { c.Global.FileDirName = "/tmp/imgcache" }, true},
		{"nested dir name", func(c *Config) { c.Global.FileDirName = "apps/imgcache" }, false},
		{"bad log level", func(c *Config) { c.Global.LogLevel = "verbose" }, true},
		{"no protocols", func(c *Config) { c.Consumer.ValidProtocols = nil }, true},
		{"protocol with colon", func(c *Config) { c.Consumer.ValidProtocols = []string{"https:"} }, true},
		{"host with path", func(c *Config) { c.Consumer.FileHostWhitelist = []string{"example.com/img"} }, true},
		{"zero timeout", func(c *Config) { c.Global.UpstreamTimeout = 0 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFieldErrorMessage(t *testing.T) {
	cfg := validConfig()
	cfg.Global.StoragePath = ""
	err := cfg.Validate()
	fieldErr, ok := err.(FieldError)
	if !ok {
		t.Fatalf("期望 FieldError，得到 %T", err)
	}
	if fieldErr.Field != "Global.StoragePath" {
		t.Fatalf("字段路径不符合预期: %s", fieldErr.Field)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("FieldError 应匹配 ErrInvalidConfig")
	}

	cfg = validConfig()
	cfg.Global.FileDirName = "../up"
	err = cfg.Validate()
	if fieldErr, ok := err.(FieldError); !ok || fieldErr.Field != "Global.FileDirName" {
		t.Fatalf("目录名错误应返回 FieldError，得到 %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:             5000,
			LogLevel:               "info",
			StoragePath:            "./data",
			FileDirName:            "imgcache",
			CachePruneTriggerLimit: ByteSize(15 * 1024 * 1024),
			UpstreamTimeout:        Duration(time.Second),
			WarmConcurrency:        2,
		},
		Consumer: ConsumerConfig{
			ValidProtocols: []string{"http", "https"},
		},
	}
}
