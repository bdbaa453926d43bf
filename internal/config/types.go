package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
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

// ByteSize 兼容纯字节整数与 "15MiB"、"512k" 等人类可读写法。
type ByteSize int64

// UnmarshalText 解析字节数配置。
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// Int64 返回字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String 以二进制单位输出，例如 "15MiB"。
func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if intVal, err := parseInt(raw); err == nil {
		return ByteSize(intVal), nil
	}
	size, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	return ByteSize(size), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述运行时行为，TOML 顶层字段直接映射到这里。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// StoragePath 是平台相关的基础目录，实际缓存根目录为 StoragePath/FileDirName。
	StoragePath            string   `mapstructure:"StoragePath"`
	FileDirName            string   `mapstructure:"FileDirName"`
	CachePruneTriggerLimit ByteSize `mapstructure:"CachePruneTriggerLimit"`
	UpstreamTimeout        Duration `mapstructure:"UpstreamTimeout"`
	WarmConcurrency        int      `mapstructure:"WarmConcurrency"`
}

// ConsumerConfig 只被消费层（HTTP 接口）用于校验图片来源，缓存核心不读取这些字段。
type ConsumerConfig struct {
	ValidProtocols    []string `mapstructure:"ValidProtocols"`
	FileHostWhitelist []string `mapstructure:"FileHostWhitelist"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Consumer ConsumerConfig `mapstructure:",squash"`
}

// CacheRoot 返回缓存根目录。
func (c *Config) CacheRoot() string {
	return filepath.Join(c.Global.StoragePath, c.Global.FileDirName)
}
