package config

import "testing"

func TestLoadFailsWithInvalidFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("非法字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadParsesByteSizes(t *testing.T) {
	testCases := []struct {
		raw  string
		want int64
	}{
		{`CachePruneTriggerLimit = 5000000`, 5000000},
		{`CachePruneTriggerLimit = "512k"`, 512 * 1024},
		{`CachePruneTriggerLimit = "1GiB"`, 1 << 30},
		{`CachePruneTriggerLimit = "0x100"`, 256},
	}
	for _, tc := range testCases {
		path := writeTempConfig(t, "StoragePath = \"./data\"\n"+tc.raw+"\n")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("%s: 解析失败: %v", tc.raw, err)
		}
		if cfg.Global.CachePruneTriggerLimit.Int64() != tc.want {
			t.Fatalf("%s: 期望 %d，得到 %d", tc.raw, tc.want, cfg.Global.CachePruneTriggerLimit.Int64())
		}
	}
}

func TestLoadRejectsInvalidByteSize(t *testing.T) {
	path := writeTempConfig(t, "StoragePath = \"./data\"\nCachePruneTriggerLimit = \"lots\"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("无效字节大小应失败")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("IMGCACHE_FILEDIRNAME", "from-env")
	path := writeTempConfig(t, "StoragePath = \"./data\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if cfg.Global.FileDirName != "from-env" {
		t.Fatalf("环境变量应覆盖 FileDirName，得到 %s", cfg.Global.FileDirName)
	}
}

func TestLoadDefaultsProtocols(t *testing.T) {
	path := writeTempConfig(t, "StoragePath = \"./data\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(cfg.Consumer.ValidProtocols) != 2 {
		t.Fatalf("ValidProtocols 默认应为 http/https，得到 %v", cfg.Consumer.ValidProtocols)
	}
	if cfg.Global.CachePruneTriggerLimit.Int64() != DefaultPruneTriggerLimit {
		t.Fatalf("CachePruneTriggerLimit 默认应为 15MiB")
	}
}
