package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
nats:
  url: ""
queue:
  task_max_deliver: 3
  backoff_base_ms: 2000
policy:
  blocked_tools:
    - drop_table
  bulk_action_threshold: 10
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig失败: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port错误: %d", cfg.Server.Port)
	}
	if len(cfg.Policy.BlockedTools) != 1 || cfg.Policy.BlockedTools[0] != "drop_table" {
		t.Errorf("policy解析错误: %+v", cfg.Policy)
	}
	// 未配置的项落缺省值
	if cfg.Queue.ApprovalMaxDeliver != 2 {
		t.Errorf("approval_max_deliver缺省值错误: %d", cfg.Queue.ApprovalMaxDeliver)
	}
	if cfg.Provider.Model != "gpt-4-turbo-preview" {
		t.Errorf("model缺省值错误: %s", cfg.Provider.Model)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	t.Setenv("NATS_URL", "nats://10.0.0.1:4222")
	t.Setenv("PROVIDER_BASE_URL", "http://localhost:9999/v1")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig失败: %v", err)
	}
	if cfg.NATS.URL != "nats://10.0.0.1:4222" {
		t.Errorf("NATS_URL覆盖失败: %s", cfg.NATS.URL)
	}
	if cfg.Provider.BaseURL != "http://localhost:9999/v1" {
		t.Errorf("PROVIDER_BASE_URL覆盖失败: %s", cfg.Provider.BaseURL)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("缺失文件应报错")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Queue.TaskMaxDeliver != 3 || cfg.Queue.ApprovalMaxDeliver != 2 {
		t.Errorf("队列缺省值错误: %+v", cfg.Queue)
	}
	if cfg.Queue.BackoffBaseMs != 2000 {
		t.Errorf("退避缺省值错误: %d", cfg.Queue.BackoffBaseMs)
	}
	if cfg.Limiter.RatePerSecond != 1 || cfg.Limiter.Burst != 3 {
		t.Errorf("限流缺省值错误: %+v", cfg.Limiter)
	}
}
