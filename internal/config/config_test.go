package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chainflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
chains:
  path: chains.yaml
actions:
  - type: vault-sync
    chain: base
    interval: 1h
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Storage.TaskStore.Driver != TaskStoreMemory {
		t.Fatalf("unexpected driver: %s", cfg.Storage.TaskStore.Driver)
	}
	if cfg.Scoring.Provider != ScoringStatic {
		t.Fatalf("unexpected scoring provider: %s", cfg.Scoring.Provider)
	}
	if cfg.Runner.Interval.Std() != 30*time.Second {
		t.Fatalf("unexpected interval: %v", cfg.Runner.Interval.Std())
	}
	// 相对路径基于配置文件所在目录解析。
	if !filepath.IsAbs(cfg.Chains.Path) {
		t.Fatalf("expected absolute chains path, got %s", cfg.Chains.Path)
	}
	if cfg.Actions[0].Interval.Std() != time.Hour {
		t.Fatalf("unexpected action interval: %v", cfg.Actions[0].Interval.Std())
	}
}

func TestLoadRejectsMySQLWithoutDSN(t *testing.T) {
	path := writeConfig(t, `
storage:
  task_store:
    driver: mysql
chains:
  path: chains.yaml
actions:
  - type: vault-sync
    chain: base
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing dsn")
	}
}

func TestLoadRejectsEmptyActions(t *testing.T) {
	path := writeConfig(t, `
chains:
  path: chains.yaml
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for empty actions")
	}
}

func TestLoadRejectsIncompleteAction(t *testing.T) {
	path := writeConfig(t, `
chains:
  path: chains.yaml
actions:
  - type: bridge
    from_chain: base
    asset: USDC
    amount: "1000"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for bridge without to_chain")
	}
}

func TestLoadRejectsUnknownActionType(t *testing.T) {
	path := writeConfig(t, `
chains:
  path: chains.yaml
actions:
  - type: teleport
    chain: base
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown action type")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
runner:
  interval: soon
chains:
  path: chains.yaml
actions:
  - type: vault-sync
    chain: base
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error for invalid duration")
	}
}
