package daemon

import (
	"os"
	"strings"
	"testing"
)

func TestDaemon_ReloadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, radioConfig(tmpDir, "info"))

	d, err := New(configPath, "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if d.config.Log.Level != "info" {
		t.Fatalf("expected initial level info, got %s", d.config.Log.Level)
	}

	if err := os.WriteFile(configPath, []byte(radioConfig(tmpDir, "debug")), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if d.config.Log.Level != "debug" {
		t.Errorf("expected level debug after reload, got %s", d.config.Log.Level)
	}
}

func TestDaemon_ReloadKeepsBootSettings(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, radioConfig(tmpDir, "info"))

	d, err := New(configPath, "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	before := d.config.Distribution
	changed := strings.Replace(radioConfig(tmpDir, "info"), "period: 20ms", "period: 1s", 1)
	if err := os.WriteFile(configPath, []byte(changed), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if d.config.Distribution != before {
		t.Errorf("distribution changed on reload: %+v", d.config.Distribution)
	}
}

func TestDaemon_ReloadInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, radioConfig(tmpDir, "info"))

	d, err := New(configPath, "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if err := os.WriteFile(configPath, []byte("telenode:\n  log:\n    level: loud\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := d.Reload(); err == nil {
		t.Error("expected reload to fail on invalid config")
	}
	if d.config.Log.Level != "info" {
		t.Errorf("level changed despite failed reload: %s", d.config.Log.Level)
	}
}
