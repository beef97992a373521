package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "telenode.yml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func radioConfig(dir, level string) string {
	return `
telenode:
  node:
    name: test-node
  destination:
    address: "2001:db8::1"
    port: "1337"
  distribution:
    mode: PERIODIC
    period: 20ms
    packet_size: 4
    seed: 11
  stack:
    type: radio
    radio:
      peers: 1
      dio_interval_min: 4
      dio_doublings: 2
  stats:
    enabled: true
    interval: 50ms
  sinks:
    console: false
    file:
      enabled: true
      path: ` + filepath.Join(dir, "records.log") + `
  metrics:
    enabled: false
  log:
    level: ` + level + `
    format: text
`
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, radioConfig(tmpDir, "debug"))
	pidFile := filepath.Join(tmpDir, "telenode.pid")

	d, err := New(configPath, pidFile)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		t.Errorf("PID file was not created: %s", pidFile)
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run()
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		stats := d.SchedulerStats()
		if len(stats) == 1 && stats[0].Sent >= 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	d.TriggerShutdown()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("daemon.Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("PID file was not removed after shutdown: %s", pidFile)
	}

	stats := d.SchedulerStats()
	if len(stats) != 1 || stats[0].Sent < 3 {
		t.Fatalf("expected at least 3 packets sent, got %+v", stats)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "records.log"))
	if err != nil {
		t.Fatalf("failed to read records: %v", err)
	}
	records := string(data)
	for _, want := range []string{
		"info,telenode test-node starting\n",
		"info,stack radio interfaces wpan0#6 peers 1\n",
		"\nudp,4,2001:db8::1,1337,",
		"\nstats,1,Layer 2,",
		"\nstats,1,IPv6,",
		"\nrpl_stats,DIO,packets,",
		"\nrpl_stats_dodag,0,2001:db8::1,512,Router,on,16,2,10,",
		"\nrpl_stats_parent,0,fe80::",
	} {
		if !strings.Contains(records, want) {
			t.Errorf("records do not contain %q", want)
		}
	}
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	d, err := New(writeConfig(t, tmpDir, radioConfig(tmpDir, "info")), "")
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}
	d.Stop()
	d.Stop()

	if d.Stack().Name() != "radio" {
		t.Errorf("expected radio stack, got %s", d.Stack().Name())
	}
	if d.MetricsAddr() != "" {
		t.Errorf("metrics disabled but bound to %s", d.MetricsAddr())
	}
}

func TestDaemon_MissingConfig(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent.yml"), ""); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
