package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/nerrad567/growrack-core/internal/api"
	"github.com/nerrad567/growrack-core/internal/automation"
	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
	"github.com/nerrad567/growrack-core/internal/infrastructure/logging"
)

const testConfigTemplate = `
site:
  id: test-site

database:
  path: "{{DB_PATH}}"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: {{MQTT_PORT}}
    client_id: "growrack-test"
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5

influxdb:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`

func writeTestConfig(t *testing.T, dbPath, mqttPort string) string {
	t.Helper()
	content := strings.NewReplacer("{{DB_PATH}}", dbPath, "{{MQTT_PORT}}", mqttPort).Replace(testConfigTemplate)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GROWRACK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails validation with an empty
// database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("GROWRACK_CONFIG", writeTestConfig(t, "", "1883"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want database.path complaint", err)
	}
}

// TestRun_UnreachableBroker verifies startup fails when MQTT is down.
// Connecting waits for the client's connect timeout.
func TestRun_UnreachableBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the MQTT connect timeout")
	}
	dbPath := filepath.Join(t.TempDir(), "test.db")
	t.Setenv("GROWRACK_CONFIG", writeTestConfig(t, dbPath, "19999"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without a broker")
	}
	if !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Errorf("error = %v, want MQTT connection failure", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GROWRACK_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GROWRACK_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestOpenCooldownTracker_Memory(t *testing.T) {
	cfg := &config.Config{Automation: config.AutomationConfig{CooldownStore: config.CooldownStoreMemory}}

	tracker, release, err := openCooldownTracker(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("openCooldownTracker() error: %v", err)
	}
	defer release()

	if _, ok := tracker.(*automation.MemoryCooldownTracker); !ok {
		t.Errorf("tracker = %T, want *automation.MemoryCooldownTracker", tracker)
	}
}

func TestOpenCooldownTracker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		Automation: config.AutomationConfig{CooldownStore: config.CooldownStoreRedis},
		Redis:      config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:cooldown:"},
	}

	tracker, release, err := openCooldownTracker(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("openCooldownTracker() error: %v", err)
	}
	defer release()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok, err := tracker.TryReserve(context.Background(), "rule-1", now, 10)
	if err != nil || !ok {
		t.Fatalf("TryReserve() = %v, %v; want true, nil", ok, err)
	}
	if !mr.Exists("test:cooldown:rule-1") {
		t.Errorf("reservation not stored under configured prefix; keys = %v", mr.Keys())
	}
}

func TestOpenCooldownTracker_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := &config.Config{
		Automation: config.AutomationConfig{CooldownStore: config.CooldownStoreRedis},
		Redis:      config.RedisConfig{Addr: addr},
	}
	if _, _, err := openCooldownTracker(context.Background(), cfg, testLogger()); err == nil {
		t.Fatal("openCooldownTracker() should fail when Redis is down")
	}
}

type stubCheck struct {
	err   error
	calls *[]string
	name  string
}

func (s stubCheck) HealthCheck(context.Context) error {
	*s.calls = append(*s.calls, s.name)
	return s.err
}

func TestHealthCheck_FirstFailureWins(t *testing.T) {
	var calls []string
	checks := map[string]api.HealthChecker{
		"database": stubCheck{name: "database", calls: &calls},
		"mqtt":     stubCheck{name: "mqtt", calls: &calls, err: errors.New("not connected")},
		"influxdb": stubCheck{name: "influxdb", calls: &calls, err: errors.New("unreachable")},
	}

	err := healthCheck(context.Background(), checks)
	if err == nil || !strings.HasPrefix(err.Error(), "mqtt:") {
		t.Fatalf("healthCheck() = %v, want mqtt failure", err)
	}
	if len(calls) != 2 {
		t.Errorf("checks run = %v, want database then mqtt", calls)
	}
}

func TestHealthCheck_OptionalInflux(t *testing.T) {
	var calls []string
	checks := map[string]api.HealthChecker{
		"database": stubCheck{name: "database", calls: &calls},
		"mqtt":     stubCheck{name: "mqtt", calls: &calls},
	}
	if err := healthCheck(context.Background(), checks); err != nil {
		t.Fatalf("healthCheck() = %v, want nil", err)
	}
}
