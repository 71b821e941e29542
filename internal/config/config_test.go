package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/syncline-dev/syncline/internal/errors"
	"github.com/syncline-dev/syncline/pkg/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var se *errors.SynclineError
	if !stderrors.As(err, &se) {
		t.Fatalf("err = %v, want SynclineError", err)
	}
	return se.Code
}

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.Server.Address != DefaultAddress {
		t.Errorf("address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoadEmptyFileIsValid(t *testing.T) {
	dir := writeConfig(t, "")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != DefaultAddress {
		t.Errorf("address = %q, want default", cfg.Server.Address)
	}
	if cfg.Path() != filepath.Join(dir, ConfigFileName) {
		t.Errorf("Path() = %q", cfg.Path())
	}
}

func TestLoadFullConfig(t *testing.T) {
	dir := writeConfig(t, `
server:
  address: ":9000"
  shutdown_timeout: 10s
  allowed_origins: ["https://app.example.com"]
session:
  idle_timeout: 2m
  lock_timeout: 1s
  max_delta_history: 50
manager:
  max_sessions: 100
  resume_window: 90s
store:
  backend: redis
  redis:
    addr: localhost:6379
    prefix: "custom:"
logging:
  level: debug
  format: json
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	sc := cfg.ServerConfig()
	if sc.Address != ":9000" {
		t.Errorf("address = %q, want :9000", sc.Address)
	}
	if sc.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want 10s", sc.ShutdownTimeout)
	}

	sess := cfg.SessionConfig()
	if sess.IdleTimeout != 2*time.Minute {
		t.Errorf("idle timeout = %v, want 2m", sess.IdleTimeout)
	}
	if sess.LockTimeout != time.Second {
		t.Errorf("lock timeout = %v, want 1s", sess.LockTimeout)
	}
	if sess.MaxDeltaHistory != 50 {
		t.Errorf("history = %d, want 50", sess.MaxDeltaHistory)
	}
	// Unset fields keep their defaults.
	if sess.MaxEventQueue != 256 {
		t.Errorf("event queue = %d, want default 256", sess.MaxEventQueue)
	}

	mc := cfg.ManagerConfig()
	if mc.MaxSessions != 100 {
		t.Errorf("max sessions = %d, want 100", mc.MaxSessions)
	}
	if mc.ResumeWindow != 90*time.Second {
		t.Errorf("resume window = %v, want 90s", mc.ResumeWindow)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	if code := errCode(t, err); code != "E101" {
		t.Errorf("code = %s, want E101", code)
	}
}

func TestLoadBadYAML(t *testing.T) {
	dir := writeConfig(t, "server:\n\taddress: tabs-are-not-yaml\n")
	_, err := Load(dir)
	if code := errCode(t, err); code != "E102" {
		t.Errorf("code = %s, want E102", code)
	}
}

func TestValidateBadDuration(t *testing.T) {
	dir := writeConfig(t, "session:\n  lock_timeout: fivesec\n")
	_, err := Load(dir)
	if code := errCode(t, err); code != "E104" {
		t.Errorf("code = %s, want E104", code)
	}
}

func TestValidateBadAddress(t *testing.T) {
	dir := writeConfig(t, "server:\n  address: not-an-address\n")
	_, err := Load(dir)
	if code := errCode(t, err); code != "E105" {
		t.Errorf("code = %s, want E105", code)
	}
}

func TestValidateUnknownBackend(t *testing.T) {
	dir := writeConfig(t, "store:\n  backend: postgres\n")
	_, err := Load(dir)
	if code := errCode(t, err); code != "E201" {
		t.Errorf("code = %s, want E201", code)
	}
}

func TestValidateRedisWithoutAddr(t *testing.T) {
	dir := writeConfig(t, "store:\n  backend: redis\n")
	_, err := Load(dir)
	if code := errCode(t, err); code != "E202" {
		t.Errorf("code = %s, want E202", code)
	}
}

func TestValidateS3WithoutBucket(t *testing.T) {
	dir := writeConfig(t, "store:\n  backend: s3\n")
	_, err := Load(dir)
	if code := errCode(t, err); code != "E202" {
		t.Errorf("code = %s, want E202", code)
	}
}

func TestFindProjectRootWalksUp(t *testing.T) {
	root := writeConfig(t, "")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	found, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatalf("FindProjectRoot failed: %v", err)
	}
	if found != root {
		t.Errorf("root = %q, want %q", found, root)
	}
}

func TestFindProjectRootMissing(t *testing.T) {
	_, err := FindProjectRoot(t.TempDir())
	if code := errCode(t, err); code != "E101" {
		t.Errorf("code = %s, want E101", code)
	}
}

func TestOpenStoreMemory(t *testing.T) {
	cfg := New()
	st, err := cfg.OpenStore()
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*store.MemoryStore); !ok {
		t.Errorf("store is %T, want *store.MemoryStore", st)
	}
}

func TestOpenStoreRedis(t *testing.T) {
	cfg := New()
	cfg.Store.Backend = "redis"
	cfg.Store.Redis.Addr = "localhost:6379"

	// Construction is lazy; no connection happens here.
	st, err := cfg.OpenStore()
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*store.RedisStore); !ok {
		t.Errorf("store is %T, want *store.RedisStore", st)
	}
}
