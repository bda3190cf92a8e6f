package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesScalars(t *testing.T) {
	p := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 9090
  db_path: /tmp/convod-db
security:
  api_keys:
    backend: ["bk1", "bk2"]
    frontend: ["fk1"]
push:
  enabled: true
  endpoint: https://fcm.example.com/send
  timeout: 750ms
search:
  enabled: true
  endpoint: http://localhost:9200
  index_prefix: convod
outbox:
  capacity: 2048
  workers: 8
  retry_backoff: 2s
  max_pooled_buffer_bytes: 64KB
janitor:
  enabled: true
  cron: "0 3 * * *"
  period: 720h
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("Addr = %q", cfg.Addr())
	}
	if cfg.Push.Timeout.Duration() != 750*time.Millisecond {
		t.Fatalf("push timeout = %v", cfg.Push.Timeout.Duration())
	}
	if cfg.Outbox.RetryBackoff.Duration() != 2*time.Second {
		t.Fatalf("retry backoff = %v", cfg.Outbox.RetryBackoff.Duration())
	}
	if cfg.Outbox.MaxPooledBufferBytes.Int64() != 64000 {
		t.Fatalf("pooled buffer = %d", cfg.Outbox.MaxPooledBufferBytes.Int64())
	}
	if cfg.Janitor.Period.Duration() != 720*time.Hour {
		t.Fatalf("janitor period = %v", cfg.Janitor.Period.Duration())
	}
	if len(cfg.Security.APIKeys.Backend) != 2 || cfg.Security.APIKeys.Backend[0] != "bk1" {
		t.Fatalf("backend keys = %v", cfg.Security.APIKeys.Backend)
	}
}

func TestDurationNumericSeconds(t *testing.T) {
	p := writeConfig(t, "push:\n  timeout: 3\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Push.Timeout.Duration() != 3*time.Second {
		t.Fatalf("timeout = %v", cfg.Push.Timeout.Duration())
	}
}

func TestAddrDefaults(t *testing.T) {
	var cfg Config
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("Addr = %q", cfg.Addr())
	}
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("CONVOD_ADDR", "0.0.0.0:7070")
	t.Setenv("CONVOD_DB_PATH", "/var/lib/convod")
	t.Setenv("CONVOD_API_BACKEND_KEYS", "bk1, bk2")
	t.Setenv("CONVOD_PUSH_ENDPOINT", "https://fcm.example.com/send")
	t.Setenv("CONVOD_SEARCH_ENDPOINT", "http://localhost:9200")

	envCfg, res := ParseConfigEnvs()
	if !res.EnvUsed {
		t.Fatal("env vars not detected")
	}
	if envCfg.Server.Port != 7070 || envCfg.Server.DBPath != "/var/lib/convod" {
		t.Fatalf("server cfg = %+v", envCfg.Server)
	}
	if !envCfg.Push.Enabled || !envCfg.Search.Enabled {
		t.Fatal("endpoint envs must enable their collaborators")
	}
	if _, ok := res.BackendKeys["bk2"]; !ok {
		t.Fatalf("backend keys = %v", res.BackendKeys)
	}
	// backend keys double as signing keys
	if _, ok := res.SigningKeys["bk1"]; !ok {
		t.Fatalf("signing keys = %v", res.SigningKeys)
	}
}

func TestLoadEffectiveConfigSourcePrecedence(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Address = "10.0.0.1"
	fileCfg.Server.Port = 9999
	fileCfg.Server.DBPath = "/from/file"

	envCfg := &Config{}
	envCfg.Server.Address = "10.0.0.2"
	envCfg.Server.Port = 8888
	envCfg.Server.DBPath = "/from/env"

	// explicit --addr/--db wins outright
	res, err := LoadEffectiveConfig(Flags{Addr: ":6060", DB: "/from/flag", Set: map[string]bool{"addr": true, "db": true}}, fileCfg, true, envCfg, EnvResult{})
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "flags" || res.Addr != ":6060" || res.DBPath != "/from/flag" {
		t.Fatalf("flags source: %+v", res)
	}

	// no flags, file present -> file
	res, err = LoadEffectiveConfig(Flags{Set: map[string]bool{}}, fileCfg, true, envCfg, EnvResult{})
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "config" || res.Addr != "10.0.0.1:9999" || res.DBPath != "/from/file" {
		t.Fatalf("file source: %+v", res)
	}

	// no flags, no file -> env
	res, err = LoadEffectiveConfig(Flags{Set: map[string]bool{}}, &Config{}, false, envCfg, EnvResult{EnvUsed: true})
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "env" || res.Addr != "10.0.0.2:8888" || res.DBPath != "/from/env" {
		t.Fatalf("env source: %+v", res)
	}

	// explicit --config demands the file exist
	if _, err := LoadEffectiveConfig(Flags{Config: "/nope.yaml", Set: map[string]bool{"config": true}}, &Config{}, false, envCfg, EnvResult{}); err == nil {
		t.Fatal("missing explicit config file must fail")
	}
}
