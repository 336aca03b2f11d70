package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  addr: ":9090"
  api_keys: ["k1", "k2"]
  callback_base_url: "https://engine.example.com"
crypto:
  master_key: "test-master-key"
storage:
  driver: postgres
  postgres:
    dsn: "postgres://localhost/msaidizi"
engine:
  turn_deadline_s: 45
handoff:
  idle_timeout_s: 900
  working_hours:
    start: 9
    end: 17
llm:
  model: gpt-4o-mini
  api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Server.ListenAddr(); got != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", got)
	}
	if len(cfg.Server.APIKeys) != 2 {
		t.Errorf("APIKeys = %v, want 2 keys", cfg.Server.APIKeys)
	}
	if got := cfg.Storage.StorageDriver(); got != "postgres" {
		t.Errorf("StorageDriver = %q, want postgres", got)
	}
	if cfg.Engine.TurnDeadlineS != 45 {
		t.Errorf("TurnDeadlineS = %d, want 45", cfg.Engine.TurnDeadlineS)
	}
	if cfg.Handoff == nil || cfg.Handoff.WorkingHours == nil {
		t.Fatal("handoff working hours not parsed")
	}
	if cfg.Handoff.WorkingHours.End != 17 {
		t.Errorf("WorkingHours.End = %d, want 17", cfg.Handoff.WorkingHours.End)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "crypto": {"master_key": "k"},
  "sandbox": {"interpreter": "python3.12", "default_timeout_s": 20}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sandbox.Interpreter != "python3.12" {
		t.Errorf("Interpreter = %q", cfg.Sandbox.Interpreter)
	}
	if cfg.Sandbox.DefaultTimeoutS != 20 {
		t.Errorf("DefaultTimeoutS = %d, want 20", cfg.Sandbox.DefaultTimeoutS)
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if got := cfg.Server.ListenAddr(); got != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", got)
	}
	if got := cfg.Storage.StorageDriver(); got != "sqlite" {
		t.Errorf("StorageDriver = %q, want sqlite", got)
	}
	var sq *SQLiteStorageConfig
	if got := sq.DatabasePath(); got != filepath.Join("data", "msaidizi.db") {
		t.Errorf("DatabasePath = %q", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MSAIDIZI_MASTER_KEY", "env-key")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("MSAIDIZI_DB_DSN", "postgres://env/db")

	cfg := Default()
	if cfg.Crypto.MasterKey != "env-key" {
		t.Errorf("MasterKey = %q, want env-key", cfg.Crypto.MasterKey)
	}
	if cfg.LLM == nil || cfg.LLM.APIKey != "sk-env" {
		t.Errorf("LLM override not applied: %+v", cfg.LLM)
	}
	if cfg.Storage.StorageDriver() != "postgres" {
		t.Errorf("env DSN should switch the driver to postgres")
	}
	if cfg.Storage.Postgres.DSN != "postgres://env/db" {
		t.Errorf("DSN = %q", cfg.Storage.Postgres.DSN)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"missing master key", func(c *Config) { c.Crypto.MasterKey = "" }},
		{"deadline too long", func(c *Config) { c.Engine.TurnDeadlineS = 500 }},
		{"sandbox timeout too long", func(c *Config) { c.Sandbox.DefaultTimeoutS = 120 }},
		{"unknown driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "mysql"} }},
		{"postgres without dsn", func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }},
		{"working hours out of range", func(c *Config) {
			c.Handoff = &HandoffConfig{WorkingHours: &WorkingHoursConfig{Start: 25, End: 9}}
		}},
		{"bad timezone", func(c *Config) {
			c.Handoff = &HandoffConfig{WorkingHours: &WorkingHoursConfig{Start: 9, End: 17, Timezone: "Mars/Olympus"}}
		}},
		{"llm without credentials", func(c *Config) { c.LLM = &LLMConfig{Model: "gpt-4o-mini"} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Crypto: CryptoConfig{MasterKey: "k"}}
			tc.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load succeeded on a missing file")
	}
}
