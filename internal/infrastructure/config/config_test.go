package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
accounts:
  - id: "home"
    username: "alice@example.com"
    password: "hunter22"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
tile:
  poll_interval: 120
  init_concurrency: 2
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Accounts) != 1 {
		t.Fatalf("len(Accounts) = %d, want 1", len(cfg.Accounts))
	}
	if cfg.Accounts[0].Username != "alice@example.com" {
		t.Errorf("Accounts[0].Username = %q, want alice@example.com", cfg.Accounts[0].Username)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want /tmp/test.db", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want localhost", cfg.MQTT.Broker.Host)
	}
	if got := cfg.GetPollInterval(); got != 2*time.Minute {
		t.Errorf("GetPollInterval() = %v, want 2m", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
accounts:
  - id: "home"
    username: "alice@example.com"
    password: "hunter22"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tile.PollInterval != 120 {
		t.Errorf("default Tile.PollInterval = %d, want 120", cfg.Tile.PollInterval)
	}
	if cfg.Tile.InitConcurrency != 2 {
		t.Errorf("default Tile.InitConcurrency = %d, want 2", cfg.Tile.InitConcurrency)
	}
	if cfg.Tile.ShowInactive {
		t.Error("default Tile.ShowInactive = true, want false")
	}
	if cfg.MQTT.Broker.ClientID != "tilecore" {
		t.Errorf("default MQTT.Broker.ClientID = %q, want tilecore", cfg.MQTT.Broker.ClientID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_NoAccounts(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for missing accounts, got nil")
	}
	if !strings.Contains(err.Error(), "at least one account") {
		t.Errorf("error = %v, want account validation message", err)
	}
}

func TestLoad_AccountPasswordFromEnv(t *testing.T) {
	content := `
accounts:
  - id: "summer-house"
    username: "bob@example.com"
`
	t.Setenv("TILECORE_ACCOUNT_SUMMER_HOUSE_PASSWORD", "s3cret")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Accounts[0].Password != "s3cret" {
		t.Errorf("Accounts[0].Password = %q, want s3cret", cfg.Accounts[0].Password)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "duplicate account id",
			mutate:  func(c *Config) { c.Accounts = append(c.Accounts, c.Accounts[0]) },
			wantMsg: "duplicate account id",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantMsg: "mqtt.qos",
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantMsg: "api.port",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Tile.PollInterval = 0 },
			wantMsg: "tile.poll_interval",
		},
		{
			name:    "zero init concurrency",
			mutate:  func(c *Config) { c.Tile.InitConcurrency = 0 },
			wantMsg: "tile.init_concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Accounts = []AccountConfig{{ID: "home", Username: "alice", Password: "pw"}}
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantMsg)
			}
		})
	}
}
