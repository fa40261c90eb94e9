package cfg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Configuration {
	return &Configuration{
		WorkerID: "worker-1",
		API: APIConfiguration{
			Port: 8000,
		},
		Database: DatabaseConfiguration{
			Driver: "sqlite3",
			DSN:    ":memory:",
		},
		KV: KVConfiguration{
			WriteAttempts: 3,
		},
		Queue: QueueConfiguration{
			PollIntervalMS:      100,
			BatchSize:           10,
			Concurrency:         2,
			VisibilityTimeoutMS: 60000,
			MaxAttempts:         5,
		},
		Task: TaskConfiguration{
			DefaultDeadlineHours: 2,
		},
		CDN: CDNConfiguration{
			Sink:            "log",
			CacheTTLSeconds: 120,
		},
		Environments: []Environment{
			{Name: "test", Table: "my-table", ConfigTable: "my-config"},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, port := range []int{-1, 0, 70000} {
		Config = validConfig()
		Config.API.Port = port

		if err := Validate(); err == nil {
			t.Errorf("Expected error for invalid port %d", port)
		}
	}
}

func TestValidate_InvalidDriver(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Database.Driver = "oracle"

	if err := Validate(); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestValidate_InvalidSink(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.CDN.Sink = "carrier-pigeon"

	if err := Validate(); err == nil {
		t.Error("Expected error for unsupported sink")
	}
}

func TestValidate_Environments(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Environments = nil
	if err := Validate(); err == nil {
		t.Error("Expected error when no environments are configured")
	}

	Config = validConfig()
	Config.Environments = append(Config.Environments, Config.Environments[0])
	if err := Validate(); err == nil {
		t.Error("Expected error for duplicate environment")
	}

	Config = validConfig()
	Config.Environments[0].ConfigTable = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for environment without config table")
	}
}

func TestGetEnvironment(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()

	env, err := GetEnvironment("test")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if env.ConfigTable != "my-config" {
		t.Errorf("Expected config table my-config, got %s", env.ConfigTable)
	}

	_, err = GetEnvironment("foo")
	if !errors.Is(err, ErrUnknownEnvironment) {
		t.Errorf("Expected ErrUnknownEnvironment, got: %v", err)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.KV.Dir = filepath.Join(t.TempDir(), "kv")

	if err := Load("non-existent-file.toml"); err != nil {
		t.Errorf("Expected no error for non-existent file, got: %v", err)
	}

	if Config.WorkerID != "worker-1" {
		t.Errorf("Expected configured worker ID to be kept, got %s", Config.WorkerID)
	}

	if _, err := os.Stat(Config.KV.Dir); os.IsNotExist(err) {
		t.Error("KV directory was not created")
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	dir := t.TempDir()
	Config.KV.Dir = filepath.Join(dir, "kv")

	path := filepath.Join(dir, "edgepub.toml")
	contents := `
[cdn]
sink = "nats"
nats_url = "nats://localhost:4222"
listing_flush = false
flush_exclude = ["/content/private/**"]

[[environments]]
name = "live"
table = "live-table"
config_table = "live-config"
cdn_url = "https://cdn.example.com"
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if err := Load(path); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if Config.CDN.Sink != "nats" || Config.CDN.ListingFlush {
		t.Errorf("CDN section not decoded: %+v", Config.CDN)
	}

	env, err := GetEnvironment("live")
	if err != nil {
		t.Fatalf("Expected live environment, got: %v", err)
	}
	if env.CDNURL != "https://cdn.example.com" {
		t.Errorf("Expected cdn url, got %s", env.CDNURL)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	*PortFlag = 9999
	*DSNFlag = "postgres://localhost/edgepub"
	*WorkerIDFlag = "override"

	defer func() {
		*PortFlag = 0
		*DSNFlag = ""
		*WorkerIDFlag = ""
	}()

	Config = validConfig()
	Config.KV.Dir = ""

	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if Config.API.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", Config.API.Port)
	}
	if Config.Database.DSN != "postgres://localhost/edgepub" {
		t.Errorf("Expected DSN override, got %s", Config.Database.DSN)
	}
	if Config.WorkerID != "override" {
		t.Errorf("Expected worker ID override, got %s", Config.WorkerID)
	}
}

func TestDurations(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()

	if CacheTTL() != 120*time.Second {
		t.Errorf("Expected 120s TTL, got %v", CacheTTL())
	}
	if DefaultDeadline() != 2*time.Hour {
		t.Errorf("Expected 2h deadline, got %v", DefaultDeadline())
	}
}
