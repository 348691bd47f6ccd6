package config

import (
	"os"
	"testing"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KESTREL_DB_URL", "postgres://user@localhost/kestrel")
	t.Setenv("KESTREL_SERVICE_URL", "https://chat.example.org")
	t.Setenv("KESTREL_USERNAME", "aci.1")
	t.Setenv("KESTREL_PASSWORD", "secret")
	t.Setenv("KESTREL_LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.DBURL != os.Getenv("KESTREL_DB_URL") {
		t.Fatalf("DBURL = %q", cfg.DBURL)
	}
	if cfg.ServiceURL != os.Getenv("KESTREL_SERVICE_URL") {
		t.Fatalf("ServiceURL = %q", cfg.ServiceURL)
	}
	if cfg.Username != os.Getenv("KESTREL_USERNAME") {
		t.Fatalf("Username = %q", cfg.Username)
	}
	if cfg.Password != os.Getenv("KESTREL_PASSWORD") {
		t.Fatalf("Password = %q", cfg.Password)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("KESTREL_LOG_LEVEL", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadFromEnv_BadMasterKey(t *testing.T) {
	t.Setenv("KESTREL_MASTER_KEY", "not-base64!!")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for malformed master key")
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	cfg := Config{LogLevel: "info"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing db url")
	}

	cfg = Config{DBURL: "postgres://", LogLevel: "info"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing service url")
	}
}

func TestValidate_MasterKeyLength(t *testing.T) {
	cfg := Config{
		DBURL:      "postgres://",
		ServiceURL: "https://chat.example.org",
		LogLevel:   "info",
		MasterKey:  []byte{1, 2, 3},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short master key")
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Config{
		DBURL:      "postgres://",
		ServiceURL: "https://chat.example.org",
		LogLevel:   "chatty",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := Config{
		DBURL:      "postgres://",
		ServiceURL: "https://chat.example.org",
		LogLevel:   "warn",
		MasterKey:  make([]byte, 32),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
