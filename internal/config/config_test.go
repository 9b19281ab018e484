package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Region = "DE"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Region != "DE" {
		t.Errorf("Region = %q, want %q", loaded.Region, "DE")
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("chat_api_url = \"https://chat.example\"\nmessage_window = 10\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChatAPIURL != "https://chat.example" || cfg.MessageWindow != 10 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.PageSize != 50 || cfg.LockTimeout != "10m" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}

	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultProfile != "main" {
		t.Errorf("DefaultProfile = %q, want main", cfg.DefaultProfile)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	cfg.ContactInterval = ""
	d, err := cfg.Durations()
	if err != nil {
		t.Fatal(err)
	}
	if d.Chats != 2*time.Minute || d.ProtectionWindow != 5*time.Minute || d.LockTimeout != 10*time.Minute {
		t.Errorf("Durations() = %+v", d)
	}
	if d.Contacts != 0 {
		t.Errorf("empty contact_interval = %v, want 0", d.Contacts)
	}

	for _, bad := range []string{"soon", "-1m"} {
		cfg.ChatInterval = bad
		if _, err := cfg.Durations(); err == nil {
			t.Errorf("chat_interval %q: expected error", bad)
		}
	}
}

func TestLoadSecrets(t *testing.T) {
	// Setenv registers restoration of the variable that the .env file sets.
	t.Setenv(EnvChatToken, "")
	if err := os.Unsetenv(EnvChatToken); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvCRMToken, "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MIRROR_CHAT_TOKEN=chat-secret\nMIRROR_CRM_TOKEN=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSecrets(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if s.CRMToken != "from-env" {
		t.Errorf("CRMToken = %q, want the environment value", s.CRMToken)
	}
	if s.ChatToken != "chat-secret" {
		t.Errorf("ChatToken = %q, want the .env value", s.ChatToken)
	}
}
