package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"dnieim/internal/config"
)

func TestLoad_DefaultsApplied(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UDPPort != 6666 {
		t.Fatalf("expected default udp_port 6666, got %d", cfg.UDPPort)
	}
	if cfg.RelayPort != 7777 {
		t.Fatalf("expected default relay_port 7777, got %d", cfg.RelayPort)
	}
	if !cfg.UseLANDiscovery {
		t.Fatal("expected use_lan_discovery to default true")
	}
	if cfg.Home != filepath.Join(home, ".dnieim") {
		t.Fatalf("expected Home to default under $HOME/.dnieim, got %q", cfg.Home)
	}
	if cfg.RelayAddr() != "" {
		t.Fatalf("expected empty RelayAddr with no relay_address set, got %q", cfg.RelayAddr())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DNIEIM_UDP_PORT", "1234")
	t.Setenv("DNIEIM_RELAY_ADDRESS", "relay.example.com")
	t.Setenv("DNIEIM_RELAY_PORT", "9999")
	t.Setenv("DNIEIM_USE_LAN_DISCOVERY", "false")

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UDPPort != 1234 {
		t.Fatalf("expected env-overridden udp_port 1234, got %d", cfg.UDPPort)
	}
	if cfg.UseLANDiscovery {
		t.Fatal("expected env override to disable use_lan_discovery")
	}
	if got, want := cfg.RelayAddr(), "relay.example.com:9999"; got != want {
		t.Fatalf("RelayAddr() = %q, want %q", got, want)
	}
}

func TestLoad_ConfigFileOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())

	yaml := "udp_port: 4242\ndisplay_name: alice\n"
	if err := os.WriteFile(filepath.Join(dir, "dnieim.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UDPPort != 4242 {
		t.Fatalf("expected config file udp_port 4242, got %d", cfg.UDPPort)
	}
	if cfg.DisplayName != "alice" {
		t.Fatalf("expected config file display_name alice, got %q", cfg.DisplayName)
	}
	// A value the file doesn't set should still fall back to the built-in
	// default rather than the zero value.
	if cfg.RelayPort != 7777 {
		t.Fatalf("expected relay_port to keep its default 7777, got %d", cfg.RelayPort)
	}
}
