package config

import "testing"

func TestDefaultsApplyWhenUnset(t *testing.T) {
	var cfg PeerConfig

	if cfg.Port() != DefaultPort {
		t.Fatalf("expected default port %s, got %s", DefaultPort, cfg.Port())
	}
	if cfg.DataDir() != DefaultDataDir {
		t.Fatalf("expected default data dir %s, got %s", DefaultDataDir, cfg.DataDir())
	}
	if cfg.PeerSnapFile() != DefaultPeerSnapFile {
		t.Fatalf("expected default peer snap file %s, got %s", DefaultPeerSnapFile, cfg.PeerSnapFile())
	}
}

func TestExplicitValuesOverrideDefaults(t *testing.T) {
	var cfg PeerConfig
	cfg.Session.Port = "9999"
	cfg.Session.DataDir = "/tmp/scratch"
	cfg.Session.PeerSnapFile = "/tmp/peer.snap"

	if cfg.Port() != "9999" {
		t.Fatalf("expected overridden port, got %s", cfg.Port())
	}
	if cfg.DataDir() != "/tmp/scratch" {
		t.Fatalf("expected overridden data dir, got %s", cfg.DataDir())
	}
	if cfg.PeerSnapFile() != "/tmp/peer.snap" {
		t.Fatalf("expected overridden peer snap file, got %s", cfg.PeerSnapFile())
	}
}

func TestRunModeSetParsesAliases(t *testing.T) {
	var m RunMode
	if err := m.Set("s"); err != nil || m != SenderMode {
		t.Fatalf("expected 's' to parse as SenderMode, got %v err=%v", m, err)
	}
	if err := m.Set("receiver"); err != nil || m != ReceiverMode {
		t.Fatalf("expected 'receiver' to parse as ReceiverMode, got %v err=%v", m, err)
	}
	if err := m.Set("bogus"); err == nil {
		t.Fatal("expected an error for an invalid mode")
	}
}

func TestLoadMissingConfigReturnsZeroValue(t *testing.T) {
	cfg := Load("definitely-does-not-exist-12345")
	if cfg.Session.Port != "" {
		t.Fatalf("expected zero-value config for a missing file, got %+v", cfg)
	}
}
