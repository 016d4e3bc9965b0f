package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Color || !cfg.Audit {
		t.Errorf("cfg = %+v, want default Color=true Audit=true", cfg)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{Color: false, Audit: true, AuditDB: "custom.db"}
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Color != false || got.Audit != true || got.AuditDB != "custom.db" {
		t.Errorf("got %+v, want %+v", got, cfg)
	}
}

func TestAuditDBPathDefaultsUnderDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	want := filepath.Join(dir, "audit.db")
	if got := cfg.AuditDBPath(dir); got != want {
		t.Errorf("AuditDBPath() = %q, want %q", got, want)
	}
}

func TestAuditDBPathHonorsOverride(t *testing.T) {
	cfg := &Config{AuditDB: "/var/lib/inshell/audit.db"}
	if got := cfg.AuditDBPath("/unused"); got != "/var/lib/inshell/audit.db" {
		t.Errorf("AuditDBPath() = %q, want override", got)
	}
}
