package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("listen address: got %q", cfg.ListenAddress)
	}
	if cfg.AdminAddress != "admin" || cfg.ReserveAddress != "marketplace" {
		t.Fatalf("address defaults: %+v", cfg)
	}
	if cfg.FeePercent != 10 {
		t.Fatalf("fee percent: got %d want 10", cfg.FeePercent)
	}
	if cfg.EventBufferSize != 1024 {
		t.Fatalf("event buffer size: got %d want 1024", cfg.EventBufferSize)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("listen_address: \":9000\"\nfee_percent: 15\nminters: \"m1, m2\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FEE_PERCENT", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("file value ignored: %q", cfg.ListenAddress)
	}
	if cfg.FeePercent != 25 {
		t.Fatalf("environment should win: got %d want 25", cfg.FeePercent)
	}
	if got := cfg.MinterList(); len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("minter list: %v", got)
	}
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
}

func TestConfig_Cap(t *testing.T) {
	t.Run("empty selects default", func(t *testing.T) {
		cap, err := Config{}.Cap()
		if err != nil || cap != nil {
			t.Fatalf("got %v, %v", cap, err)
		}
	})

	t.Run("decimal base units", func(t *testing.T) {
		cap, err := Config{SupplyCap: "1000000000000000000"}.Cap()
		if err != nil {
			t.Fatalf("cap: %v", err)
		}
		if cap.String() != "1000000000000000000" {
			t.Fatalf("cap: got %s", cap)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := (Config{SupplyCap: "abc"}).Cap(); err == nil {
			t.Fatal("expected error for non-numeric cap")
		}
		if _, err := (Config{SupplyCap: "-5"}).Cap(); err == nil {
			t.Fatal("expected error for negative cap")
		}
	})
}
