package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.MaxCommentBytes != 65000 {
		t.Fatalf("MaxCommentBytes = %d", cfg.MaxCommentBytes)
	}
	if cfg.ChunkMargin != 500 {
		t.Fatalf("ChunkMargin = %d", cfg.ChunkMargin)
	}
	if got := cfg.MaxChunkBytes(); got != 64500 {
		t.Fatalf("MaxChunkBytes() = %d", got)
	}
	if cfg.PollTimeout != 2*time.Minute {
		t.Fatalf("PollTimeout = %s", cfg.PollTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRejectsDrainedCapacity(t *testing.T) {
	cfg := Default()
	cfg.ChunkMargin = cfg.MaxCommentBytes
	if err := cfg.Validate(); err == nil {
		t.Fatal("margin equal to capacity should be rejected")
	}

	cfg = Default()
	cfg.PollTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero poll timeout should be rejected")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := "store_owner: acme\nstore_repo: widgets\nchunk_margin: 800\n"
	if err := os.WriteFile(filepath.Join(dir, "tether.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreOwner != "acme" || cfg.StoreRepo != "widgets" {
		t.Fatalf("store coordinates = %s/%s", cfg.StoreOwner, cfg.StoreRepo)
	}
	if cfg.ChunkMargin != 800 {
		t.Fatalf("ChunkMargin = %d, want file override 800", cfg.ChunkMargin)
	}
	if cfg.ReadyLabel != "tether:ready" {
		t.Fatalf("ReadyLabel default lost: %q", cfg.ReadyLabel)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TETHER_READY_LABEL", "sync:go")
	// Keys with no built-in default must come through the environment too.
	t.Setenv("TETHER_STORE_OWNER", "acme")
	t.Setenv("TETHER_STORE_TOKEN", "sekrit")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReadyLabel != "sync:go" {
		t.Fatalf("ReadyLabel = %q, want env override", cfg.ReadyLabel)
	}
	if cfg.StoreOwner != "acme" {
		t.Fatalf("StoreOwner = %q, want env value", cfg.StoreOwner)
	}
	if cfg.StoreToken != "sekrit" {
		t.Fatalf("StoreToken = %q, want env value", cfg.StoreToken)
	}
}
