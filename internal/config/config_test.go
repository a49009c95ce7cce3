package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relstore.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeTestConfig(t, "base_dir: /var/lib/relstore\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDir != "/var/lib/relstore" {
		t.Fatalf("BaseDir = %q", cfg.BaseDir)
	}
	if cfg.Extension != DefaultExtension {
		t.Fatalf("Extension = %q, want default %q", cfg.Extension, DefaultExtension)
	}
	if cfg.BufferPoolSize != DefaultBufferPoolSize {
		t.Fatalf("BufferPoolSize = %d, want default %d", cfg.BufferPoolSize, DefaultBufferPoolSize)
	}
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeTestConfig(t, "base_dir: /data\nextension: .page\nbuffer_pool_size: 64\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Extension != ".page" || cfg.BufferPoolSize != 64 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsEmptyBaseDir(t *testing.T) {
	path := writeTestConfig(t, "buffer_pool_size: 16\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for missing base_dir")
	}
}

func TestLoadRejectsNonPositivePoolSize(t *testing.T) {
	path := writeTestConfig(t, "base_dir: /data\nbuffer_pool_size: 0\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for zero buffer_pool_size")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("/data")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}
