package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := defaultConfig()
	if cfg.ContextLines != want.ContextLines {
		t.Errorf("ContextLines = %d, want %d", cfg.ContextLines, want.ContextLines)
	}
	if len(cfg.SourcePaths) != len(want.SourcePaths) || cfg.SourcePaths[0] != want.SourcePaths[0] {
		t.Errorf("SourcePaths = %v, want %v", cfg.SourcePaths, want.SourcePaths)
	}
}

func TestLoadConfigOverlaysValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".sdbrc")
	contents := "source_paths:\n  - /srv/app\ncontext_lines: 10\ncolor: false\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ContextLines != 10 {
		t.Errorf("ContextLines = %d, want 10", cfg.ContextLines)
	}
	if len(cfg.SourcePaths) != 1 || cfg.SourcePaths[0] != "/srv/app" {
		t.Errorf("SourcePaths = %v, want [/srv/app]", cfg.SourcePaths)
	}
	if cfg.Color == nil || *cfg.Color != false {
		t.Errorf("Color = %v, want pointer to false", cfg.Color)
	}
}
