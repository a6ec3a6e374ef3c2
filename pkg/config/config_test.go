package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

// TestDefaultConfig verifies that the defaults form a valid configuration
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default configuration should be valid: %v", err)
	}

	width, height := cfg.PatternSize()
	if width != 256 || height != 160 {
		t.Errorf("Expected derived pattern size 256x160, got %dx%d", width, height)
	}
}

// TestValidateRejects checks every configuration error path
func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero projector width", func(c *Config) { c.Projector.Width = 0 }},
		{"negative step", func(c *Config) { c.Projector.StepY = -1 }},
		{"negative pattern width", func(c *Config) { c.Pattern.Width = -4 }},
		{"pattern exceeds projector", func(c *Config) { c.Pattern.Width = 300 }},
		{"zero white threshold", func(c *Config) { c.Decode.WhiteThreshold = 0 }},
		{"negative black threshold", func(c *Config) { c.Decode.BlackThreshold = -1 }},
		{"zero cores", func(c *Config) { c.Decode.NumCores = 0 }},
		{"coverage above one", func(c *Config) { c.Decode.MinCoverage = 1.5 }},
		{"negative settle delay", func(c *Config) { c.Capture.SettleDelayMs = -10 }},
		{"missing frame dir", func(c *Config) { c.Capture.FrameDir = "" }},
		{"missing output", func(c *Config) { c.Output.CorrespondenceFile = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if errors.Cause(err) != ErrInvalidConfig {
				t.Errorf("Expected ErrInvalidConfig cause, got %v", err)
			}
		})
	}
}

// TestLoadConfigMissingFile returns defaults when no file exists
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Decode.BlackThreshold != 40 {
		t.Errorf("Expected default black threshold 40, got %d", cfg.Decode.BlackThreshold)
	}
}

// TestSaveAndLoadConfig writes a modified configuration and reads it back
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "procam.yaml")

	cfg := DefaultConfig()
	cfg.Decode.WhiteThreshold = 12
	cfg.Capture.SettleDelayMs = 250
	cfg.Pattern.Width = 64

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if loaded.Decode.WhiteThreshold != 12 {
		t.Errorf("Expected white threshold 12, got %d", loaded.Decode.WhiteThreshold)
	}
	if loaded.Capture.SettleDelayMs != 250 {
		t.Errorf("Expected settle delay 250, got %d", loaded.Capture.SettleDelayMs)
	}
	if w, _ := loaded.PatternSize(); w != 64 {
		t.Errorf("Expected explicit pattern width 64, got %d", w)
	}
}

// TestLoadConfigPartialFile keeps defaults for keys the file omits
func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	data := []byte("decode:\n  blackThreshold: 25\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Decode.BlackThreshold != 25 {
		t.Errorf("Expected black threshold 25, got %d", cfg.Decode.BlackThreshold)
	}
	if cfg.Decode.WhiteThreshold != 5 {
		t.Errorf("Expected default white threshold 5, got %d", cfg.Decode.WhiteThreshold)
	}
}

// TestLoadConfigInvalidYAML reports parse failures
func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("decode: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error")
	}
}

// TestValidatePatternArea accepts patterns that fit the projector at the
// configured step, including ones smaller than the derived size
func TestValidatePatternArea(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		stepX         int
		valid         bool
	}{
		{"derived", 0, 0, 5, true},
		{"half width", 128, 160, 5, true},
		{"single cell", 1, 1, 5, true},
		{"uneven step", 0, 0, 3, true},
		{"one cell too wide", 257, 160, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Pattern.Width, cfg.Pattern.Height = tt.width, tt.height
			cfg.Projector.StepX = tt.stepX
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid configuration, got %v", err)
			}
			if !tt.valid && errors.Cause(err) != ErrInvalidConfig {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
