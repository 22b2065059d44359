package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"titanic/config"
)

func TestNewWritesToFile(t *testing.T) {
	cfg := config.Default().Log
	cfg.File = filepath.Join(t.TempDir(), "titanic.log")

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Named("dataset").Info("dataset loaded")
	logger.Debug("below level")
	logger.Sync()

	data, err := os.ReadFile(cfg.File)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"msg":"dataset loaded"`) || !strings.Contains(content, `"logger":"dataset"`) {
		t.Errorf("unexpected log content: %s", content)
	}
	if strings.Contains(content, "below level") {
		t.Error("debug entry written at info level")
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
	}{
		{name: "level", cfg: config.LogConfig{Level: "loud", Format: "json"}},
		{name: "format", cfg: config.LogConfig{Level: "info", Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
