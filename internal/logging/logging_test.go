package logging

import (
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitSetsConfiguredLevel(t *testing.T) {
	Init(Options{Level: "warn", FilePath: filepath.Join(t.TempDir(), "gw.log")})
	if log.GetLevel() != log.WarnLevel {
		t.Fatalf("expected warn level, got %v", log.GetLevel())
	}
}

func TestInitDebugFlagOverridesLevel(t *testing.T) {
	Init(Options{Level: "error", Debug: true, FilePath: filepath.Join(t.TempDir(), "gw.log")})
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level override, got %v", log.GetLevel())
	}
}

func TestInitFallsBackToInfoOnBadLevel(t *testing.T) {
	Init(Options{Level: "not-a-level", FilePath: filepath.Join(t.TempDir(), "gw.log")})
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level fallback, got %v", log.GetLevel())
	}
}
