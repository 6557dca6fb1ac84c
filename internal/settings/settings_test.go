package settings

import (
	"path/filepath"
	"testing"
)

func TestGetReturnsDefaultsWhenEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	got := s.Get(SectionCache)
	if got["enabled"] != true {
		t.Fatalf("expected default enabled=true, got %v", got["enabled"])
	}
	if got["ttl_seconds"] != float64(3600) {
		t.Fatalf("expected default ttl_seconds=3600, got %v", got["ttl_seconds"])
	}
}

func TestSetBatchOverridesOnlyGivenFields(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	err = s.SetBatch(map[Section]map[string]interface{}{
		SectionCache: {"ttl_seconds": float64(60)},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := s.Get(SectionCache)
	if got["ttl_seconds"] != float64(60) {
		t.Fatalf("expected overridden ttl_seconds=60, got %v", got["ttl_seconds"])
	}
	if got["enabled"] != true {
		t.Fatalf("expected untouched default enabled=true, got %v", got["enabled"])
	}
}

func TestSetBatchPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetBatch(map[Section]map[string]interface{}{
		SectionPerformance: {"worker_concurrency": float64(8)},
	}); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	got := reopened.Get(SectionPerformance)
	if got["worker_concurrency"] != float64(8) {
		t.Fatalf("expected persisted worker_concurrency=8, got %v", got["worker_concurrency"])
	}
}

func TestSetBatchStripsCFClearancePrefix(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetBatch(map[Section]map[string]interface{}{
		SectionGrok: {"cf_clearance": "cf_clearance=abc123"},
	}); err != nil {
		t.Fatal(err)
	}
	got := s.Get(SectionGrok)
	if got["cf_clearance"] != "cf_clearance=abc123" {
		t.Fatalf("expected re-prefixed cf_clearance, got %v", got["cf_clearance"])
	}
}

func TestImageGenerationMethodAliasNormalization(t *testing.T) {
	cases := map[string]string{
		"dalle":        "legacy",
		"legacy_image": "legacy",
		"ws":           "imagine_ws_experimental",
		"imagine_ws":   "imagine_ws_experimental",
		"unknown_mode": "legacy",
	}
	for in, want := range cases {
		if got := NormalizeImageGenerationMethod(in); got != want {
			t.Errorf("NormalizeImageGenerationMethod(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetNormalizesStoredImageGenerationMethodAlias(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetBatch(map[Section]map[string]interface{}{
		SectionGrok: {"image_generation_method": "dalle"},
	}); err != nil {
		t.Fatal(err)
	}
	got := s.Get(SectionGrok)
	if got["image_generation_method"] != "legacy" {
		t.Fatalf("expected normalized legacy, got %v", got["image_generation_method"])
	}
}
