package statslog

import (
	"testing"
	"time"

	"github.com/aprpure/grok-gateway/internal/store"
)

func TestBucketizeHourlyGroupsBySameHour(t *testing.T) {
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	entries := []store.RequestLogEntry{
		{Model: "grok-4", Status: 200, PromptTokens: 10, CompletionTokens: 20, CreatedAt: base},
		{Model: "grok-4", Status: 200, PromptTokens: 5, CompletionTokens: 5, CreatedAt: base.Add(30 * time.Minute)},
		{Model: "grok-4", Status: 500, PromptTokens: 1, CompletionTokens: 0, CreatedAt: base.Add(2 * time.Hour)},
	}
	buckets := Bucketize(entries, Hourly)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].RequestCount != 2 {
		t.Fatalf("expected first bucket to have 2 requests, got %d", buckets[0].RequestCount)
	}
	if buckets[0].PromptTokens != 15 {
		t.Fatalf("expected summed prompt tokens 15, got %d", buckets[0].PromptTokens)
	}
	if buckets[1].ErrorCount != 1 {
		t.Fatalf("expected second bucket to have 1 error, got %d", buckets[1].ErrorCount)
	}
}

func TestBucketizeDailyGroupsAcrossHours(t *testing.T) {
	base := time.Date(2026, 7, 31, 1, 0, 0, 0, time.UTC)
	entries := []store.RequestLogEntry{
		{Status: 200, CreatedAt: base},
		{Status: 200, CreatedAt: base.Add(20 * time.Hour)},
	}
	buckets := Bucketize(entries, Daily)
	if len(buckets) != 1 {
		t.Fatalf("expected 1 daily bucket, got %d", len(buckets))
	}
	if buckets[0].RequestCount != 2 {
		t.Fatalf("expected 2 requests in the daily bucket, got %d", buckets[0].RequestCount)
	}
}

func TestSummarizeProducesFixedWidthBuckets(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	entries := []store.RequestLogEntry{
		{Status: 200, CreatedAt: now.Add(-1 * time.Hour)},
		{Status: 200, CreatedAt: now.Add(-2 * time.Hour)},
		{Status: 500, CreatedAt: now.Add(-3 * time.Hour)},
		{Status: 200, CreatedAt: now.Add(-30 * time.Hour)}, // outside the 24h window, inside 14d
		{Status: 404, CreatedAt: now.Add(-10 * 24 * time.Hour)},
	}
	summary := Summarize(entries, now)

	if len(summary.Hourly) != 24 {
		t.Fatalf("expected exactly 24 hourly buckets, got %d", len(summary.Hourly))
	}
	if len(summary.Daily) != 14 {
		t.Fatalf("expected exactly 14 daily buckets, got %d", len(summary.Daily))
	}

	var hourlySum int
	for _, b := range summary.Hourly {
		hourlySum += b.RequestCount
	}
	if hourlySum != 3 {
		t.Fatalf("expected hourly buckets to sum to the last-24h subset (3), got %d", hourlySum)
	}

	if summary.Total != len(entries) {
		t.Fatalf("expected total %d, got %d", len(entries), summary.Total)
	}
	// success = 200 <= status < 400: 3 of 5 rows qualify.
	if summary.SuccessRate != 60.0 {
		t.Fatalf("expected success_rate 60.0, got %v", summary.SuccessRate)
	}
}

func TestSummarizeZeroTotalYieldsZeroSuccessRate(t *testing.T) {
	summary := Summarize(nil, time.Now())
	if summary.SuccessRate != 0 {
		t.Fatalf("expected success_rate 0 for no entries, got %v", summary.SuccessRate)
	}
}

func TestEstimatorReturnsPositiveCountForNonEmptyText(t *testing.T) {
	est, err := NewEstimator()
	if err != nil {
		t.Fatal(err)
	}
	n, err := est.Estimate("hello world, this is a test prompt")
	if err != nil {
		t.Fatal(err)
	}
	if n <= 0 {
		t.Fatalf("expected positive token estimate, got %d", n)
	}
}
