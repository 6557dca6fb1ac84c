// Package statslog bucketizes the request log into hourly/daily windows
// for the stats endpoint, and estimates prompt token counts with
// tiktoken-go when the caller didn't receive an explicit count from the
// upstream.
package statslog

import (
	"sort"
	"time"

	"github.com/tiktoken-go/tokenizer"

	"github.com/aprpure/grok-gateway/internal/store"
)

// Granularity selects the bucket width for a stats query.
type Granularity string

const (
	Hourly Granularity = "hourly"
	Daily  Granularity = "daily"
)

// Bucket aggregates request log rows falling in one time window.
type Bucket struct {
	Start            time.Time `json:"start"`
	RequestCount     int       `json:"request_count"`
	SuccessCount     int       `json:"success_count"`
	ErrorCount       int       `json:"error_count"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
}

// isSuccess reports whether a recorded HTTP status counts as a success:
// any 2xx or 3xx response.
func isSuccess(status int) bool {
	return status >= 200 && status < 400
}

func bucketStart(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	if g == Daily {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}

// Bucketize groups entries into Granularity-wide buckets, sorted oldest
// first. Only buckets containing at least one entry are returned; see
// FixedBuckets for the zero-filled, fixed-width variant the stats
// endpoint uses.
func Bucketize(entries []store.RequestLogEntry, g Granularity) []Bucket {
	byStart := make(map[time.Time]*Bucket)
	for _, e := range entries {
		start := bucketStart(e.CreatedAt, g)
		b, ok := byStart[start]
		if !ok {
			b = &Bucket{Start: start}
			byStart[start] = b
		}
		accumulate(b, e)
	}

	out := make([]Bucket, 0, len(byStart))
	for _, b := range byStart {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func accumulate(b *Bucket, e store.RequestLogEntry) {
	b.RequestCount++
	if isSuccess(e.Status) {
		b.SuccessCount++
	} else {
		b.ErrorCount++
	}
	b.PromptTokens += int64(e.PromptTokens)
	b.CompletionTokens += int64(e.CompletionTokens)
}

// FixedBuckets returns exactly count Granularity-wide buckets ending at
// the bucket containing now, oldest first, zero-filled where no entries
// fall in a window. Scenario 6 requires hourly stats to always carry
// exactly 24 entries and daily stats exactly 14, regardless of how
// sparse the underlying data is.
func FixedBuckets(entries []store.RequestLogEntry, g Granularity, now time.Time, count int) []Bucket {
	step := time.Hour
	if g == Daily {
		step = 24 * time.Hour
	}
	end := bucketStart(now, g)

	starts := make(map[time.Time]int, count)
	out := make([]Bucket, count)
	for i := 0; i < count; i++ {
		start := end.Add(-time.Duration(count-1-i) * step)
		out[i] = Bucket{Start: start}
		starts[start] = i
	}

	for _, e := range entries {
		start := bucketStart(e.CreatedAt, g)
		idx, ok := starts[start]
		if !ok {
			continue
		}
		accumulate(&out[idx], e)
	}
	return out
}

// Summary is the single-scan result the stats endpoint returns: hourly
// buckets derived from the last-24h subset of a 14-day scan, daily
// buckets over the full 14 days, and an aggregate success rate.
type Summary struct {
	Hourly      []Bucket `json:"hourly"`
	Daily       []Bucket `json:"daily"`
	Total       int      `json:"total"`
	SuccessRate float64  `json:"success_rate"`
}

// Summarize scans entries (expected to cover the last 14 days) once and
// derives both granularities plus success_rate = round(success/total*1000)/10,
// which is 0 when total is 0.
func Summarize(entries []store.RequestLogEntry, now time.Time) Summary {
	dayAgo := now.Add(-24 * time.Hour)
	recent := make([]store.RequestLogEntry, 0, len(entries))
	success := 0
	for _, e := range entries {
		if isSuccess(e.Status) {
			success++
		}
		if !e.CreatedAt.Before(dayAgo) {
			recent = append(recent, e)
		}
	}

	total := len(entries)
	var rate float64
	if total > 0 {
		rate = float64(int(float64(success)/float64(total)*1000+0.5)) / 10
	}

	return Summary{
		Hourly:      FixedBuckets(recent, Hourly, now, 24),
		Daily:       FixedBuckets(entries, Daily, now, 14),
		Total:       total,
		SuccessRate: rate,
	}
}

// Estimator estimates prompt token counts for requests that didn't carry
// an explicit usage figure from the upstream.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator builds an Estimator using the cl100k_base encoding, the
// closest general-purpose tiktoken encoding to what OpenAI-compatible
// clients expect from a usage estimate.
func NewEstimator() (*Estimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return &Estimator{codec: codec}, nil
}

// Estimate returns the token count tiktoken would assign to text.
func (e *Estimator) Estimate(text string) (int, error) {
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
