package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"
)

type sseChunk struct {
	Delta        map[string]interface{}
	FinishReason interface{}
	Model        string
}

func parseSSE(t *testing.T, out string) []sseChunk {
	t.Helper()
	var chunks []sseChunk
	for _, rec := range strings.Split(out, "\n\n") {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		payload := strings.TrimPrefix(rec, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			t.Fatalf("bad SSE payload %q: %v", payload, err)
		}
		choices, _ := parsed["choices"].([]interface{})
		if len(choices) == 0 {
			continue
		}
		choice := choices[0].(map[string]interface{})
		delta, _ := choice["delta"].(map[string]interface{})
		chunks = append(chunks, sseChunk{
			Delta:        delta,
			FinishReason: choice["finish_reason"],
			Model:        parsed["model"].(string),
		})
	}
	return chunks
}

func content(c sseChunk) string {
	if c.Delta == nil {
		return ""
	}
	s, _ := c.Delta["content"].(string)
	return s
}

func joinNDJSON(frames ...map[string]interface{}) string {
	var b strings.Builder
	for _, f := range frames {
		raw, _ := json.Marshal(f)
		b.Write(raw)
		b.WriteByte('\n')
	}
	return b.String()
}

func relaxedOpts() Options {
	return Options{
		ShowThinking:  true,
		FirstResponse: time.Second,
		Chunk:         time.Second,
		Total:         5 * time.Second,
		Idle:          time.Second,
		VideoIdle:     5 * time.Second,
		InitialModel:  "grok-4",
	}
}

func responseFrame(fields map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"result": map[string]interface{}{
			"response": fields,
		},
	}
}

func run(t *testing.T, opts Options, body string) (string, FinishInfo) {
	t.Helper()
	var out bytes.Buffer
	var finish FinishInfo
	Transcode(context.Background(), strings.NewReader(body), &out, opts, func(fi FinishInfo) {
		finish = fi
	})
	return out.String(), finish
}

func TestThinkingThenAnswer(t *testing.T) {
	body := joinNDJSON(
		responseFrame(map[string]interface{}{"isThinking": true, "token": "A"}),
		responseFrame(map[string]interface{}{"isThinking": true, "token": "B"}),
		responseFrame(map[string]interface{}{"isThinking": false, "token": "C"}),
	)
	out, finish := run(t, relaxedOpts(), body)
	chunks := parseSSE(t, out)

	var combined strings.Builder
	for _, c := range chunks {
		combined.WriteString(content(c))
	}
	want := "<think>\nAB\n</think>\nC"
	if got := combined.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if finish.Status != 200 {
		t.Fatalf("expected status 200, got %d", finish.Status)
	}
	last := chunks[len(chunks)-1]
	if last.FinishReason != "stop" {
		t.Fatalf("expected terminal finish_reason stop, got %v", last.FinishReason)
	}
}

func TestThinkingSuppressedWhenShowThinkingOff(t *testing.T) {
	opts := relaxedOpts()
	opts.ShowThinking = false
	body := joinNDJSON(
		responseFrame(map[string]interface{}{"isThinking": true, "token": "A"}),
		responseFrame(map[string]interface{}{"isThinking": true, "token": "B"}),
		responseFrame(map[string]interface{}{"isThinking": false, "token": "C"}),
	)
	out, _ := run(t, opts, body)
	chunks := parseSSE(t, out)

	var combined strings.Builder
	for _, c := range chunks {
		combined.WriteString(content(c))
	}
	if got := combined.String(); got != "C" {
		t.Fatalf("got %q, want %q", got, "C")
	}
}

func TestToolUsageCitationsAppendedInsideThinking(t *testing.T) {
	body := joinNDJSON(responseFrame(map[string]interface{}{
		"isThinking":      true,
		"token":           "researching",
		"toolUsageCardId": "card-1",
		"webSearchResults": map[string]interface{}{
			"results": []interface{}{
				map[string]interface{}{"title": "Example", "url": "https://x.example", "preview": "a preview"},
			},
		},
	}))
	out, _ := run(t, relaxedOpts(), body)
	chunks := parseSSE(t, out)
	got := content(chunks[0])
	want := "<think>\nresearching\n- [Example](https://x.example \"a preview\")\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestToolUsageFrameSkippedOutsideThinking(t *testing.T) {
	body := joinNDJSON(
		responseFrame(map[string]interface{}{
			"isThinking":      false,
			"token":           "researching",
			"toolUsageCardId": "card-1",
			"webSearchResults": map[string]interface{}{
				"results": []interface{}{
					map[string]interface{}{"title": "Example", "url": "https://x.example", "preview": "p"},
				},
			},
		}),
		responseFrame(map[string]interface{}{"token": "after"}),
	)
	out, _ := run(t, relaxedOpts(), body)
	chunks := parseSSE(t, out)
	var combined strings.Builder
	for _, c := range chunks {
		combined.WriteString(content(c))
	}
	if got := combined.String(); got != "after" {
		t.Fatalf("got %q, want %q", got, "after")
	}
}

func TestVideoProgressBracketing(t *testing.T) {
	body := joinNDJSON(
		responseFrame(map[string]interface{}{"streamingVideoGenerationResponse": map[string]interface{}{"progress": float64(10)}}),
		responseFrame(map[string]interface{}{"streamingVideoGenerationResponse": map[string]interface{}{"progress": float64(60)}}),
		responseFrame(map[string]interface{}{"streamingVideoGenerationResponse": map[string]interface{}{"progress": float64(100)}}),
		responseFrame(map[string]interface{}{"streamingVideoGenerationResponse": map[string]interface{}{
			"progress": float64(100),
			"videoUrl": "https://cdn.example/v.mp4",
		}}),
	)
	out, finish := run(t, relaxedOpts(), body)
	chunks := parseSSE(t, out)

	var progress strings.Builder
	for _, c := range chunks[:3] {
		progress.WriteString(content(c))
	}
	want := "<think>视频已生成10%\n视频已生成60%\n视频已生成100%</think>\n"
	if got := progress.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !strings.Contains(content(chunks[3]), "<video") {
		t.Fatalf("expected video html chunk, got %q", content(chunks[3]))
	}
	if finish.Status != 200 {
		t.Fatalf("expected status 200, got %d", finish.Status)
	}
}

func TestImageGenerationFinalLinks(t *testing.T) {
	body := joinNDJSON(
		responseFrame(map[string]interface{}{"imageAttachmentInfo": map[string]interface{}{"id": "x"}}),
		responseFrame(map[string]interface{}{
			"imageAttachmentInfo": map[string]interface{}{"id": "x"},
			"modelResponse": map[string]interface{}{
				"generatedImageUrls": []interface{}{"https://cdn.example/a.png", ""},
			},
		}),
	)
	out, finish := run(t, relaxedOpts(), body)
	chunks := parseSSE(t, out)
	last := chunks[len(chunks)-1]
	if last.FinishReason != "stop" {
		t.Fatalf("expected finish_reason stop, got %v", last.FinishReason)
	}
	if !strings.HasPrefix(content(last), "![image](") {
		t.Fatalf("expected markdown image link, got %q", content(last))
	}
	if finish.Status != 200 {
		t.Fatalf("expected status 200, got %d", finish.Status)
	}
}

func TestErrorFrameEmitsVisibleMessageAndStatus500(t *testing.T) {
	body := joinNDJSON(map[string]interface{}{
		"error": map[string]interface{}{"message": "rate limited"},
	})
	out, finish := run(t, relaxedOpts(), body)
	chunks := parseSSE(t, out)
	if got := content(chunks[0]); got != "Error: rate limited" {
		t.Fatalf("got %q", got)
	}
	if finish.Status != 500 {
		t.Fatalf("expected status 500, got %d", finish.Status)
	}
}

func TestNormalEOFClosesCleanly(t *testing.T) {
	body := joinNDJSON(responseFrame(map[string]interface{}{"token": "hi"}))
	out, finish := run(t, relaxedOpts(), body)
	chunks := parseSSE(t, out)
	last := chunks[len(chunks)-1]
	if last.FinishReason != "stop" {
		t.Fatalf("expected finish_reason stop, got %v", last.FinishReason)
	}
	if !strings.Contains(out, "[DONE]") {
		t.Fatal("expected [DONE] sentinel")
	}
	if finish.Status != 200 {
		t.Fatalf("expected status 200, got %d", finish.Status)
	}
}

func TestTokenArrayFramesAreIgnored(t *testing.T) {
	body := joinNDJSON(
		responseFrame(map[string]interface{}{"token": []interface{}{"a", "b"}}),
		responseFrame(map[string]interface{}{"token": "real"}),
	)
	out, _ := run(t, relaxedOpts(), body)
	chunks := parseSSE(t, out)
	var combined strings.Builder
	for _, c := range chunks {
		combined.WriteString(content(c))
	}
	if got := combined.String(); got != "real" {
		t.Fatalf("got %q, want %q", got, "real")
	}
}

func TestFirstResponseTimeoutClosesWithoutUpstreamData(t *testing.T) {
	opts := relaxedOpts()
	opts.FirstResponse = 10 * time.Millisecond
	opts.Chunk = 10 * time.Millisecond
	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	var finish FinishInfo
	Transcode(context.Background(), pr, &out, opts, func(fi FinishInfo) {
		finish = fi
	})

	if !strings.Contains(out.String(), "[DONE]") {
		t.Fatal("expected [DONE] sentinel even on timeout")
	}
	if finish.Status != 200 {
		t.Fatalf("expected status preserved at 200, got %d", finish.Status)
	}
}
