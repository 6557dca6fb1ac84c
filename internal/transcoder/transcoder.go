// Package transcoder converts an upstream Grok NDJSON frame sequence into
// OpenAI SSE chat.completion.chunk events: cross-frame tag filtering,
// thinking-mode bracketing, image/video side streams, and four layered
// timeouts.
//
// The frame loop follows a scan-line / parse-JSON / dispatch idiom: a
// dedicated goroutine reads lines into a channel, and the main loop races
// that channel against a per-read timer to enforce idle timeouts.
package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aprpure/grok-gateway/internal/assets"
	"github.com/aprpure/grok-gateway/internal/errtax"
	"github.com/aprpure/grok-gateway/internal/frame"
	"github.com/aprpure/grok-gateway/internal/tagfilter"
	"github.com/aprpure/grok-gateway/internal/translator/openaichunk"
	log "github.com/sirupsen/logrus"
)

// Flusher is satisfied by http.ResponseWriter and lets the transcoder push
// each SSE record to the client immediately.
type Flusher interface {
	Flush()
}

// Options configures one transcode run.
type Options struct {
	StreamIDBase string
	FilterTags   []string
	ShowThinking bool

	FirstResponse time.Duration
	Chunk         time.Duration
	Total         time.Duration
	Idle          time.Duration
	VideoIdle     time.Duration

	InitialModel       string
	GlobalBaseURL      string
	RequestOrigin      string
	VideoPosterPreview bool

	// OnAsset, if set, is called with (encoded proxy path, original
	// upstream URL) every time the transcoder rewrites an image or video
	// URL, letting the caller populate a write-through cache best-effort
	// without the transcoder itself depending on any storage backend.
	OnAsset func(encodedPath, sourceURL string)
}

// FinishInfo is passed to the onFinish callback exactly once per run.
type FinishInfo struct {
	Status          int
	DurationSeconds float64
}

type lineResult struct {
	line []byte
	err  error
}

// Transcode drains upstream (one NDJSON frame per line) and writes OpenAI
// SSE records to w, flushing after every write when w implements Flusher.
// onFinish is invoked exactly once on every termination path.
func Transcode(ctx context.Context, upstream io.Reader, w io.Writer, opts Options, onFinish func(FinishInfo)) {
	t := &transcoder{
		ctx:     ctx,
		upstream: upstream,
		w:       w,
		opts:    opts,
		onFinish: onFinish,
		state:    openaichunk.NewState(opts.StreamIDBase, opts.InitialModel),
		filter:   tagfilter.New(opts.FilterTags),
		finalStatus: 200,
		startTime:   time.Now(),
	}
	if fl, ok := w.(Flusher); ok {
		t.flusher = fl
	}
	t.run()
}

type transcoder struct {
	ctx      context.Context
	upstream io.Reader
	w        io.Writer
	flusher  Flusher
	opts     Options
	onFinish func(FinishInfo)

	state  *openaichunk.State
	filter *tagfilter.Filter

	finalStatus int
	startTime   time.Time
	lastChunk   time.Time
	firstRecv   bool

	hasSentFirstChunk bool

	isImage bool
	isVideo bool

	isThinking       bool
	thinkingFinished bool

	videoProgressStarted bool
	lastVideoProgress    int

	finished bool
}

func (t *transcoder) write(b []byte) {
	_, _ = t.w.Write(openaichunk.SSELine(b))
	if t.flusher != nil {
		t.flusher.Flush()
	}
}

func (t *transcoder) finish(status int) {
	if t.finished {
		return
	}
	t.finished = true
	t.finalStatus = status
	if t.onFinish != nil {
		t.onFinish(FinishInfo{Status: status, DurationSeconds: time.Since(t.startTime).Seconds()})
	}
}

func (t *transcoder) emitDelta(content string) {
	t.write(openaichunk.Delta(t.state, content, !t.hasSentFirstChunk))
	t.hasSentFirstChunk = true
}

func (t *transcoder) emitDeltaFinish(content, finishReason string) {
	includeRole := !t.hasSentFirstChunk
	t.hasSentFirstChunk = true
	t.write(openaichunk.DeltaFinish(t.state, content, includeRole, finishReason))
}

func (t *transcoder) closeStream(status int) {
	t.write(openaichunk.Done())
	t.finish(status)
}

// flushStopAndClose emits the mandatory terminal "stop" chunk carrying
// content (usually empty) followed by [DONE], and finishes the run with
// status (callers pass t.finalStatus to keep the status unchanged).
func (t *transcoder) flushStopAndClose(status int, content string) {
	t.emitDeltaFinish(content, "stop")
	t.closeStream(status)
}

func (t *transcoder) run() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("transcoder: panic recovered: %v", r)
			t.emitDeltaFinish("处理错误: "+fmt.Sprint(r), "error")
			t.closeStream(500)
		}
	}()

	lineCh := make(chan lineResult, 8)
	go t.readLines(lineCh)

	for {
		if done, status := t.checkDeadlines(); done {
			t.flushStopAndClose(status, "")
			return
		}

		readTimeout := t.nextReadTimeout()
		timer := time.NewTimer(readTimeout)

		select {
		case <-t.ctx.Done():
			timer.Stop()
			t.flushStopAndClose(t.finalStatus, "")
			return

		case res, ok := <-lineCh:
			timer.Stop()
			if !ok {
				t.flushStopAndClose(t.finalStatus, "")
				return
			}
			if res.err != nil {
				t.handleReadError(res.err)
				return
			}
			if terminal := t.handleLine(res.line); terminal {
				return
			}

		case <-timer.C:
			// Per-read timeout race lost: backstop close regardless of which
			// budget (first-response/chunk) was active.
			t.flushStopAndClose(t.finalStatus, "")
			return
		}
	}
}

func (t *transcoder) readLines(out chan<- lineResult) {
	defer close(out)
	reader := bufio.NewReaderSize(t.upstream, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			out <- lineResult{line: line}
		}
		if err != nil {
			if err != io.EOF {
				out <- lineResult{err: err}
			}
			return
		}
	}
}

func (t *transcoder) handleReadError(err error) {
	se := errtax.ClassifyTransportError(err)
	switch se.Kind {
	case errtax.KindHTTP2Stream:
		t.flushStopAndClose(502, "")
	default:
		t.emitDeltaFinish("处理错误: "+err.Error(), "error")
		t.closeStream(500)
	}
}

// checkDeadlines evaluates the four timeout budgets in priority order
// and reports whether the stream must terminate now.
func (t *transcoder) checkDeadlines() (bool, int) {
	now := time.Now()

	if !t.firstRecv && t.opts.FirstResponse > 0 && now.Sub(t.startTime) > t.opts.FirstResponse {
		return true, t.finalStatus
	}
	if t.opts.Total > 0 && now.Sub(t.startTime) > t.opts.Total {
		return true, t.finalStatus
	}
	effectiveIdle := t.opts.Idle
	if t.isVideo {
		effectiveIdle = t.opts.VideoIdle
	}
	if t.firstRecv && effectiveIdle > 0 && now.Sub(t.lastChunk) > effectiveIdle {
		return true, t.finalStatus
	}
	if t.firstRecv && t.opts.Chunk > 0 && now.Sub(t.lastChunk) > t.opts.Chunk {
		return true, t.finalStatus
	}
	return false, 0
}

// nextReadTimeout computes the per-read select timeout: the active budget
// (first-response before the first frame, chunk afterward), clamped by
// whatever remains of total and, once streaming, of the effective idle
// budget so the loop wakes in time to re-run checkDeadlines.
func (t *transcoder) nextReadTimeout() time.Duration {
	budget := t.opts.FirstResponse
	if t.firstRecv {
		budget = t.opts.Chunk
	}
	if budget <= 0 {
		budget = time.Hour
	}

	now := time.Now()
	if t.opts.Total > 0 {
		remaining := t.opts.Total - now.Sub(t.startTime)
		if remaining < budget {
			budget = remaining
		}
	}
	if t.firstRecv {
		effectiveIdle := t.opts.Idle
		if t.isVideo {
			effectiveIdle = t.opts.VideoIdle
		}
		if effectiveIdle > 0 {
			remaining := effectiveIdle - now.Sub(t.lastChunk)
			if remaining < budget {
				budget = remaining
			}
		}
	}
	if budget <= 0 {
		budget = time.Millisecond
	}
	return budget
}

// handleLine parses one NDJSON line and dispatches it. Returns true if the
// stream has been terminated (caller must stop the loop).
func (t *transcoder) handleLine(raw []byte) bool {
	trimmed := strings.TrimRight(string(raw), "\r\n")
	if strings.TrimSpace(trimmed) == "" {
		return false
	}

	trimmedBytes := []byte(trimmed)
	if !gjson.ValidBytes(trimmedBytes) {
		// Malformed lines are skipped silently rather than aborting the stream.
		return false
	}

	t.firstRecv = true
	t.lastChunk = time.Now()

	f := frame.Parse(trimmedBytes)

	if f.HasError {
		t.emitDeltaFinish("Error: "+f.ErrorMessage, "stop")
		t.closeStream(500)
		return true
	}

	if f.Model != "" {
		t.state.Model = f.Model
	}

	if f.HasVideo {
		t.handleVideoFrame(f)
		return false
	}

	if f.HasImageInfo {
		t.isImage = true
	}

	if t.isImage {
		return t.handleImageFrame(f)
	}

	return t.handleTextFrame(f)
}

func (t *transcoder) handleVideoFrame(f frame.Frame) {
	t.isVideo = true
	v := f.Video
	if v.Progress > t.lastVideoProgress {
		if t.opts.ShowThinking {
			prefix := ""
			if !t.videoProgressStarted {
				prefix = "<think>"
				t.videoProgressStarted = true
			}
			suffix := "\n"
			if v.Progress >= 100 {
				suffix = "</think>\n"
			}
			t.emitDelta(prefix + "视频已生成" + strconv.Itoa(v.Progress) + "%" + suffix)
		}
		t.lastVideoProgress = v.Progress
	}
	if v.VideoURL != "" {
		videoURL := t.proxyAssetURL(v.VideoURL)
		posterURL := ""
		if v.ThumbnailImageURL != "" {
			posterURL = t.proxyAssetURL(v.ThumbnailImageURL)
		}
		html := assets.VideoHTML(videoURL, posterURL, t.opts.VideoPosterPreview)
		t.emitDelta(html)
	}
}

func (t *transcoder) proxyAssetURL(raw string) string {
	encoded := assets.EncodeAssetPath(raw)
	if t.opts.OnAsset != nil {
		t.opts.OnAsset(encoded, raw)
	}
	return assets.ToImgProxyURL(t.opts.GlobalBaseURL, t.opts.RequestOrigin, encoded)
}

// handleImageFrame returns true if the stream terminated.
func (t *transcoder) handleImageFrame(f frame.Frame) bool {
	if f.HasGenImages {
		urls := assets.NormalizeGeneratedAssetUrls(f.GeneratedImages)
		if len(urls) > 0 {
			links := make([]string, 0, len(urls))
			for _, u := range urls {
				proxied := t.proxyAssetURL(u)
				links = append(links, "![image]("+proxied+")")
			}
			t.emitDeltaFinish(strings.Join(links, "\n"), "stop")
			t.closeStream(t.finalStatus)
			return true
		}
	}
	if f.Token != "" && !f.TokenIsArr {
		t.emitDelta(f.Token)
	}
	return false
}

// handleTextFrame returns true if the stream terminated (text mode never
// terminates on its own, but shares the bool return shape with its image
// counterpart for symmetry in the call site).
func (t *transcoder) handleTextFrame(f frame.Frame) bool {
	if f.TokenIsArr || f.Token == "" {
		return false
	}

	text := t.filter.Filter(f.Token)
	if text == "" {
		return false
	}

	curIsThinking := f.HasIsThinking && f.IsThinking
	skip := false

	if f.HasToolUsage && len(f.WebSearch) > 0 {
		if curIsThinking && t.opts.ShowThinking {
			var b strings.Builder
			b.WriteString(text)
			for _, r := range f.WebSearch {
				preview := strings.ReplaceAll(r.Preview, "\n", " ")
				b.WriteString("\n- [" + r.Title + "](" + r.URL + " \"" + preview + "\")")
			}
			b.WriteString("\n")
			text = b.String()
		} else {
			skip = true
		}
	}

	var prefix string
	if !skip {
		if f.MessageTag == "header" {
			text = "\n\n" + text + "\n\n"
		}

		if !t.isThinking && curIsThinking {
			if t.opts.ShowThinking {
				prefix = "<think>\n"
			} else {
				skip = true
			}
		} else if t.isThinking && !curIsThinking {
			if t.opts.ShowThinking {
				prefix = "\n</think>\n"
			}
			t.thinkingFinished = true
		}

		if curIsThinking && !t.opts.ShowThinking {
			skip = true
		}
		if t.thinkingFinished && curIsThinking {
			skip = true
		}
	}

	if !skip {
		t.emitDelta(prefix + text)
	}
	t.isThinking = curIsThinking
	return false
}
