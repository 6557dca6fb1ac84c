package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/aprpure/grok-gateway/internal/settings"
	"github.com/aprpure/grok-gateway/internal/store"
	"github.com/aprpure/grok-gateway/internal/tokenpool"
	"github.com/aprpure/grok-gateway/internal/transcoder"
	"github.com/aprpure/grok-gateway/internal/translator/openaichunk"
	"github.com/aprpure/grok-gateway/internal/upstream"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// handleChatCompletions is the OpenAI-compatible chat completions
// endpoint: it resolves a pooled credential, forwards the conversation
// to the Grok upstream, and transcodes the NDJSON response back as
// either an SSE stream or a single JSON completion.
func (s *Server) handleChatCompletions(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	if req.Model == "" {
		req.Model = "grok-4"
	}

	global := s.settings.Get(settings.SectionGlobal)
	grok := s.settings.Get(settings.SectionGrok)

	cred, ok := s.selectCredential(c, req.Model)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"message": "no healthy credential available"}})
		return
	}

	ctx, cancel := contextWithTimeout(contextWithGin(c), s.cfg.Timeouts.Total())
	defer cancel()

	body, err := s.callUpstream(ctx, cred, toString(grok["base_url"]), req, grok)
	if err != nil {
		log.WithError(err).Warn("api: upstream call failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	defer body.Close()

	showThinking, _ := global["show_thinking"].(bool)
	opts := transcoder.Options{
		StreamIDBase:       "chatcmpl-" + uuid.NewString()[:24],
		FilterTags:         toStringSlice(global["filter_tags"]),
		ShowThinking:       showThinking,
		FirstResponse:      s.cfg.Timeouts.FirstResponse(),
		Chunk:              s.cfg.Timeouts.Chunk(),
		Total:              s.cfg.Timeouts.Total(),
		Idle:               s.cfg.Timeouts.Idle(),
		VideoIdle:          s.cfg.Timeouts.VideoIdle(),
		InitialModel:       req.Model,
		GlobalBaseURL:      toString(global["base_url"]),
		RequestOrigin:      requestOrigin(c),
		VideoPosterPreview: true,
		OnAsset:            s.populateAssetCache,
	}

	start := time.Now()
	clientIP := c.ClientIP()
	onFinish := func(info transcoder.FinishInfo) {
		s.recordRequestLog(req.Model, info.Status, req, start, clientIP, cred)
	}

	if req.Stream {
		s.streamChat(c, ctx, body, opts, onFinish)
		return
	}
	s.bufferedChat(c, ctx, body, opts, req.Model, onFinish)
}

func (s *Server) streamChat(c *gin.Context, ctx context.Context, body io.Reader, opts transcoder.Options, onFinish func(transcoder.FinishInfo)) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	transcoder.Transcode(ctx, body, c.Writer, opts, onFinish)
}

func (s *Server) bufferedChat(c *gin.Context, ctx context.Context, body io.Reader, opts transcoder.Options, model string, onFinish func(transcoder.FinishInfo)) {
	var buf bytes.Buffer
	transcoder.Transcode(ctx, body, &buf, opts, onFinish)

	content := extractSSEContent(&buf)
	c.Data(http.StatusOK, "application/json", openaichunk.NonStreamResponse(model, content))
}

// extractSSEContent reassembles the streamed delta content a buffered
// transcode run produced back into a single string, stopping at the
// terminal [DONE] marker.
func extractSSEContent(buf *bytes.Buffer) string {
	var out strings.Builder
	scanner := bufio.NewScanner(buf)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		for _, ch := range chunk.Choices {
			out.WriteString(ch.Delta.Content)
		}
	}
	return out.String()
}

// selectCredential resolves a pooled Grok credential for this request,
// tier-filtered by model and sticky-bound to the caller's session header
// when present.
func (s *Server) selectCredential(c *gin.Context, model string) (tokenpool.Credential, bool) {
	tokenSection := s.settings.Get(settings.SectionToken)
	pool := decodeCredentialPool(tokenSection["pool"])
	sessionKey := tokenpool.SessionKey(c.GetHeader("Session-Id"))
	return tokenpool.Lookup(pool, model, sessionKey)
}

func decodeCredentialPool(raw interface{}) []tokenpool.Credential {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]tokenpool.Credential, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		cred := tokenpool.Credential{
			ID:      toString(m["id"]),
			Healthy: true,
		}
		if healthy, ok := m["healthy"].(bool); ok {
			cred.Healthy = healthy
		}
		if p, ok := tokenpool.PriorityFromAny(m["priority"]); ok {
			cred.Priority = p
		}
		if tier := toString(m["tier"]); tier != "" {
			cred.Tier = tokenpool.Tier(tier)
		}
		if access := toString(m["access_token"]); access != "" {
			cred.Token = &oauth2.Token{
				AccessToken:  access,
				RefreshToken: toString(m["refresh_token"]),
			}
		}
		out = append(out, cred)
	}
	return out
}

// callUpstream forwards the conversation to the configured Grok base
// URL and returns the decompressed NDJSON body. When grok's
// image_generation_method is imagine_ws_experimental, the image path is
// tried over a websocket connection first, falling back to the REST path
// below on any dial or write failure. The cookie/proxy/retry machinery a
// production client needs is out of scope here; this is the thin
// POST-and-decompress path the gateway itself requires.
func (s *Server) callUpstream(ctx context.Context, cred tokenpool.Credential, baseURL string, req chatRequest, grok map[string]interface{}) (io.ReadCloser, error) {
	if method, _ := grok["image_generation_method"].(string); settings.NormalizeImageGenerationMethod(method) == "imagine_ws_experimental" {
		if body, err := s.callUpstreamWS(ctx, cred, baseURL, req); err == nil {
			return body, nil
		} else {
			log.WithError(err).Debug("api: imagine_ws_experimental dial failed, falling back to legacy upstream")
		}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   true,
	})
	if err != nil {
		return nil, fmt.Errorf("api: marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/rest/app-chat/conversations/new", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("api: build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cred.Token != nil {
		httpReq.Header.Set("Authorization", "Bearer "+cred.Token.AccessToken)
	}

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("api: upstream request: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("api: upstream status %d", resp.StatusCode)
	}

	decoded, err := upstream.DecompressedBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return decoded, nil
}

// callUpstreamWS dials the imagine_ws_experimental image-generation
// websocket, writes the conversation as one frame, and adapts the
// inbound frame stream into the same line-delimited NDJSON shape the
// REST path produces, so the transcoder needs no websocket-specific
// handling.
func (s *Server) callUpstreamWS(ctx context.Context, cred tokenpool.Credential, baseURL string, req chatRequest) (io.ReadCloser, error) {
	wsURL := strings.Replace(strings.TrimRight(baseURL, "/"), "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws/app-chat/imagine"

	headers := map[string][]string{}
	if cred.Token != nil {
		headers["Authorization"] = []string{"Bearer " + cred.Token.AccessToken}
	}

	conn, err := upstream.DialImageWebSocket(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("api: dial imagine websocket: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("api: marshal imagine request: %w", err)
	}
	if err := conn.WriteFrame(ctx, payload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("api: write imagine frame: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer conn.Close()
		defer pw.Close()
		for {
			frame, err := conn.ReadFrame(ctx)
			if err != nil {
				return
			}
			if _, err := pw.Write(append(frame, '\n')); err != nil {
				return
			}
		}
	}()
	return pr, nil
}

func (s *Server) recordRequestLog(model string, status int, req chatRequest, start time.Time, clientIP string, cred tokenpool.Credential) {
	if s.db == nil {
		return
	}
	var promptTokens int
	if s.estimator != nil {
		for _, m := range req.Messages {
			if n, err := s.estimator.Estimate(m.Content); err == nil {
				promptTokens += n
			}
		}
	}
	errMsg := ""
	if status >= 400 {
		errMsg = fmt.Sprintf("upstream status %d", status)
	}
	entry := store.RequestLogEntry{
		Model:        model,
		Status:       status,
		PromptTokens: promptTokens,
		DurationMS:   time.Since(start).Milliseconds(),
		IP:           clientIP,
		KeyName:      cred.ID,
		TokenSuffix:  tokenSuffix(cred),
		Error:        errMsg,
		CreatedAt:    start,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.db.RecordRequest(ctx, entry); err != nil {
			log.WithError(err).Warn("api: failed to record request log")
		}
	}()
}

// tokenSuffix returns the last 6 characters of a credential's access
// token for operator-facing logs, never the token itself: a token of 6
// characters or fewer yields "".
func tokenSuffix(cred tokenpool.Credential) string {
	if cred.Token == nil || len(cred.Token.AccessToken) == 0 {
		return ""
	}
	tok := cred.Token.AccessToken
	if len(tok) <= 6 {
		return ""
	}
	return tok[len(tok)-6:]
}

// populateAssetCache best-effort mirrors a rewritten image/video URL into
// the configured object-storage cache, off the hot path. A cache miss or
// a nil cache is never an error for the chat response itself.
func (s *Server) populateAssetCache(encodedPath, sourceURL string) {
	if s.assets == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.assets.Populate(ctx, encodedPath, sourceURL, ""); err != nil {
			log.WithError(err).WithField("path", encodedPath).Debug("api: asset cache populate failed")
		}
	}()
}

func requestOrigin(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toStringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
