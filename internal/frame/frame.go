// Package frame decodes one line of the upstream Grok NDJSON dialect into
// a set of heterogeneous, loosely-typed shapes. Grok frames are a loose,
// optional-everything union, so fields are extracted defensively by JSON
// path rather than strict-unmarshaled into a rigid struct.
package frame

import "github.com/tidwall/gjson"

// WebSearchResult is one citation surfaced inside a thinking region.
type WebSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Preview string `json:"preview"`
}

// VideoGeneration carries a single streamingVideoGenerationResponse update.
type VideoGeneration struct {
	Progress          int
	VideoURL          string
	ThumbnailImageURL string
}

// Frame is the decoded shape of one upstream NDJSON line. Every field is
// optional. Lines that fail to parse as JSON are skipped by the caller,
// never surfaced here.
type Frame struct {
	ErrorMessage string
	HasError     bool

	Model string

	Token      string
	TokenIsArr bool // true when the upstream token field was an array, ignored per spec

	IsThinking      bool
	HasIsThinking   bool
	MessageTag      string
	HasImageInfo    bool
	GeneratedImages []string
	HasGenImages    bool

	CompletionModel   string
	CompletionMessage string
	CompletionError   string

	Video    *VideoGeneration
	HasVideo bool

	ToolUsageCardID string
	HasToolUsage    bool
	WebSearch       []WebSearchResult
}

// Parse decodes one raw NDJSON line into a Frame via gjson path access.
// Callers are expected to have already skipped lines that aren't valid
// JSON: a parse error on one line never aborts the stream.
func Parse(raw []byte) Frame {
	var f Frame
	root := gjson.ParseBytes(raw)

	if msg := root.Get("error.message"); msg.Exists() {
		if s := msg.String(); s != "" {
			f.ErrorMessage = s
			f.HasError = true
		}
	}

	response := root.Get("result.response")
	if !response.Exists() {
		return f
	}

	if model := response.Get("userResponse.model"); model.Exists() {
		if s := model.String(); s != "" {
			f.Model = s
		}
	}

	if tok := response.Get("token"); tok.Exists() {
		if tok.IsArray() {
			f.TokenIsArr = true
		} else if tok.Type == gjson.String {
			f.Token = tok.String()
		}
	}

	if isThinking := response.Get("isThinking"); isThinking.Exists() {
		f.IsThinking = isThinking.Bool()
		f.HasIsThinking = true
	}

	f.MessageTag = response.Get("messageTag").String()

	if response.Get("imageAttachmentInfo").Exists() {
		f.HasImageInfo = true
	}

	if modelResponse := response.Get("modelResponse"); modelResponse.Exists() {
		if imgs := modelResponse.Get("generatedImageUrls"); imgs.Exists() && imgs.IsArray() {
			f.HasGenImages = true
			imgs.ForEach(func(_, v gjson.Result) bool {
				if v.Type == gjson.String {
					f.GeneratedImages = append(f.GeneratedImages, v.String())
				}
				return true
			})
		}
		f.CompletionModel = modelResponse.Get("model").String()
		f.CompletionMessage = modelResponse.Get("message").String()
		f.CompletionError = modelResponse.Get("error").String()
	}

	if vid := response.Get("streamingVideoGenerationResponse"); vid.Exists() {
		f.HasVideo = true
		f.Video = &VideoGeneration{
			Progress:          int(vid.Get("progress").Int()),
			VideoURL:          vid.Get("videoUrl").String(),
			ThumbnailImageURL: vid.Get("thumbnailImageUrl").String(),
		}
	}

	if cardID := response.Get("toolUsageCardId"); cardID.Exists() {
		if s := cardID.String(); s != "" {
			f.ToolUsageCardID = s
			f.HasToolUsage = true
		}
	}

	if results := response.Get("webSearchResults.results"); results.Exists() && results.IsArray() {
		results.ForEach(func(_, item gjson.Result) bool {
			f.WebSearch = append(f.WebSearch, WebSearchResult{
				Title:   item.Get("title").String(),
				URL:     item.Get("url").String(),
				Preview: item.Get("preview").String(),
			})
			return true
		})
	}

	return f
}
