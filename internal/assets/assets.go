// Package assets rewrites upstream image/video URLs into gateway-proxied,
// base64url-tagged paths, and builds the video HTML snippets the
// transcoder emits for streamingVideoGenerationResponse frames.
package assets

import (
	"encoding/base64"
	"html"
	"net/url"
	"strings"
)

// EncodeAssetPath maps any upstream URL to a single opaque path segment.
// Absolute URLs are tagged "u_"; everything else is treated as a path and
// tagged "p_". The two prefixes are disjoint by construction, so the
// result is injective up to URL normalization.
func EncodeAssetPath(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return "u_" + base64URLEncode(raw)
	}
	path := raw
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "p_" + base64URLEncode(path)
}

func base64URLEncode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// ToImgProxyURL builds the "{base||origin}/images/{path}" proxy URL.
func ToImgProxyURL(globalBaseURL, requestOrigin, encodedPath string) string {
	base := strings.TrimRight(globalBaseURL, "/")
	if base == "" {
		base = strings.TrimRight(requestOrigin, "/")
	}
	return base + "/images/" + encodedPath
}

// NormalizeGeneratedAssetUrls filters a raw list of generated asset URLs,
// keeping only non-empty strings, dropping the literal "/", and dropping
// any URL whose parsed pathname is "/" with no query or fragment (i.e. it
// carries no actual asset identity).
func NormalizeGeneratedAssetUrls(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v == "" || v == "/" {
			continue
		}
		if u, err := url.Parse(v); err == nil {
			if u.Path == "/" && u.RawQuery == "" && u.Fragment == "" {
				continue
			}
		}
		out = append(out, v)
	}
	return out
}

// VideoHTML builds the HTML snippet embedded in the assistant content for
// a completed video generation. When posterPreview is true and posterURL
// is non-empty, it renders a clickable poster block with an overlay play
// triangle; otherwise a bare <video> element.
func VideoHTML(videoURL, posterURL string, posterPreview bool) string {
	if !posterPreview || posterURL == "" {
		return `<video src="` + html.EscapeString(videoURL) + `" controls width="500" height="300"></video>`
	}
	escapedVideo := html.EscapeString(videoURL)
	escapedPoster := html.EscapeString(posterURL)
	var b strings.Builder
	b.WriteString(`<div style="position:relative;width:500px;height:300px;cursor:pointer" `)
	b.WriteString(`onclick="this.innerHTML='<video src=&quot;`)
	b.WriteString(escapedVideo)
	b.WriteString(`&quot; controls autoplay width=&quot;500&quot; height=&quot;300&quot;></video>'">`)
	b.WriteString(`<img src="`)
	b.WriteString(escapedPoster)
	b.WriteString(`" width="500" height="300" style="object-fit:cover" />`)
	b.WriteString(`<div style="position:absolute;top:50%;left:50%;transform:translate(-50%,-50%);` +
		`width:0;height:0;border-top:20px solid transparent;border-bottom:20px solid transparent;` +
		`border-left:32px solid rgba(255,255,255,0.85)"></div>`)
	b.WriteString(`</div>`)
	return b.String()
}
