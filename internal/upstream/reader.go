// Package upstream provides a thin, compression-aware wrapper around the
// raw upstream Grok response body. The full upstream HTTP client (auth,
// retries, connection pooling) lives outside this gateway; this package
// only has to hand the transcoder a plain io.ReadCloser of decompressed
// NDJSON bytes regardless of which encoding the upstream chose.
package upstream

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// DecompressedBody wraps resp.Body according to its Content-Encoding
// header, returning a reader the transcoder can consume line-by-line.
// The returned reader's Close releases any decoder state and closes
// resp.Body, so the caller closes only the returned reader. On error the
// caller still owns resp.Body.
func DecompressedBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("upstream: gzip reader: %w", err)
		}
		return readCloser{Reader: gz, closeFn: func() error { gz.Close(); return resp.Body.Close() }}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("upstream: zstd reader: %w", err)
		}
		return readCloser{Reader: zr, closeFn: func() error { zr.Close(); return resp.Body.Close() }}, nil
	case "br":
		br := brotli.NewReader(resp.Body)
		return readCloser{Reader: br, closeFn: func() error { return resp.Body.Close() }}, nil
	default:
		return resp.Body, nil
	}
}

type readCloser struct {
	io.Reader
	closeFn func() error
}

func (r readCloser) Close() error { return r.closeFn() }
