package compose

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"github.com/impara/comicgen/internal/domain"
)

const maxImageBytes = 16 << 20

// fetchImage resolves an image source, either an http(s) URL or a data URI
// with inline base64 bytes, and decodes it. Unreachable sources surface as
// domain.ErrImageFetch, undecodable bytes as domain.ErrImageDecode; both are
// per-panel errors, never fatal to the orchestrator.
func (c *Compositor) fetchImage(ctx context.Context, src string) (image.Image, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty image source", domain.ErrImageFetch)
	}

	var data []byte
	switch {
	case strings.HasPrefix(src, "data:"):
		b, err := decodeDataURI(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrImageDecode, err)
		}
		data = b
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		b, err := c.download(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s", domain.ErrImageFetch, src, err)
		}
		data = b
	default:
		return nil, fmt.Errorf("%w: unsupported image source %q", domain.ErrImageFetch, truncate(src, 64))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrImageDecode, err)
	}
	return img, nil
}

func (c *Compositor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}

func decodeDataURI(src string) ([]byte, error) {
	idx := strings.Index(src, ",")
	if idx < 0 {
		return nil, fmt.Errorf("malformed data uri")
	}
	meta, payload := src[:idx], src[idx+1:]
	if !strings.Contains(meta, "base64") {
		return nil, fmt.Errorf("data uri is not base64 encoded")
	}
	return base64.StdEncoding.DecodeString(payload)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
