// File: image_source.go
package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	_ "golang.org/x/image/webp"
)

const (
	randomImageURL = "https://picsum.photos/280/155/?random&t="
	maxImageBytes  = 8 << 20
	maxImageSide   = 4096
)

// ImageLoader turns an image URL into a bitmap.
type ImageLoader interface {
	Load(ctx context.Context, url string) (image.Image, error)
}

// ResolveImageURL returns the configured image, or a random-image URL with
// a cache-busting timestamp.
func ResolveImageURL(configured string, now time.Time) string {
	if configured != "" {
		return configured
	}
	return randomImageURL + strconv.FormatInt(now.UnixMilli(), 10)
}

// HTTPLoader fetches images over HTTP(S).
type HTTPLoader struct {
	Client *http.Client
}

func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	return &HTTPLoader{Client: &http.Client{Timeout: timeout}}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	// the header is checked first: a small file can declare a huge bitmap
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width > maxImageSide || cfg.Height > maxImageSide {
		return nil, fmt.Errorf("decode image: %dx%d exceeds %dx%d", cfg.Width, cfg.Height, maxImageSide, maxImageSide)
	}
	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, fmt.Errorf("decode image: empty %s bitmap", format)
	}
	return img, nil
}
