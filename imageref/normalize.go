// Package imageref normalizes reference-image inputs into a
// backend-uploadable form.
//
// A reference arrives as an http(s) URL, an inline data:image base64
// payload, or a local file path. The image is decoded, downscaled when it
// exceeds the configured dimension cap, and re-encoded to PNG. Any fetch,
// decode, or re-encode failure aborts the request with an upload error;
// normalization is never silently retried since repeated transfers of
// large payloads would be wasteful.
package imageref

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"imagerouter/core"
	"imagerouter/logging"
)

// Normalizer converts reference-image inputs to PNG bytes ready for
// backend upload. Safe for concurrent use.
type Normalizer struct {
	httpClient *http.Client
	maxDim     int
	logger     *logging.Logger
}

// NewNormalizer creates a Normalizer. maxDim caps the longer image side;
// zero or negative disables downscaling.
func NewNormalizer(httpClient *http.Client, maxDim int, logger *logging.Logger) *Normalizer {
	if httpClient == nil {
		httpClient = core.GetDefaultHTTPClient(nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Normalizer{
		httpClient: httpClient,
		maxDim:     maxDim,
		logger:     logger.Named("imageref"),
	}
}

// Normalize resolves a reference-image input to PNG bytes.
func (n *Normalizer) Normalize(ctx context.Context, ref string) ([]byte, error) {
	raw, err := n.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, core.NewUploadError("decode", err)
	}

	img = n.downscale(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, core.NewUploadError("encode", err)
	}

	n.logger.Debug("reference image normalized",
		zap.String("source_format", format),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// resolve fetches the raw bytes for each supported input form.
func (n *Normalizer) resolve(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return n.fetchURL(ctx, ref)
	case strings.HasPrefix(ref, "data:image"):
		return decodeDataURL(ref)
	default:
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, core.NewUploadError("read", err)
		}
		return data, nil
	}
}

func (n *Normalizer) fetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, core.NewUploadError("fetch", err)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, core.NewUploadError("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.NewUploadError("fetch",
			fmt.Errorf("unexpected status %d fetching reference image", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewUploadError("fetch", err)
	}
	return data, nil
}

// decodeDataURL extracts the base64 payload from a data:image URL.
func decodeDataURL(ref string) ([]byte, error) {
	idx := strings.Index(ref, ",")
	if idx < 0 {
		return nil, core.NewUploadError("decode",
			fmt.Errorf("data URL missing base64 payload"))
	}
	data, err := base64.StdEncoding.DecodeString(ref[idx+1:])
	if err != nil {
		return nil, core.NewUploadError("decode", err)
	}
	return data, nil
}

// downscale shrinks the image so neither side exceeds maxDim, preserving
// aspect ratio. Returns the image unchanged when it fits.
func (n *Normalizer) downscale(img image.Image) image.Image {
	if n.maxDim <= 0 {
		return img
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= n.maxDim && h <= n.maxDim {
		return img
	}

	var newW, newH int
	if w >= h {
		newW = n.maxDim
		newH = h * n.maxDim / w
	} else {
		newH = n.maxDim
		newW = w * n.maxDim / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	n.logger.Debug("reference image downscaled",
		zap.Int("from_width", w), zap.Int("from_height", h),
		zap.Int("to_width", newW), zap.Int("to_height", newH))
	return dst
}
