package imageconv

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/webp"
)

const maxRemoteImageBytes = 32 << 20

var ErrUnsupportedReference = errors.New("unsupported image reference")

// ToPNG re-encodes png, jpeg, gif or webp input as PNG.
func ToPNG(data []byte) ([]byte, error) {
	if isPNG(data) {
		return data, nil
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DetectMIME sniffs an image payload. Non-image payloads return their sniffed type.
func DetectMIME(data []byte) string {
	if isWEBP(data) {
		return "image/webp"
	}
	return http.DetectContentType(data)
}

// EncodeDataURL renders bytes as a data: reference.
func EncodeDataURL(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// DecodeDataURL splits a base64 data: reference into its mime type and bytes.
func DecodeDataURL(ref string) (string, []byte, error) {
	if !strings.HasPrefix(ref, "data:") {
		return "", nil, ErrUnsupportedReference
	}
	header, payload, ok := strings.Cut(ref[len("data:"):], ",")
	if !ok {
		return "", nil, errors.New("invalid data url")
	}
	mimeType, params, _ := strings.Cut(header, ";")
	if !strings.Contains(params, "base64") {
		return "", nil, errors.New("data url is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data url: %w", err)
	}
	if mimeType == "" {
		mimeType = DetectMIME(data)
	}
	return mimeType, data, nil
}

// Resolve returns the bytes behind an image reference: a data URL is decoded
// locally, an http(s) URL is fetched.
func Resolve(ctx context.Context, client *http.Client, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "data:"):
		_, data, err := DecodeDataURL(ref)
		return data, err
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return fetch(ctx, client, ref)
	default:
		return nil, fmt.Errorf("%w: %.32q", ErrUnsupportedReference, ref)
	}
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch image: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxRemoteImageBytes {
		return nil, errors.New("fetch image: payload too large")
	}
	return data, nil
}

// Placeholder renders a width x height PNG whose colours derive from seed.
// The same seed always yields the same bytes.
func Placeholder(width, height int, seed string) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid placeholder size %dx%d", width, height)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum32()
	bg := color.RGBA{R: 160 + uint8(sum%80), G: 160 + uint8((sum>>8)%80), B: 160 + uint8((sum>>16)%80), A: 255}
	fg := color.RGBA{R: bg.R / 2, G: bg.G / 2, B: bg.B / 2, A: 255}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	frame := width / 12
	if frame < 4 {
		frame = 4
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := bg
			onFrame := x < frame || y < frame || x >= width-frame || y >= height-frame
			// Diagonal cross marks the image as a stand-in.
			onCross := abs(x*height-y*width) < width*2 || abs((width-x)*height-y*width) < width*2
			if onFrame || onCross {
				c = fg
			}
			img.SetRGBA(x, y, c)
		}
	}

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func decodeImage(data []byte) (image.Image, error) {
	if isWEBP(data) {
		return webp.Decode(bytes.NewReader(data), &decoder.Options{})
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

func isWEBP(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

func isPNG(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	return bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
