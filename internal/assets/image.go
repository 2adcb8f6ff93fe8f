package assets

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

var (
	// ErrUnsupportedFormat means the file extension is not an accepted image type
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooLarge means the upload exceeds the configured byte limit
	ErrTooLarge = errors.New("image exceeds upload limit")
)

// AllowedFormats are the accepted image extensions
var AllowedFormats = []string{"jpg", "jpeg", "png", "gif", "webp"}

var contentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// FormatOf returns the normalized extension of filename, or ErrUnsupportedFormat
func FormatOf(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))

	if _, ok := contentTypes[ext]; !ok {
		return "", fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedFormat, ext, strings.Join(AllowedFormats, ", "))
	}
	return ext, nil
}

// ContentType returns the MIME type of a normalized extension
func ContentType(format string) string {
	return contentTypes[format]
}

// Bound scales the image down so neither side exceeds maxDim, keeping the aspect ratio.
// Images already within bounds, and webp (no decoder available), are returned unchanged.
func Bound(data []byte, format string, maxDim uint) ([]byte, error) {
	if format == "webp" || maxDim == 0 {
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))

	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}

	if uint(cfg.Width) <= maxDim && uint(cfg.Height) <= maxDim {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))

	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounded := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)

	var buf bytes.Buffer

	switch format {
	case "png":
		err = png.Encode(&buf, bounded)
	case "gif":
		err = gif.Encode(&buf, bounded, nil)
	default:
		err = jpeg.Encode(&buf, bounded, &jpeg.Options{Quality: 85})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}
