package assets

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/sajanshree/order-api/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFormatOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename string
		want     string
		wantErr  bool
	}{
		{filename: "photo.JPG", want: "jpg"},
		{filename: "scan.jpeg", want: "jpeg"},
		{filename: "sketch.png", want: "png"},
		{filename: "anim.gif", want: "gif"},
		{filename: "modern.webp", want: "webp"},
		{filename: "notes.pdf", wantErr: true},
		{filename: "noext", wantErr: true},
	}

	for _, tc := range tests {
		got, err := FormatOf(tc.filename)

		if tc.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedFormat, tc.filename)
			continue
		}

		require.NoError(t, err, tc.filename)
		assert.Equal(t, tc.want, got)
	}

	assert.Equal(t, "image/jpeg", ContentType("jpg"))
}

func TestBoundScalesLargeImages(t *testing.T) {
	t.Parallel()

	data := encodePNG(t, 400, 200)

	out, err := Bound(data, "png", 100)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestBoundKeepsSmallImagesUntouched(t *testing.T) {
	t.Parallel()

	data := encodePNG(t, 40, 30)

	out, err := Bound(data, "png", 100)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	webp := []byte("RIFF....WEBP")
	out, err = Bound(webp, "webp", 100)
	require.NoError(t, err)
	assert.Equal(t, webp, out)
}

func TestBoundRejectsCorruptData(t *testing.T) {
	t.Parallel()

	_, err := Bound([]byte("not an image"), "jpg", 100)
	assert.Error(t, err)
}

func TestNoopStore(t *testing.T) {
	t.Parallel()

	s := NewNoopStore(logger.NewNop())

	_, err := s.Store(context.Background(), []byte("x"), "a.png")
	assert.ErrorIs(t, err, ErrStoreDisabled)
	assert.NoError(t, s.Delete(context.Background(), "orders/a.png"))
}
