package blob

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	assert.Equal(t, "c1/p1.jpg", ImagePath("c1", "p1"))
	assert.Equal(t, "c1/thumbnails/p1_thumb.jpg", ThumbnailPath("c1", "p1"))
}

func TestMemoryStorePutURLDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("https://cdn.test")

	require.NoError(t, m.Put(ctx, "c1/p1.jpg", []byte("img"), "image/jpeg"))
	url, err := m.URL(ctx, "c1/p1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/c1/p1.jpg", url)

	obj, ok := m.Get("c1/p1.jpg")
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", obj.ContentType)

	require.NoError(t, m.Delete(ctx, "c1/p1.jpg"))
	assert.ErrorIs(t, m.Delete(ctx, "c1/p1.jpg"), ErrNotFound)
	_, err = m.URL(ctx, "c1/p1.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestThumbnailScalesToWidth(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(1200, 900)))

	thumb, err := Thumbnail(buf.Bytes(), 300)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 225, cfg.Height)
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(120, 80), nil))

	thumb, err := Thumbnail(buf.Bytes(), 300)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Width)
	assert.Equal(t, 80, cfg.Height)
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	_, err := Thumbnail([]byte("not an image"), 300)
	assert.Error(t, err)
}
