package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, width, height int, fill color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()

	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestNormalizeUploadKeepsSmallImages(t *testing.T) {
	data := encodePNG(t, 800, 600, color.RGBA{R: 200, A: 255})

	out, err := NormalizeUpload(data)
	require.NoError(t, err)

	w, h := decodeSize(t, out)
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
}

func TestNormalizeUploadHalvesWideImages(t *testing.T) {
	data := encodePNG(t, 3000, 100, color.RGBA{B: 200, A: 255})

	out, err := NormalizeUpload(data)
	require.NoError(t, err)

	w, h := decodeSize(t, out)
	assert.Equal(t, 1500, w)
	assert.Equal(t, 50, h)
}

func TestNormalizeUploadRejectsGarbage(t *testing.T) {
	_, err := NormalizeUpload([]byte("not an image"))
	assert.Error(t, err)
}

func TestCombineSideBySide(t *testing.T) {
	left := encodePNG(t, 100, 200, color.RGBA{R: 255, A: 255})
	right := encodePNG(t, 150, 200, color.RGBA{G: 255, A: 255})

	out, err := CombineSideBySide(left, right)
	require.NoError(t, err)

	w, h := decodeSize(t, out)
	assert.Equal(t, 250, w)
	assert.Equal(t, 200, h)
}

func TestCombineSideBySideScalesToTallerImage(t *testing.T) {
	left := encodePNG(t, 100, 100, color.RGBA{R: 255, A: 255})
	right := encodePNG(t, 100, 200, color.RGBA{G: 255, A: 255})

	out, err := CombineSideBySide(left, right)
	require.NoError(t, err)

	w, h := decodeSize(t, out)
	assert.Equal(t, 200, h)
	// 왼쪽 이미지는 비율 유지로 200x200이 된다
	assert.Equal(t, 300, w)
}

func TestCombineSideBySideRejectsBrokenInput(t *testing.T) {
	left := encodePNG(t, 10, 10, color.White)

	_, err := CombineSideBySide(left, []byte("broken"))
	assert.Error(t, err)

	_, err = CombineSideBySide([]byte("broken"), left)
	assert.Error(t, err)
}
