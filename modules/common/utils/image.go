package utils

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // JPEG 디코더 등록
	"image/png"
	"log"
	"math"

	_ "github.com/kolesa-team/go-webp/decoder" // WebP 디코더 등록
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

const maxUploadWidth = 2048

// NormalizeUpload - 업로드된 원본 이미지 정규화
// 너비가 2048을 넘으면 절반으로 축소, PNG로 재인코딩
func NormalizeUpload(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode upload: %w", err)
	}

	bounds := img.Bounds()
	log.Printf("🔍 Decoded upload: %s %dx%d", format, bounds.Dx(), bounds.Dy())

	if bounds.Dx() > maxUploadWidth {
		halfW := bounds.Dx() / 2
		halfH := bounds.Dy() / 2
		img = ResizeImage(img, halfW, halfH)
		log.Printf("🔧 Upload downscaled to %dx%d", halfW, halfH)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode normalized upload: %w", err)
	}

	return buf.Bytes(), nil
}

// CombineSideBySide - 두 이미지를 나란히 병합
// 둘 다 더 큰 높이에 맞춰 비율 유지 스케일 후 흰 배경 캔버스에 배치, PNG 반환
func CombineSideBySide(left, right []byte) ([]byte, error) {
	leftImg, _, err := image.Decode(bytes.NewReader(left))
	if err != nil {
		return nil, fmt.Errorf("failed to decode left image: %w", err)
	}

	rightImg, _, err := image.Decode(bytes.NewReader(right))
	if err != nil {
		return nil, fmt.Errorf("failed to decode right image: %w", err)
	}

	maxHeight := leftImg.Bounds().Dy()
	if rightImg.Bounds().Dy() > maxHeight {
		maxHeight = rightImg.Bounds().Dy()
	}

	leftScaled := scaleToHeight(leftImg, maxHeight)
	rightScaled := scaleToHeight(rightImg, maxHeight)

	totalWidth := leftScaled.Bounds().Dx() + rightScaled.Bounds().Dx()

	// 흰 배경 캔버스
	combined := image.NewRGBA(image.Rect(0, 0, totalWidth, maxHeight))
	draw.Draw(combined, combined.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	draw.Draw(combined,
		image.Rect(0, 0, leftScaled.Bounds().Dx(), maxHeight),
		leftScaled, image.Point{}, draw.Over)
	draw.Draw(combined,
		image.Rect(leftScaled.Bounds().Dx(), 0, totalWidth, maxHeight),
		rightScaled, image.Point{}, draw.Over)

	log.Printf("✅ Combined images side by side: %dx%d", totalWidth, maxHeight)

	var buf bytes.Buffer
	if err := png.Encode(&buf, combined); err != nil {
		return nil, fmt.Errorf("failed to encode combined image: %w", err)
	}

	return buf.Bytes(), nil
}

// scaleToHeight - 비율 유지하며 목표 높이로 스케일
func scaleToHeight(src image.Image, targetHeight int) image.Image {
	bounds := src.Bounds()
	if bounds.Dy() == targetHeight {
		return src
	}

	scale := float64(targetHeight) / float64(bounds.Dy())
	targetWidth := int(math.Round(float64(bounds.Dx()) * scale))

	return ResizeImage(src, targetWidth, targetHeight)
}

// ResizeImage - 이미지를 지정된 크기로 resize (Nearest Neighbor)
func ResizeImage(src image.Image, targetWidth, targetHeight int) image.Image {
	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))

	for y := 0; y < targetHeight; y++ {
		for x := 0; x < targetWidth; x++ {
			srcX := srcBounds.Min.X + x*srcWidth/targetWidth
			srcY := srcBounds.Min.Y + y*srcHeight/targetHeight
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}

	return dst
}

// ConvertToWebP - 이미지 바이너리를 WebP로 변환 (원본 보관용)
func ConvertToWebP(data []byte, quality float32) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	webpData := webpBuffer.Bytes()
	log.Printf("✅ Converted to WebP: %d bytes → %d bytes", len(data), len(webpData))

	return webpData, nil
}
