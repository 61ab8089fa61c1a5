package normalize

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	"github.com/inkdex/search-go/models"
	_ "golang.org/x/image/webp"
)

const (
	MaxImageBytes = 10 << 20
	// decoded size cap, checked from the header before any full decode
	MaxImagePixels = 40_000_000

	// mean HSV saturation above which an image counts as colour work
	colorSaturationThreshold = 0.15
	colorSampleGrid          = 64
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ValidateImage checks size, sniffed content type and that the header decodes
// to at most MaxImagePixels.
// It returns the sniffed MIME type.
func ValidateImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", models.ErrPayloadInvalid)
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("%w: image exceeds %d bytes", models.ErrPayloadInvalid, MaxImageBytes)
	}
	mime := http.DetectContentType(data)
	if !allowedImageTypes[mime] {
		return "", fmt.Errorf("%w: unsupported type %s, allowed: jpeg, png, webp", models.ErrPayloadInvalid, mime)
	}
	if _, err := decodeConfig(data); err != nil {
		return "", err
	}
	return mime, nil
}

func decodeConfig(data []byte) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return cfg, fmt.Errorf("%w: corrupt image: %v", models.ErrPayloadInvalid, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return cfg, fmt.Errorf("%w: image has no pixels", models.ErrPayloadInvalid)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return cfg, fmt.Errorf("%w: image is %dx%d, over %d pixels", models.ErrPayloadInvalid, cfg.Width, cfg.Height, MaxImagePixels)
	}
	return cfg, nil
}

// IsColor reports whether the image is colour work rather than black and grey,
// from its mean saturation over a sampled grid. It returns nil when the image
// cannot be decoded.
func IsColor(data []byte) *bool {
	sat, ok := meanSaturation(data)
	if !ok {
		return nil
	}
	color := sat > colorSaturationThreshold
	return &color
}

func meanSaturation(data []byte) (float64, bool) {
	if _, err := decodeConfig(data); err != nil {
		return 0, false
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, false
	}
	b := img.Bounds()
	if b.Empty() {
		return 0, false
	}
	stepX := max(1, b.Dx()/colorSampleGrid)
	stepY := max(1, b.Dy()/colorSampleGrid)

	var sum float64
	var n int
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			hi := max(r, g, bl)
			lo := min(r, g, bl)
			if hi > 0 {
				sum += float64(hi-lo) / float64(hi)
			}
			n++
		}
	}
	return sum / float64(n), true
}

// colorProfile classifies a set of images as colour (true), black and grey
// (false) or mixed (nil) by the share of colour images.
func colorProfile(colorCount, total int, colorAt, greyAt float64) *bool {
	if total == 0 {
		return nil
	}
	share := float64(colorCount) / float64(total)
	var v bool
	switch {
	case share >= colorAt:
		v = true
	case share <= greyAt:
		v = false
	default:
		return nil
	}
	return &v
}
