package device

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"

	"github.com/banshee-data/inspec/internal/config"
)

// FrameDimensions maps a FrameSize setting to pixel dimensions. Unknown
// sizes fall back to QVGA.
func FrameDimensions(size string) (w, h int) {
	switch size {
	case "QQVGA":
		return 160, 120
	case "VGA":
		return 640, 480
	default:
		return 320, 240
	}
}

// EncodeJPEG compresses img at quality, clamped to 1..100.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	quality = min(max(quality, 1), 100)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// SyntheticCamera generates grayscale frames for dev mode: low-amplitude
// noise over a flat background, with a bright block that moves for Burst
// frames out of every Period.
type SyntheticCamera struct {
	Period int
	Burst  int
	Noise  int

	w, h  int
	rng   *rand.Rand
	frame int
}

// NewSyntheticCamera sizes the camera from s. seed fixes the noise.
func NewSyntheticCamera(s config.Settings, seed int64) *SyntheticCamera {
	w, h := FrameDimensions(s.FrameSize)
	return &SyntheticCamera{
		Period: 64,
		Burst:  8,
		Noise:  6,
		w:      w,
		h:      h,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Reconfigure applies the frame size setting.
func (c *SyntheticCamera) Reconfigure(s config.Settings) error {
	c.w, c.h = FrameDimensions(s.FrameSize)
	return nil
}

func (c *SyntheticCamera) Capture() (image.Image, error) {
	img := image.NewGray(image.Rect(0, 0, c.w, c.h))
	for i := range img.Pix {
		img.Pix[i] = uint8(96 + c.rng.Intn(c.Noise+1))
	}

	phase := 0
	if c.Period > 0 {
		phase = c.frame % c.Period
	}
	if phase < c.Burst {
		size := c.h / 4
		x0 := (phase * c.w / max(c.Burst, 1)) % max(c.w-size, 1)
		y0 := c.h/2 - size/2
		for y := y0; y < y0+size; y++ {
			for x := x0; x < x0+size; x++ {
				img.SetGray(x, y, color.Gray{Y: 240})
			}
		}
	}
	c.frame++
	return img, nil
}
