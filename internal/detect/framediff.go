package detect

import (
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/stat"
)

// MetricSource yields the per-cycle variance pair for the current frame
// against the previous one.
type MetricSource interface {
	Variance(cur, prev image.Image, roi image.Rectangle) (variance, global float64)
}

// PresenceDetector reports whether the subject is in view and where.
type PresenceDetector interface {
	Detect(frame image.Image) (roi image.Rectangle, ok bool)
}

// FrameDiff measures change between two frames as the mean squared luma
// difference. Differences at or below PixelThreshold are sensor noise and
// count as zero.
type FrameDiff struct {
	PixelThreshold int
}

// Variance compares cur with prev. A nil prev, or one whose bounds differ,
// measures zero. An roi outside the frame falls back to the whole frame.
func (f FrameDiff) Variance(cur, prev image.Image, roi image.Rectangle) (float64, float64) {
	if cur == nil || prev == nil || !cur.Bounds().Eq(prev.Bounds()) {
		return 0, 0
	}

	b := cur.Bounds()
	roi = roi.Intersect(b)
	if roi.Empty() {
		roi = b
	}

	global := make([]float64, 0, b.Dx()*b.Dy())
	local := make([]float64, 0, roi.Dx()*roi.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			d := math.Abs(float64(luma(cur, x, y)) - float64(luma(prev, x, y)))
			if d <= float64(f.PixelThreshold) {
				d = 0
			}
			sq := d * d
			global = append(global, sq)
			if (image.Point{X: x, Y: y}).In(roi) {
				local = append(local, sq)
			}
		}
	}
	return stat.Mean(local, nil), stat.Mean(global, nil)
}

func luma(img image.Image, x, y int) uint8 {
	if g, ok := img.(*image.Gray); ok {
		return g.GrayAt(x, y).Y
	}
	return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
}
