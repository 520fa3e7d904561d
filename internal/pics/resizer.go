package pics

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// TargetSize computes the downsampled size for a w x h raster. Both axes are
// scaled by target/shortEdge and rounded the same way, so the short edge lands
// exactly on target. ok is false when no resize is needed.
func TargetSize(w, h, trigger, target int) (int, int, bool) {
	short := min(w, h)
	if short <= trigger || short <= 0 {
		return w, h, false
	}
	ratio := float64(target) / float64(short)
	nw := int(math.Round(float64(w) * ratio))
	nh := int(math.Round(float64(h) * ratio))
	return max(1, nw), max(1, nh), true
}

// Resize downsamples img with a Lanczos filter when its short edge exceeds
// trigger. The raster must already be orientation-normalised.
func Resize(img image.Image, trigger, target int) (image.Image, bool) {
	b := img.Bounds()
	nw, nh, ok := TargetSize(b.Dx(), b.Dy(), trigger, target)
	if !ok {
		return img, false
	}
	return imaging.Resize(img, nw, nh, imaging.Lanczos), true
}
