package dataset

import (
	"image"
	"math"
	"math/rand"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// AugmentConfig bounds the random transforms applied to training batches.
type AugmentConfig struct {
	MaxRotationDeg float64
	MaxShiftFrac   float64
	MaxZoomFrac    float64
	HorizontalFlip bool
}

// DefaultAugmentConfig matches the training pipeline's augmentation ranges:
// rotation up to 15 degrees, shifts up to 15% of the image, zoom up to 20%,
// and random horizontal flips.
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		MaxRotationDeg: 15,
		MaxShiftFrac:   0.15,
		MaxZoomFrac:    0.2,
		HorizontalFlip: true,
	}
}

// Augmenter applies seeded random affine transforms to images. It is not safe
// for concurrent use; the trainer owns one per run.
type Augmenter struct {
	cfg AugmentConfig
	rng *rand.Rand
}

// NewAugmenter returns an Augmenter drawing its randomness from seed.
func NewAugmenter(cfg AugmentConfig, seed int64) *Augmenter {
	return &Augmenter{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Apply returns a transformed copy of img with the same dimensions. The input
// image is never modified.
func (a *Augmenter) Apply(img *image.RGBA) *image.RGBA {
	bounds := img.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	cx, cy := w/2, h/2

	theta := a.uniform(a.cfg.MaxRotationDeg) * math.Pi / 180
	zoom := 1 + a.uniform(a.cfg.MaxZoomFrac)
	shiftX := a.uniform(a.cfg.MaxShiftFrac) * w
	shiftY := a.uniform(a.cfg.MaxShiftFrac) * h
	sx := zoom
	if a.cfg.HorizontalFlip && a.rng.Intn(2) == 1 {
		sx = -sx
	}

	// src→dst: center at origin, scale, rotate, then move back plus shift.
	m := mulAff3(
		translate(cx+shiftX, cy+shiftY),
		mulAff3(rotate(theta), mulAff3(scale(sx, zoom), translate(-cx, -cy))),
	)

	dst := image.NewRGBA(bounds)
	draw.ApproxBiLinear.Transform(dst, m, img, bounds, draw.Src, nil)
	return dst
}

func (a *Augmenter) uniform(max float64) float64 {
	if max <= 0 {
		return 0
	}
	return (a.rng.Float64()*2 - 1) * max
}

func translate(tx, ty float64) f64.Aff3 {
	return f64.Aff3{1, 0, tx, 0, 1, ty}
}

func rotate(theta float64) f64.Aff3 {
	sin, cos := math.Sincos(theta)
	return f64.Aff3{cos, -sin, 0, sin, cos, 0}
}

func scale(sx, sy float64) f64.Aff3 {
	return f64.Aff3{sx, 0, 0, 0, sy, 0}
}

func mulAff3(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}
