package dataset

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Sample is one labeled example: a decoded image resized to the target size,
// the continuous speed it was recorded at, and the discrete class index.
type Sample struct {
	Path  string
	Img   *image.RGBA
	Speed float64
	Class int
}

// Tensor converts the sample's image to a CHW float32 tensor with every value
// normalized to [0,1]. Normalization happens here and nowhere else.
func (s *Sample) Tensor() []float32 {
	size := s.Img.Bounds().Dx()
	out := make([]float32, 3*size*size)
	FillCHW(s.Img, out)
	return out
}

// FillCHW writes img into dst as channel-major normalized float32 pixels.
// dst must hold 3*w*h values.
func FillCHW(img *image.RGBA, dst []float32) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			idx := y*w + x
			px := row[x*4:]
			dst[idx] = float32(px[0]) / 255.0
			dst[plane+idx] = float32(px[1]) / 255.0
			dst[2*plane+idx] = float32(px[2]) / 255.0
		}
	}
}

// DecodeImage reads the file at path and returns it as an RGBA image resized
// to size×size. Any file the stdlib decoders reject is reported as an error so
// the caller can skip it.
func DecodeImage(path string, size int) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return resizeRGBA(src, size), nil
}

func resizeRGBA(src image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
