package imfcs

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"golang.org/x/image/tiff"
)

// ReadAverageIntensity decodes an average-intensity TIFF into a plane of
// raw counts. 8 and 16 bit grayscale images keep their sample values; other
// encodings are reduced to 16 bit luminance.
func ReadAverageIntensity(path string) (*Plane, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tiff %s: %w", path, err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode tiff %s: %w", path, err)
	}

	bounds := img.Bounds()
	p := NewPlane(bounds.Dy(), bounds.Dx())

	switch src := img.(type) {
	case *image.Gray16:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				p.Set(y-bounds.Min.Y, x-bounds.Min.X, float64(src.Gray16At(x, y).Y))
			}
		}
	case *image.Gray:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				p.Set(y-bounds.Min.Y, x-bounds.Min.X, float64(src.GrayAt(x, y).Y))
			}
		}
	default:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
				p.Set(y-bounds.Min.Y, x-bounds.Min.X, float64(g.Y))
			}
		}
	}

	return p, nil
}
