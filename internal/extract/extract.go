package extract

import (
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"

	"skysolve/internal/solve"
)

var imagickOnce sync.Once

// Initialize starts the ImageMagick runtime. Safe to call more than once;
// the runtime stays up for the life of the process.
func Initialize() {
	imagickOnce.Do(imagick.Initialize)
}

// FromFile decodes an image file and detects star centroids in it.
func FromFile(path string, opts Options) ([]solve.Centroid, int, int, error) {
	Initialize()
	mw := imagick.NewMagickWand()
	defer mw.Destroy()
	if err := mw.ReadImage(path); err != nil {
		return nil, 0, 0, fmt.Errorf("read image %s: %w", path, err)
	}
	return detectWand(mw, opts)
}

// FromBytes decodes an in-memory image and detects star centroids in it.
func FromBytes(data []byte, opts Options) ([]solve.Centroid, int, int, error) {
	Initialize()
	mw := imagick.NewMagickWand()
	defer mw.Destroy()
	if err := mw.ReadImageBlob(data); err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}
	return detectWand(mw, opts)
}

func detectWand(mw *imagick.MagickWand, opts Options) ([]solve.Centroid, int, int, error) {
	if err := mw.SetImageColorspace(imagick.COLORSPACE_GRAY); err != nil {
		return nil, 0, 0, fmt.Errorf("convert to grayscale: %w", err)
	}
	width := int(mw.GetImageWidth())
	height := int(mw.GetImageHeight())

	raw, err := mw.ExportImagePixels(0, 0, uint(width), uint(height), "I", imagick.PIXEL_FLOAT)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("export pixels: %w", err)
	}
	pixels, ok := raw.([]float32)
	if !ok {
		return nil, 0, 0, fmt.Errorf("unexpected pixel buffer type %T", raw)
	}

	return DetectPixels(pixels, width, height, opts), width, height, nil
}
