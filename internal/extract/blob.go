// Package extract detects star centroids in night-sky images.
package extract

import (
	"math"
	"sort"

	"skysolve/internal/solve"
)

// Options tunes star detection. The zero value falls back to the defaults
// used by the handheld capture app.
type Options struct {
	// Sigma sets the detection threshold at mean + Sigma*stddev of the
	// frame.
	Sigma float64
	// MinArea and MaxArea bound accepted blob sizes in pixels; hot pixels
	// fall below MinArea, clouds and lens flare above MaxArea.
	MinArea int
	MaxArea int
	// MaxStars truncates the brightest-first result; zero keeps all.
	MaxStars int
}

func DefaultOptions() Options {
	return Options{Sigma: 2.5, MinArea: 4, MaxArea: 500}
}

func (o *Options) normalize() {
	if o.Sigma <= 0 {
		o.Sigma = 2.5
	}
	if o.MinArea <= 0 {
		o.MinArea = 4
	}
	if o.MaxArea <= 0 {
		o.MaxArea = 500
	}
}

// DetectPixels finds star centroids in a grayscale frame, intensities in
// [0, 1] row-major. The threshold adapts to the frame statistics; blobs are
// traced by flood fill and reduced to background-subtracted, brightness-
// weighted centroids, returned brightest first.
func DetectPixels(pixels []float32, width, height int, opts Options) []solve.Centroid {
	opts.normalize()
	if width <= 0 || height <= 0 || len(pixels) < width*height {
		return nil
	}

	var sum float64
	for _, p := range pixels {
		sum += float64(p)
	}
	mean := sum / float64(len(pixels))
	var variance float64
	for _, p := range pixels {
		d := float64(p) - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(pixels)))

	threshold := mean + opts.Sigma*stddev
	if threshold > 1 {
		threshold = 1
	}

	visited := make([]bool, width*height)
	var stars []solve.Centroid
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if visited[idx] || float64(pixels[idx]) < threshold {
				continue
			}
			blob := floodFill(pixels, visited, x, y, width, height, threshold)
			if len(blob) < opts.MinArea || len(blob) > opts.MaxArea {
				continue
			}

			var sumX, sumY, sumW float64
			for _, px := range blob {
				w := float64(pixels[px.y*width+px.x]) - mean
				if w <= 0 {
					continue
				}
				sumX += float64(px.x) * w
				sumY += float64(px.y) * w
				sumW += w
			}
			if sumW <= 0 {
				continue
			}
			stars = append(stars, solve.Centroid{
				X:          sumX/sumW + 0.5,
				Y:          sumY/sumW + 0.5,
				Brightness: sumW,
				Area:       len(blob),
			})
		}
	}

	sort.Slice(stars, func(i, j int) bool {
		if stars[i].Brightness != stars[j].Brightness {
			return stars[i].Brightness > stars[j].Brightness
		}
		if stars[i].X != stars[j].X {
			return stars[i].X < stars[j].X
		}
		return stars[i].Y < stars[j].Y
	})
	if opts.MaxStars > 0 && len(stars) > opts.MaxStars {
		stars = stars[:opts.MaxStars]
	}
	return stars
}

type pixel struct{ x, y int }

func floodFill(pixels []float32, visited []bool, startX, startY, width, height int, threshold float64) []pixel {
	var blob []pixel
	stack := []pixel{{startX, startY}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.x < 0 || p.x >= width || p.y < 0 || p.y >= height {
			continue
		}
		idx := p.y*width + p.x
		if visited[idx] || float64(pixels[idx]) < threshold {
			continue
		}
		visited[idx] = true
		blob = append(blob, p)
		stack = append(stack,
			pixel{p.x + 1, p.y},
			pixel{p.x - 1, p.y},
			pixel{p.x, p.y + 1},
			pixel{p.x, p.y - 1},
		)
	}
	return blob
}
