package pattern

import (
	"math"

	"skysolve/internal/astro"
)

// skyGrid buckets unit vectors into declination bands split into RA
// sectors, shrinking the sector count toward the poles so cells stay
// roughly equal-area. Radius searches visit only the cells overlapping the
// query cap; callers do the exact separation check on the candidates.
type skyGrid struct {
	bands   int
	sectors []int     // sectors per band
	cells   [][]int32 // flattened band-major cell lists
	offsets []int     // cell offset of each band
}

func newSkyGrid(bands int) *skyGrid {
	if bands < 1 {
		bands = 1
	}
	g := &skyGrid{bands: bands}
	g.sectors = make([]int, bands)
	g.offsets = make([]int, bands)
	total := 0
	for b := 0; b < bands; b++ {
		mid := (float64(b)+0.5)/float64(bands)*math.Pi - math.Pi/2
		n := int(math.Ceil(2 * float64(bands) * math.Cos(mid)))
		if n < 1 {
			n = 1
		}
		g.sectors[b] = n
		g.offsets[b] = total
		total += n
	}
	g.cells = make([][]int32, total)
	return g
}

func (g *skyGrid) band(dec float64) int {
	b := int((dec + math.Pi/2) / math.Pi * float64(g.bands))
	if b < 0 {
		return 0
	}
	if b >= g.bands {
		return g.bands - 1
	}
	return b
}

func (g *skyGrid) cell(dir astro.Vector3) int {
	ra := math.Atan2(dir.Y, dir.X)
	if ra < 0 {
		ra += 2 * math.Pi
	}
	dec := math.Asin(clampUnit(dir.Z))
	b := g.band(dec)
	s := int(ra / (2 * math.Pi) * float64(g.sectors[b]))
	if s >= g.sectors[b] {
		s = g.sectors[b] - 1
	}
	return g.offsets[b] + s
}

func (g *skyGrid) insert(dir astro.Vector3, id int32) {
	c := g.cell(dir)
	g.cells[c] = append(g.cells[c], id)
}

// search returns candidate ids whose cells overlap the cap of the given
// angular radius around dir. Candidates outside the cap are included when
// their cell straddles the boundary.
func (g *skyGrid) search(dir astro.Vector3, radius float64) []int32 {
	ra := math.Atan2(dir.Y, dir.X)
	if ra < 0 {
		ra += 2 * math.Pi
	}
	dec := math.Asin(clampUnit(dir.Z))

	loBand := g.band(dec - radius)
	hiBand := g.band(dec + radius)

	var out []int32
	for b := loBand; b <= hiBand; b++ {
		n := g.sectors[b]
		// Widest band extent of the cap; near the poles the cap wraps all
		// sectors.
		bandLo := math.Max(-math.Pi/2, (float64(b)/float64(g.bands))*math.Pi-math.Pi/2)
		bandHi := math.Min(math.Pi/2, (float64(b+1)/float64(g.bands))*math.Pi-math.Pi/2)
		maxCos := math.Min(math.Cos(bandLo), math.Cos(bandHi))
		if math.Abs(dec)+radius >= math.Pi/2 || maxCos*2*math.Pi <= 2*radius || n == 1 {
			for s := 0; s < n; s++ {
				out = append(out, g.cells[g.offsets[b]+s]...)
			}
			continue
		}
		halfWidth := radius / maxCos
		loS := int(math.Floor((ra - halfWidth) / (2 * math.Pi) * float64(n)))
		hiS := int(math.Floor((ra + halfWidth) / (2 * math.Pi) * float64(n)))
		if hiS-loS+1 >= n {
			for s := 0; s < n; s++ {
				out = append(out, g.cells[g.offsets[b]+s]...)
			}
			continue
		}
		for s := loS; s <= hiS; s++ {
			w := ((s % n) + n) % n
			out = append(out, g.cells[g.offsets[b]+w]...)
		}
	}
	return out
}

func clampUnit(x float64) float64 {
	if x < -1 {
		return -1
	}
	if x > 1 {
		return 1
	}
	return x
}
