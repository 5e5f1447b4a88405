// Package catalog loads and filters the Hipparcos star catalog used to
// build pattern databases.
package catalog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"skysolve/internal/astro"
)

// Star is one catalog entry. Direction is the unit vector derived from the
// catalog RA/Dec; entries are immutable once loaded.
type Star struct {
	HIP       int
	RaDeg     float64
	DecDeg    float64
	Magnitude float64
	Direction astro.Vector3
}

// hip_main.dat field positions (pipe-delimited).
const (
	fieldHIP  = 1
	fieldVmag = 5
	fieldRa   = 8
	fieldDec  = 9
	minFields = 10
)

// LoadHipparcos reads the Hipparcos main catalog (hip_main.dat). Entries
// with missing astrometry or photometry are skipped; the result is sorted
// brightest first (ties broken by HIP number) so every consumer sees the
// same deterministic order.
func LoadHipparcos(path string) ([]Star, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return ParseHipparcos(f)
}

// ParseHipparcos parses hip_main.dat records from r.
func ParseHipparcos(r io.Reader) ([]Star, error) {
	var stars []Star
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Split(sc.Text(), "|")
		if len(fields) < minFields {
			continue
		}
		hip, err := strconv.Atoi(strings.TrimSpace(fields[fieldHIP]))
		if err != nil {
			continue
		}
		mag, err := strconv.ParseFloat(strings.TrimSpace(fields[fieldVmag]), 64)
		if err != nil {
			continue // no photometry
		}
		ra, err := strconv.ParseFloat(strings.TrimSpace(fields[fieldRa]), 64)
		if err != nil {
			continue // no astrometric solution
		}
		dec, err := strconv.ParseFloat(strings.TrimSpace(fields[fieldDec]), 64)
		if err != nil {
			continue
		}
		stars = append(stars, Star{
			HIP:       hip,
			RaDeg:     ra,
			DecDeg:    dec,
			Magnitude: mag,
			Direction: astro.UnitFromRaDec(ra, dec),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read catalog line %d: %w", line, err)
	}
	SortBrightestFirst(stars)
	return stars, nil
}

// FilterMagnitude keeps stars at or brighter than maxMagnitude.
func FilterMagnitude(stars []Star, maxMagnitude float64) []Star {
	out := make([]Star, 0, len(stars))
	for _, s := range stars {
		if s.Magnitude <= maxMagnitude {
			out = append(out, s)
		}
	}
	return out
}

// SortBrightestFirst orders stars by ascending magnitude, then HIP number.
func SortBrightestFirst(stars []Star) {
	sort.Slice(stars, func(i, j int) bool {
		if stars[i].Magnitude != stars[j].Magnitude {
			return stars[i].Magnitude < stars[j].Magnitude
		}
		return stars[i].HIP < stars[j].HIP
	})
}
