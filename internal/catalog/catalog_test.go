package catalog

import (
	"strings"
	"testing"
)

// Abbreviated hip_main.dat records: pipe-delimited with the HIP number in
// field 1, Vmag in field 5 and RA/Dec degrees in fields 8 and 9.
const sampleCatalog = `H|      1| |00 00 00.22|+01 05 20.4| 9.10| |H|  0.00091185|  1.08901332|x
H|  32349| |06 45 08.87|-16 42 58.0|-1.44| |H|101.28715539|-16.71611582|x
H|  71683| |14 39 36.49|-60 50 02.3|-0.01| |H|219.90205330|-60.83399269|x
H|  badid| |00 00 00.00|+00 00 00.0| 5.00| |H|  10.00000000|  10.00000000|x
H|  99999| |00 00 00.00|+00 00 00.0|     | |H|  20.00000000|  20.00000000|x
short|line
`

func TestParseHipparcos(t *testing.T) {
	stars, err := ParseHipparcos(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("ParseHipparcos: %v", err)
	}
	// Two malformed records and the short line are skipped.
	if len(stars) != 3 {
		t.Fatalf("expected 3 stars, got %d", len(stars))
	}

	// Sorted brightest first: Sirius, then Alpha Centauri, then HIP 1.
	if stars[0].HIP != 32349 || stars[1].HIP != 71683 || stars[2].HIP != 1 {
		t.Fatalf("unexpected order: %d, %d, %d", stars[0].HIP, stars[1].HIP, stars[2].HIP)
	}

	sirius := stars[0]
	if sirius.Magnitude != -1.44 {
		t.Fatalf("Sirius magnitude: %v", sirius.Magnitude)
	}
	if sirius.RaDeg != 101.28715539 || sirius.DecDeg != -16.71611582 {
		t.Fatalf("Sirius position: %v, %v", sirius.RaDeg, sirius.DecDeg)
	}
	if n := sirius.Direction.Norm(); n < 0.999999 || n > 1.000001 {
		t.Fatalf("direction not unit length: %v", n)
	}
}

func TestFilterMagnitude(t *testing.T) {
	stars, err := ParseHipparcos(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("ParseHipparcos: %v", err)
	}
	bright := FilterMagnitude(stars, 0)
	if len(bright) != 2 {
		t.Fatalf("expected 2 stars at magnitude <= 0, got %d", len(bright))
	}
	for _, s := range bright {
		if s.Magnitude > 0 {
			t.Fatalf("star HIP %d with magnitude %v passed the filter", s.HIP, s.Magnitude)
		}
	}
}

func TestSortBrightestFirstTieBreak(t *testing.T) {
	stars := []Star{
		{HIP: 20, Magnitude: 3.0},
		{HIP: 10, Magnitude: 3.0},
		{HIP: 5, Magnitude: 4.0},
	}
	SortBrightestFirst(stars)
	if stars[0].HIP != 10 || stars[1].HIP != 20 || stars[2].HIP != 5 {
		t.Fatalf("unexpected order: %d, %d, %d", stars[0].HIP, stars[1].HIP, stars[2].HIP)
	}
}
