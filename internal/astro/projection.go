package astro

import "math"

// The camera frame follows the image coordinate convention used by the
// centroid extractor: x right, y down, z along the boresight. A star's
// camera-frame vector therefore projects onto the image with y increasing
// toward the bottom of the frame.

// plateScale returns tangent-plane units per pixel for a field of view
// spanning the image width.
func plateScale(widthPx, fovRad float64) float64 {
	return 2 * math.Tan(fovRad/2) / widthPx
}

// PixelToUnit converts a pixel position to a unit vector in the camera
// frame using a gnomonic (TAN) camera model. fovRad is the field of view
// across the image width, in radians.
func PixelToUnit(px, py, width, height, fovRad float64) Vector3 {
	s := plateScale(width, fovRad)
	u := (px - width/2) * s
	v := (py - height/2) * s
	return Vector3{u, v, 1}.Normalize()
}

// UnitToPixel projects a camera-frame unit vector onto the image plane.
// ok is false when the vector points behind the tangent plane.
func UnitToPixel(w Vector3, width, height, fovRad float64) (px, py float64, ok bool) {
	if w.Z <= 0 {
		return 0, 0, false
	}
	s := plateScale(width, fovRad)
	px = width/2 + (w.X/w.Z)/s
	py = height/2 + (w.Y/w.Z)/s
	return px, py, true
}

// AttitudeMatrix builds the rotation taking equatorial-frame vectors into
// the camera frame for a boresight at (raDeg, decDeg) with the given roll.
// Roll zero puts celestial north toward the top of the image; positive roll
// rotates the field counterclockwise about the boresight.
func AttitudeMatrix(raDeg, decDeg, rollDeg float64) Matrix3 {
	ra := raDeg * math.Pi / 180
	dec := decDeg * math.Pi / 180
	roll := rollDeg * math.Pi / 180

	b := UnitFromRaDec(raDeg, decDeg)
	// Local north and east tangent directions at the boresight.
	north := Vector3{-math.Sin(dec) * math.Cos(ra), -math.Sin(dec) * math.Sin(ra), math.Cos(dec)}
	east := Vector3{-math.Sin(ra), math.Cos(ra), 0}

	up := north.Scale(math.Cos(roll)).Add(east.Scale(math.Sin(roll)))
	ycam := up.Scale(-1) // pixel y grows downward
	xcam := ycam.Cross(b)

	return Matrix3{
		{xcam.X, xcam.Y, xcam.Z},
		{ycam.X, ycam.Y, ycam.Z},
		{b.X, b.Y, b.Z},
	}
}

// MatrixToAttitude recovers boresight RA/Dec and roll in degrees from a
// camera attitude matrix. Inverse of AttitudeMatrix.
func MatrixToAttitude(m Matrix3) (raDeg, decDeg, rollDeg float64) {
	b := m.Row(2)
	raDeg, decDeg = RaDecFromUnit(b)

	ra := raDeg * math.Pi / 180
	dec := decDeg * math.Pi / 180
	north := Vector3{-math.Sin(dec) * math.Cos(ra), -math.Sin(dec) * math.Sin(ra), math.Cos(dec)}
	east := Vector3{-math.Sin(ra), math.Cos(ra), 0}

	up := m.Row(1).Scale(-1)
	roll := math.Atan2(up.Dot(east), up.Dot(north)) * 180 / math.Pi
	if roll < 0 {
		roll += 360
	}
	// A tiny negative angle wraps to just under (or exactly) 360; fold it
	// back so roll stays in [0, 360).
	if 360-roll < 1e-6 {
		roll = 0
	}
	return raDeg, decDeg, roll
}

// ProjectStar maps an equatorial-frame unit vector through an attitude to
// pixel coordinates. ok is false when the star is outside the forward
// hemisphere of the camera.
func ProjectStar(att Matrix3, star Vector3, width, height, fovRad float64) (px, py float64, ok bool) {
	return UnitToPixel(att.MulVec(star), width, height, fovRad)
}
