// Package solve matches detected star centroids against a pattern index
// to recover the camera's celestial attitude.
package solve

// Status is the four-way outcome of a solve attempt.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusNoMatch        Status = "NO_MATCH"
	StatusNotEnoughStars Status = "NOT_ENOUGH_STARS"
	StatusError          Status = "ERROR"
)

// Centroid is one detected star: pixel position, summed brightness and
// pixel area of its connected region.
type Centroid struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Brightness float64 `json:"brightness"`
	Area       int     `json:"area"`
}

// MatchedStar pairs a catalog star with the image centroid it was
// identified as.
type MatchedStar struct {
	HipID  int     `json:"hipId"`
	PixelX float64 `json:"pixelX"`
	PixelY float64 `json:"pixelY"`
}

// Result is the solve outcome. Attitude fields are only meaningful when
// Status is SUCCESS: centerRa/centerDec in degrees, fov across the image
// width in degrees, roll in degrees counterclockwise from north-up.
type Result struct {
	Status             Status        `json:"status"`
	CenterRa           float64       `json:"centerRa"`
	CenterDec          float64       `json:"centerDec"`
	Fov                float64       `json:"fov"`
	Roll               float64       `json:"roll"`
	MatchedStars       []MatchedStar `json:"matchedStars"`
	TotalStarsDetected int           `json:"totalStarsDetected"`
	StarsMatched       int           `json:"starsMatched"`
	Message            string        `json:"message,omitempty"`
}

func errorResult(detected int, msg string) Result {
	return Result{Status: StatusError, TotalStarsDetected: detected, Message: msg}
}
