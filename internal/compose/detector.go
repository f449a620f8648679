package compose

import "strings"

// ActionDetector extracts an app action from a completion and returns the
// action ID plus the reply text with the action's wire form removed.
//
// Today's detection is a fixed marker-substring scan. The interface exists so
// a structured tool-call contract can replace the scan without touching the
// composer.
type ActionDetector interface {
	Detect(text string) (action, clean string)
}

// defaultMarkers maps marker substrings to action IDs.
var defaultMarkers = map[string]string{
	"[action:book_session]": "book_session",
}

// MarkerDetector detects actions as fixed marker substrings in the reply.
type MarkerDetector struct {
	markers map[string]string
}

var _ ActionDetector = (*MarkerDetector)(nil)

// NewMarkerDetector creates a detector for the given marker → action ID table.
// A nil table uses the built-in markers.
func NewMarkerDetector(markers map[string]string) *MarkerDetector {
	if markers == nil {
		markers = defaultMarkers
	}
	return &MarkerDetector{markers: markers}
}

// Detect scans text for the first known marker. It returns the marker's
// action ID and the text with every occurrence of that marker stripped and
// whitespace tidied. When no marker is present, action is empty and the text
// is returned unchanged.
func (d *MarkerDetector) Detect(text string) (string, string) {
	for marker, action := range d.markers {
		if !strings.Contains(text, marker) {
			continue
		}
		clean := strings.ReplaceAll(text, marker, "")
		clean = strings.ReplaceAll(clean, "  ", " ")
		return action, strings.TrimSpace(clean)
	}
	return "", text
}
