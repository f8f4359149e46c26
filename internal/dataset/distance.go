package dataset

import (
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

const (
	hourMarker   = "H"
	rangeMarker  = "～"
	minuteMarker = "分"
)

// NormalizeDistance rewrites a station-distance cell as minutes.
//
//	"1H30分" -> "90"    "2H" -> "120"
//	"5～10分" -> "7.5"  "5分" -> "5"
//
// Numeric text and any unrecognized or unparseable text come back unchanged;
// DistanceMinutes turns such leftovers into a null.
func NormalizeDistance(raw string) string {
	switch {
	case strings.Contains(raw, hourMarker):
		parts := strings.Split(strings.ReplaceAll(raw, minuteMarker, ""), hourMarker)
		hours, ok := parseInt(parts[0])
		if !ok {
			return raw
		}
		minutes := 0
		if len(parts) > 1 && isDigits(parts[1]) {
			minutes, _ = parseInt(parts[1])
		}
		return formatMinutes(float64(hours*60 + minutes))

	case strings.Contains(raw, rangeMarker):
		parts := strings.Split(strings.ReplaceAll(raw, minuteMarker, ""), rangeMarker)
		if len(parts) < 2 {
			return raw
		}
		lo, okLo := parseInt(parts[0])
		hi, okHi := parseInt(parts[1])
		if !okLo || !okHi {
			return raw
		}
		return formatMinutes(float64(lo+hi) / 2)

	case strings.Contains(raw, minuteMarker):
		n, ok := parseInt(strings.ReplaceAll(raw, minuteMarker, ""))
		if !ok {
			return raw
		}
		return formatMinutes(float64(n))
	}
	return raw
}

// DistanceMinutes normalizes raw and coerces the result to a number.
func DistanceMinutes(raw string) (float64, bool) {
	return parseFloat(NormalizeDistance(raw))
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(width.Narrow.String(strings.TrimSpace(s)))
	if err != nil {
		return 0, false
	}
	return n, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range width.Narrow.String(s) {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func formatMinutes(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64)
}
