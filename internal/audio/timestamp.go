package audio

import "fmt"

// FormatTimestamp renders a millisecond offset as HH:MM:SS.mmm, the fixed
// three-field format required by the transcript markdown grammar (spec
// section 6).
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalMs := ms % 1000
	totalSec := ms / 1000
	s := totalSec % 60
	totalMin := totalSec / 60
	m := totalMin % 60
	h := totalMin / 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, totalMs)
}
