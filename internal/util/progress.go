package util

import "fmt"

// ProgressPercent returns completed/total as an integer percentage clamped to
// [0, 100]. A non-positive total reports 0.
func ProgressPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(int64(completed) * 100 / int64(total))
	return min(max(p, 0), 100)
}

// ProgressStep renders "completed/total", the form used in stage labels.
func ProgressStep(completed, total int) string {
	return fmt.Sprintf("%d/%d", completed, total)
}
