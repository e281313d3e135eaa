package pipeline

// Progress checkpoints. Media generation interpolates between
// ProgressStructureDone and ProgressMediaCeiling; only COMPLETED reaches 100.
const (
	ProgressStarted       = 5
	ProgressStructureDone = 25
	ProgressMediaCeiling  = 95
	ProgressComplete      = 100

	progressMediaSpan = 70
)

// BatchProgress is the percentage after batch k (1-based) of n has settled.
func BatchProgress(k, n int) int {
	if n <= 0 {
		return ProgressStructureDone
	}
	if k > n {
		k = n
	}
	p := ProgressStructureDone + progressMediaSpan*k/n
	if p > ProgressMediaCeiling {
		p = ProgressMediaCeiling
	}
	return p
}

// BatchCount is ceil(units / size).
func BatchCount(units, size int) int {
	if size <= 0 || units <= 0 {
		return 0
	}
	return (units + size - 1) / size
}

// advance never lets progress move backwards.
func advance(current, next int) int {
	if next < current {
		return current
	}
	return next
}
