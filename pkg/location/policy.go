package location

import "time"

const (
	// StalenessThreshold is the age gap past which the newer of two fixes
	// wins regardless of accuracy.
	StalenessThreshold = 2 * time.Minute

	// SignificantAccuracyLoss is how many meters of accuracy a newer fix
	// from the same provider may lose and still be accepted.
	SignificantAccuracyLoss float32 = 200
)

// IsBetter reports whether candidate should replace previous as the current
// best fix. It is pure and total over nil inputs: any candidate beats no
// previous fix, and a nil candidate never wins.
func IsBetter(candidate, previous *Sample) bool {
	if previous == nil {
		return true
	}
	if candidate == nil {
		return false
	}

	timeDelta := candidate.Timestamp - previous.Timestamp
	staleness := StalenessThreshold.Milliseconds()
	switch {
	case timeDelta > staleness:
		return true
	case timeDelta < -staleness:
		return false
	}

	isNewer := timeDelta > 0
	accuracyDelta := candidate.Accuracy - previous.Accuracy
	isLessAccurate := accuracyDelta > 0
	isMoreAccurate := accuracyDelta < 0
	isSignificantlyLessAccurate := accuracyDelta > SignificantAccuracyLoss
	sameProvider := candidate.Provider == previous.Provider

	switch {
	case isMoreAccurate:
		return true
	case isNewer && !isLessAccurate:
		return true
	case isNewer && !isSignificantlyLessAccurate && sameProvider:
		return true
	default:
		return false
	}
}
