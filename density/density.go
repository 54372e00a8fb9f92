// Package density turns per-frame person counts into crowd-density metrics
// relative to a zone's configured capacity.
package density

// Percentage computes person count relative to capacity as a percentage.
// Values above 100 mean over-capacity, which is a valid, alertable state and
// is deliberately not clamped. Capacity is validated to be positive at zone
// configuration time.
func Percentage(personCount, maxCapacity int) float64 {
	if personCount <= 0 {
		return 0
	}
	return float64(personCount) / float64(maxCapacity) * 100
}

// Sample is one non-skipped frame's contribution to a job summary. Density
// is nil when the upload has no associated zone.
type Sample struct {
	PersonCount int
	Density     *float64
}

// Summary is the job-level roll-up over all non-skipped frames.
type Summary struct {
	Frames         int
	AvgPersonCount float64
	// AvgDensity and PeakDensity are nil when no sample carried a density
	// (absent zone).
	AvgDensity  *float64
	PeakDensity *float64
}

// Summarize computes the arithmetic mean of person count and of density
// across samples, plus the peak density. An empty slice yields a zero
// Summary.
func Summarize(samples []Sample) Summary {
	if len(samples) == 0 {
		return Summary{}
	}

	var countSum int
	var densitySum float64
	var densitySamples int
	var peak float64
	var havePeak bool

	for _, s := range samples {
		countSum += s.PersonCount
		if s.Density == nil {
			continue
		}
		densitySum += *s.Density
		densitySamples++
		if !havePeak || *s.Density > peak {
			peak = *s.Density
			havePeak = true
		}
	}

	summary := Summary{
		Frames:         len(samples),
		AvgPersonCount: float64(countSum) / float64(len(samples)),
	}
	if densitySamples > 0 {
		avg := densitySum / float64(densitySamples)
		summary.AvgDensity = &avg
		summary.PeakDensity = &peak
	}
	return summary
}
