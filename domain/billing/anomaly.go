package billing

import "math"

// MinBaselineSamples is the history length below which no verdict is given.
const MinBaselineSamples = 5

// Thresholds configures Detect.
type Thresholds struct {
	Z          float64
	Ratio      float64
	MinSamples int
}

// DefaultThresholds returns z >= 3.0, ratio >= 2.0 and a five sample floor.
func DefaultThresholds() Thresholds {
	return Thresholds{Z: 3.0, Ratio: 2.0, MinSamples: MinBaselineSamples}
}

// DayProgress is the fraction of the day elapsed at the end of hour (0-23).
func DayProgress(hour int) float64 {
	return float64(clampHour(hour)+1) / 24.0
}

// ZScore returns (observed-mean)/std. A zero std gives 0 when observed equals the
// mean and +Inf otherwise.
func ZScore(observed, mean, std float64) float64 {
	if std == 0 {
		if observed == mean {
			return 0
		}
		return math.Inf(1)
	}
	return (observed - mean) / std
}

// DeviationRatio returns observed/mean. A zero mean gives 0 when observed is 0 and
// +Inf otherwise.
func DeviationRatio(observed, mean float64) float64 {
	if mean == 0 {
		if observed == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return observed / mean
}

// Detect compares the accumulated spend of each summary against its baseline
// scaled to the elapsed part of the day and returns the summaries that cleared the
// thresholds. Only upward deviations are reported.
//
// Summaries without a baseline, or whose baseline has fewer than th.MinSamples
// samples, are skipped. A baseline with zero std is judged by ratio alone.
func Detect(summaries []DailySummary, baselines BaselineMap, date string, hour int, th Thresholds) []AnomalyRecord {
	minSamples := th.MinSamples
	if minSamples <= 0 {
		minSamples = MinBaselineSamples
	}
	hour = clampHour(hour)
	progress := DayProgress(hour)

	anomalies := []AnomalyRecord{}
	for _, s := range summaries {
		base, ok := baselines[s.Entity()]
		if !ok || base.SampleCount < minSamples {
			continue
		}

		observed := s.ExpectAmount
		expectedMean := base.Mean * progress
		expectedStd := base.Std * progress
		if observed < expectedMean {
			continue
		}

		z := ZScore(observed, expectedMean, expectedStd)
		ratio := DeviationRatio(observed, expectedMean)

		var anomalous bool
		if base.Std == 0 {
			anomalous = ratio >= th.Ratio
		} else {
			anomalous = z >= th.Z || ratio >= th.Ratio
		}
		if !anomalous {
			continue
		}

		anomalies = append(anomalies, AnomalyRecord{
			Date:           date,
			Hour:           hour,
			DomainID:       s.DomainID,
			DomainName:     s.DomainName,
			ProjectID:      s.ProjectID,
			ProjectName:    s.ProjectName,
			ServiceID:      s.ServiceID,
			ServiceName:    s.ServiceName,
			ObservedAmount: observed,
			BaselineMean:   base.Mean,
			BaselineStd:    base.Std,
			ZScore:         z,
			DeviationRatio: ratio,
			ThresholdZ:     th.Z,
			ThresholdRatio: th.Ratio,
		})
	}
	return anomalies
}

func clampHour(hour int) int {
	if hour < 0 {
		return 0
	}
	if hour > 23 {
		return 23
	}
	return hour
}
