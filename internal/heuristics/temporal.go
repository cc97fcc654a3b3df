package heuristics

import "sort"

// Temporal Analysis
//
// Detects timing coordination across a set of transactions attributed to
// the same address or cluster: bursts of activity and concentration
// around a particular hour of day. Grounded on the original Python
// analysis/temporal.py.

// TemporalObservation is one timestamped event fed into the burst/
// time-of-day detectors (a transaction's block time or first-seen time).
type TemporalObservation struct {
	Txid      string
	Timestamp int64 // unix seconds
}

// TemporalResult summarizes the burst and time-of-day signals for a set
// of observations.
type TemporalResult struct {
	BurstDetected      bool    `json:"burstDetected"`
	LargestBurstSize   int     `json:"largestBurstSize"`
	BurstWindowSeconds int64   `json:"burstWindowSeconds"`
	ModalHour          int     `json:"modalHour"`
	HourConcentration  float64 `json:"hourConcentration"`
	TimeOfDayPattern   bool    `json:"timeOfDayPattern"`
}

// DetectBurst reports whether at least minCount observations fall within
// any window of windowSeconds (spec.md §4.6).
func DetectBurst(observations []TemporalObservation, minCount int, windowSeconds int64) (bool, int) {
	if len(observations) < minCount {
		return false, 0
	}
	times := make([]int64, len(observations))
	for i, o := range observations {
		times[i] = o.Timestamp
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	largest := 0
	left := 0
	for right := 0; right < len(times); right++ {
		for times[right]-times[left] > windowSeconds {
			left++
		}
		size := right - left + 1
		if size > largest {
			largest = size
		}
	}
	return largest >= minCount, largest
}

// DetectTimeOfDayConcentration returns the modal hour and the fraction of
// observations that fall within a 3-hour window centered on it
// (spec.md §4.6).
func DetectTimeOfDayConcentration(observations []TemporalObservation) (modalHour int, concentration float64) {
	if len(observations) == 0 {
		return 0, 0
	}
	hourCounts := make([]int, 24)
	for _, o := range observations {
		hour := int((o.Timestamp / 3600) % 24)
		if hour < 0 {
			hour += 24
		}
		hourCounts[hour]++
	}

	modalHour = 0
	for h, c := range hourCounts {
		if c > hourCounts[modalHour] {
			modalHour = h
		}
	}

	withinWindow := 0
	for _, o := range observations {
		hour := int((o.Timestamp / 3600) % 24)
		if hour < 0 {
			hour += 24
		}
		if hourDistance(hour, modalHour) <= 1 {
			withinWindow++
		}
	}

	concentration = float64(withinWindow) / float64(len(observations))
	return modalHour, concentration
}

// hourDistance is the circular distance between two hours-of-day (0-23).
func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}

// AnalyzeTemporalPattern runs both burst and time-of-day detection over
// a set of observations attributed to one address or cluster.
func AnalyzeTemporalPattern(observations []TemporalObservation, burstMinCount int, burstWindowSeconds int64) TemporalResult {
	var result TemporalResult
	result.BurstDetected, result.LargestBurstSize = DetectBurst(observations, burstMinCount, burstWindowSeconds)
	result.BurstWindowSeconds = burstWindowSeconds
	result.ModalHour, result.HourConcentration = DetectTimeOfDayConcentration(observations)
	result.TimeOfDayPattern = result.HourConcentration > 0.5
	return result
}
