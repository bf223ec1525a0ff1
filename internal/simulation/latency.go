package simulation

import "sort"

// LatencyPercentiles summarizes agent response latencies for one run.
// Values are in seconds.
type LatencyPercentiles struct {
	Median float64
	P75    float64
	P99    float64
	Min    float64
	Max    float64
	Avg    float64
}

// CalculatePercentiles computes latency percentiles with linear
// interpolation over latencies given in milliseconds.
func CalculatePercentiles(latenciesMS []float64) *LatencyPercentiles {
	if len(latenciesMS) == 0 {
		return nil
	}

	seconds := make([]float64, len(latenciesMS))
	for i, ms := range latenciesMS {
		seconds[i] = ms / 1000.0
	}
	sort.Float64s(seconds)

	sum := 0.0
	for _, v := range seconds {
		sum += v
	}

	return &LatencyPercentiles{
		Median: percentile(seconds, 0.50),
		P75:    percentile(seconds, 0.75),
		P99:    percentile(seconds, 0.99),
		Min:    seconds[0],
		Max:    seconds[len(seconds)-1],
		Avg:    sum / float64(len(seconds)),
	}
}

func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	k := float64(n-1) * p
	f := int(k)
	c := f + 1
	if c >= n {
		c = f
	}
	return sorted[f] + (k-float64(f))*(sorted[c]-sorted[f])
}
