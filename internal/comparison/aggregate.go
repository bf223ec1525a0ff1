package comparison

import (
	"math"

	"github.com/voicearena/backend/internal/simulation"
)

// Composite score weights. The hangup component is deliberately light: a
// clean goodbye matters, but not as much as being right.
const (
	weightAccuracy  = 0.30
	weightHumanlike = 0.30
	weightOutcome   = 0.30
	weightHangup    = 0.10
)

// Aggregate rolls one agent's runs up into a ranking row. Statistics are
// computed over completed runs only; failed runs contribute to counts and
// nothing else.
func Aggregate(agentID, agentName string, runs []*simulation.Run) AgentRanking {
	ranking := AgentRanking{
		AgentID:          agentID,
		AgentName:        agentName,
		TotalSimulations: len(runs),
	}

	var (
		accuracies  []float64
		humanlikes  []float64
		outcomes    []float64
		composites  []float64
		turnCounts  []float64
		latMedians  []float64
		latP75s     []float64
		latP99s     []float64
		properCount int
		completed   int
	)

	for _, run := range runs {
		switch run.Status {
		case simulation.RunCompleted:
			completed++
		case simulation.RunFailed:
			ranking.FailedSimulations++
			continue
		default:
			continue
		}

		if run.OverallAccuracy != nil {
			accuracies = append(accuracies, *run.OverallAccuracy)
		}
		if run.HumanlikeRating != nil {
			humanlikes = append(humanlikes, *run.HumanlikeRating)
		}
		if run.OutcomeOrientation != nil {
			outcomes = append(outcomes, *run.OutcomeOrientation)
		}
		if c := runComposite(run); c != nil {
			composites = append(composites, *c)
		}
		if run.LatencyMedian != nil {
			latMedians = append(latMedians, *run.LatencyMedian)
		}
		if run.LatencyP75 != nil {
			latP75s = append(latP75s, *run.LatencyP75)
		}
		if run.LatencyP99 != nil {
			latP99s = append(latP99s, *run.LatencyP99)
		}
		turnCounts = append(turnCounts, float64(run.TotalTurns))
		if run.ProperHangup {
			properCount++
		}
	}

	ranking.SuccessfulSimulations = completed
	ranking.Accuracy = statsOf(accuracies)
	ranking.Humanlike = statsOf(humanlikes)
	ranking.Outcome = statsOf(outcomes)
	ranking.Composite = statsOf(composites)
	ranking.AvgTurns = statsOf(turnCounts)
	ranking.LatencyMedian = statsOf(latMedians)
	ranking.LatencyP75 = statsOf(latP75s)
	ranking.LatencyP99 = statsOf(latP99s)

	if completed > 0 {
		rate := float64(properCount) / float64(completed)
		ranking.HangupSuccessRate = &rate
	}

	return ranking
}

// runComposite computes a single run's weighted score on a 0-10 scale.
// Metrics the run does not have drop out and the remaining weights are
// renormalized, so a run without an outcome score is not punished for it.
func runComposite(run *simulation.Run) *float64 {
	var weighted, totalWeight float64

	if run.OverallAccuracy != nil {
		weighted += *run.OverallAccuracy * 10 * weightAccuracy
		totalWeight += weightAccuracy
	}
	if run.HumanlikeRating != nil {
		weighted += *run.HumanlikeRating * weightHumanlike
		totalWeight += weightHumanlike
	}
	if run.OutcomeOrientation != nil {
		weighted += *run.OutcomeOrientation * weightOutcome
		totalWeight += weightOutcome
	}
	if run.Status == simulation.RunCompleted {
		hangupScore := 0.0
		if run.ProperHangup {
			hangupScore = 10.0
		}
		weighted += hangupScore * weightHangup
		totalWeight += weightHangup
	}

	if totalWeight == 0 {
		return nil
	}

	composite := weighted / totalWeight
	return &composite
}

func statsOf(values []float64) MetricStats {
	if len(values) == 0 {
		return MetricStats{}
	}

	m := mean(values)
	s := populationStd(values, m)
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	return MetricStats{Mean: &m, Std: &s, Min: &lo, Max: &hi}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStd(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
