package comparison

import "sort"

// Rank orders agents best first and assigns rank numbers. Ordering is by
// composite mean descending; ties fall back to accuracy mean descending,
// then latency median mean ascending, then agent ID for determinism.
// Agents with no composite at all sort last.
func Rank(rankings []AgentRanking) []AgentRanking {
	ordered := make([]AgentRanking, len(rankings))
	copy(ordered, rankings)

	sort.SliceStable(ordered, func(i, j int) bool {
		return rankLess(&ordered[i], &ordered[j])
	})

	for i := range ordered {
		ordered[i].Rank = i + 1
	}
	return ordered
}

func rankLess(a, b *AgentRanking) bool {
	if c := compareDesc(a.Composite.Mean, b.Composite.Mean); c != 0 {
		return c < 0
	}
	if c := compareDesc(a.Accuracy.Mean, b.Accuracy.Mean); c != 0 {
		return c < 0
	}
	if c := compareAsc(a.LatencyMedian.Mean, b.LatencyMedian.Mean); c != 0 {
		return c < 0
	}
	return a.AgentID < b.AgentID
}

// compareDesc orders higher values first; nil sorts after any value.
func compareDesc(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a > *b:
		return -1
	case *a < *b:
		return 1
	default:
		return 0
	}
}

// compareAsc orders lower values first; nil sorts after any value.
func compareAsc(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	default:
		return 0
	}
}
