package comparison

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rankingWith(agentID string, composite, accuracy, latency *float64) AgentRanking {
	return AgentRanking{
		AgentID:       agentID,
		Composite:     MetricStats{Mean: composite},
		Accuracy:      MetricStats{Mean: accuracy},
		LatencyMedian: MetricStats{Mean: latency},
	}
}

func TestRankOrdersByCompositeDescending(t *testing.T) {
	ranked := Rank([]AgentRanking{
		rankingWith("a", fptr(6.0), fptr(0.6), fptr(1.0)),
		rankingWith("b", fptr(8.0), fptr(0.8), fptr(1.0)),
		rankingWith("c", fptr(7.0), fptr(0.7), fptr(1.0)),
	})

	assert.Equal(t, []int{1, 2, 3}, []int{ranked[0].Rank, ranked[1].Rank, ranked[2].Rank})
	assert.Equal(t, "b", ranked[0].AgentID)
	assert.Equal(t, "c", ranked[1].AgentID)
	assert.Equal(t, "a", ranked[2].AgentID)
}

func TestRankTieBreaksOnAccuracyThenLatency(t *testing.T) {
	ranked := Rank([]AgentRanking{
		rankingWith("slow", fptr(7.0), fptr(0.7), fptr(2.0)),
		rankingWith("fast", fptr(7.0), fptr(0.7), fptr(1.0)),
		rankingWith("accurate", fptr(7.0), fptr(0.9), fptr(3.0)),
	})

	assert.Equal(t, "accurate", ranked[0].AgentID)
	assert.Equal(t, "fast", ranked[1].AgentID)
	assert.Equal(t, "slow", ranked[2].AgentID)
}

func TestRankAgentsWithoutCompositeSortLast(t *testing.T) {
	ranked := Rank([]AgentRanking{
		rankingWith("dead", nil, nil, nil),
		rankingWith("alive", fptr(2.0), fptr(0.2), fptr(1.0)),
	})

	assert.Equal(t, "alive", ranked[0].AgentID)
	assert.Equal(t, "dead", ranked[1].AgentID)
	assert.Equal(t, 2, ranked[1].Rank)
}

func TestRankDeterministicForIdenticalInputs(t *testing.T) {
	input := []AgentRanking{
		rankingWith("x", fptr(5.0), fptr(0.5), fptr(1.0)),
		rankingWith("y", fptr(5.0), fptr(0.5), fptr(1.0)),
	}

	first := Rank(input)
	second := Rank(input)
	assert.Equal(t, first[0].AgentID, second[0].AgentID)
	assert.Equal(t, "x", first[0].AgentID)
}

func TestRankDoesNotMutateInput(t *testing.T) {
	input := []AgentRanking{
		rankingWith("a", fptr(1.0), nil, nil),
		rankingWith("b", fptr(9.0), nil, nil),
	}
	Rank(input)
	assert.Equal(t, "a", input[0].AgentID)
	assert.Zero(t, input[0].Rank)
}
