package comparison

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/simulation"
)

func schedulerRequests(n int) []RunRequest {
	reqs := make([]RunRequest, n)
	for i := range reqs {
		reqs[i] = RunRequest{
			RunID:            "run-" + string(rune('a'+i)),
			ComparisonID:     "comp-1",
			Agent:            &agents.Config{AgentID: "agent-1", AgentName: "Agent One"},
			SimulationNumber: i + 1,
		}
	}
	return reqs
}

func TestSchedulerRunsEverythingWithBoundedConcurrency(t *testing.T) {
	var current, peak int64

	simulate := func(_ context.Context, req RunRequest) *simulation.Run {
		n := atomic.AddInt64(&current, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return &simulation.Run{RunID: req.RunID, Status: simulation.RunCompleted}
	}

	s := NewScheduler(2, simulate, nil)
	runs := s.Execute(context.Background(), context.Background(), schedulerRequests(6))

	require.Len(t, runs, 6)
	for _, run := range runs {
		require.NotNil(t, run)
		assert.Equal(t, simulation.RunCompleted, run.Status)
	}
	assert.LessOrEqual(t, peak, int64(2))
}

func TestSchedulerSettlesEveryRunExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	settled := map[string]int{}

	simulate := func(_ context.Context, req RunRequest) *simulation.Run {
		return &simulation.Run{RunID: req.RunID, Status: simulation.RunCompleted}
	}
	onSettled := func(run *simulation.Run) {
		mu.Lock()
		settled[run.RunID]++
		mu.Unlock()
	}

	s := NewScheduler(3, simulate, onSettled)
	s.Execute(context.Background(), context.Background(), schedulerRequests(5))

	assert.Len(t, settled, 5)
	for id, count := range settled {
		assert.Equal(t, 1, count, "run %s settled more than once", id)
	}
}

func TestSchedulerCancelStopsDispatchOnly(t *testing.T) {
	dispatchCtx, cancel := context.WithCancel(context.Background())

	var started int64
	release := make(chan struct{})

	simulate := func(_ context.Context, req RunRequest) *simulation.Run {
		atomic.AddInt64(&started, 1)
		<-release
		return &simulation.Run{RunID: req.RunID, Status: simulation.RunCompleted}
	}

	s := NewScheduler(1, simulate, nil)

	done := make(chan []*simulation.Run)
	go func() { done <- s.Execute(dispatchCtx, context.Background(), schedulerRequests(4)) }()

	// Wait until the single worker picked up the first run, then cancel.
	for atomic.LoadInt64(&started) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(release)

	runs := <-done
	require.Len(t, runs, 4)

	var completed, failed int
	for _, run := range runs {
		switch run.Status {
		case simulation.RunCompleted:
			completed++
		case simulation.RunFailed:
			failed++
			assert.Contains(t, run.Error, "canceled")
		}
	}
	// The in-flight run finished naturally, the rest never dispatched.
	assert.GreaterOrEqual(t, completed, 1)
	assert.Equal(t, 4, completed+failed)
}
