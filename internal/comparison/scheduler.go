package comparison

import (
	"context"
	"sync"
	"time"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/simulation"
)

// RunRequest is one unit of work for the scheduler: a single simulation of
// one agent.
type RunRequest struct {
	RunID            string
	ComparisonID     string
	Agent            *agents.Config
	SimulationNumber int
}

// Scheduler executes simulation runs with bounded concurrency. A fixed
// pool of workers drains the request queue; at most maxConcurrent
// conversations are in flight at any moment, regardless of how many agents
// the comparison has.
type Scheduler struct {
	maxConcurrent int
	simulate      func(ctx context.Context, req RunRequest) *simulation.Run
	onSettled     func(run *simulation.Run)
}

func NewScheduler(maxConcurrent int, simulate func(ctx context.Context, req RunRequest) *simulation.Run, onSettled func(run *simulation.Run)) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		simulate:      simulate,
		onSettled:     onSettled,
	}
}

// Execute runs every request and returns the settled runs in request
// order. Cancelling dispatchCtx stops handing out new work; runs already
// in flight finish naturally under runCtx, and requests never dispatched
// settle as failed.
func (s *Scheduler) Execute(dispatchCtx, runCtx context.Context, reqs []RunRequest) []*simulation.Run {
	results := make([]*simulation.Run, len(reqs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < s.maxConcurrent; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				run := s.simulate(runCtx, reqs[i])
				results[i] = run
				if s.onSettled != nil {
					s.onSettled(run)
				}
			}
		}()
	}

dispatch:
	for i := range reqs {
		select {
		case <-dispatchCtx.Done():
			for j := i; j < len(reqs); j++ {
				run := canceledRun(reqs[j])
				results[j] = run
				if s.onSettled != nil {
					s.onSettled(run)
				}
			}
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

func canceledRun(req RunRequest) *simulation.Run {
	now := time.Now()
	return &simulation.Run{
		RunID:            req.RunID,
		ComparisonID:     req.ComparisonID,
		AgentID:          req.Agent.AgentID,
		AgentName:        req.Agent.AgentName,
		SimulationNumber: req.SimulationNumber,
		Status:           simulation.RunFailed,
		EndReason:        simulation.EndError,
		Error:            "comparison canceled before dispatch",
		StartedAt:        now,
		CompletedAt:      &now,
	}
}
