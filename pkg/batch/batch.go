// Package batch analyzes many scenarios concurrently and aggregates
// their bugs into a shared report.Table. It uses the same progress-ticker
// and atomic-counter shape as a hand-rolled worker pool, but built on
// golang.org/x/sync/errgroup instead of channels and a WaitGroup, since a
// batch job here is "analyze one whole scenario" rather than "check one
// candidate instruction sequence": there is no task queue granular enough
// to need manual channel plumbing, just a bounded fan-out errgroup
// already gives.
package batch

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/detect"
	"github.com/oisee/absint/pkg/engine"
	"github.com/oisee/absint/pkg/extapi"
	"github.com/oisee/absint/pkg/report"
	"github.com/oisee/absint/pkg/scenario"
)

// Job is one scenario to analyze, named for progress reporting and
// result attribution.
type Job struct {
	Name string
	Spec *scenario.Spec
}

// Options configures a batch run.
type Options struct {
	// NumWorkers bounds concurrent analyses; runtime.NumCPU() when <= 0.
	NumWorkers int
	Cfg config.Config
	BufRules map[string]detect.BufOverflowCheck
	// Progress is the interval between progress lines; 0 disables them.
	Progress time.Duration
}

// JobResult is one job's outcome. Err is a build or config error, or the
// engine's Aborted — never a per-bug
// detail, which lives in Bugs instead.
type JobResult struct {
	Name string
	Bugs []detect.Bug
	Err error
}

// Summary is the outcome of a whole batch run.
type Summary struct {
	Results []JobResult
	Report *report.Table
}

// Run analyzes every job concurrently, bounded by opts.NumWorkers
// in-flight at a time, aggregating every successful job's bugs into a
// shared report.Table. A per-job error is recorded on its JobResult and
// does not abort the rest of the batch.
func Run(ctx context.Context, jobs []Job, opts Options) *Summary {
	numWorkers := opts.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	tbl := report.NewTable()
	results := make([]JobResult, len(jobs))
	total := int64(len(jobs))
	var completed, bugsFound atomic.Int64

	var stopProgress chan struct{}
	if opts.Progress > 0 {
		stopProgress = make(chan struct{})
		go reportProgress(opts.Progress, total, &completed, &bugsFound, stopProgress)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = JobResult{Name: job.Name, Err: gctx.Err()}
				completed.Add(1)
				return nil
			}
			bugs, err := runOne(job.Spec, opts)
			results[i] = JobResult{Name: job.Name, Bugs: bugs, Err: err}
			if err == nil {
				tbl.AddAll(bugs)
				bugsFound.Add(int64(len(bugs)))
			}
			completed.Add(1)
			return nil // per-job errors are reported, never propagated
		})
	}
	_ = g.Wait()

	if stopProgress != nil {
		close(stopProgress)
	}
	return &Summary{Results: results, Report: tbl}
}

func reportProgress(interval time.Duration, total int64, completed, bugsFound *atomic.Int64, stop <-chan struct{}) {
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			comp := completed.Load()
			pct := float64(comp) / float64(total) * 100
			fmt.Printf(" [%s] %d/%d scenarios (%.1f%%) | %d bugs found\n",
				time.Since(start).Round(time.Second), comp, total, pct, bugsFound.Load())
		}
	}
}

func runOne(spec *scenario.Spec, opts Options) ([]detect.Bug, error) {
	prog, err := scenario.Build(spec)
	if err != nil {
		return nil, err
	}
	registry := extapi.NewRegistry()
	detectors := engine.DefaultDetectors(opts.BufRules)
	res, err := engine.Run(prog, prog, nil, nil, opts.Cfg, registry, detectors)
	if err != nil {
		return nil, err
	}
	if res.Aborted != nil {
		return res.Bugs, res.Aborted
	}
	return res.Bugs, nil
}
