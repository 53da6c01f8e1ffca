package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/thesyncim/velvet"
)

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	jobs := fs.Int("j", runtime.NumCPU(), "maximum concurrent jobs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: run takes one job file", velvet.ErrInvalidConfig)
	}
	f, err := loadJobFile(fs.Arg(0))
	if err != nil {
		return err
	}
	limit := *jobs
	if f.Concurrency > 0 {
		limit = f.Concurrency
	}
	return runJobs(ctx, f.Jobs, limit, slog.Default())
}

// runJobs runs one muxer per goroutine. The first failure cancels the jobs
// that have not started yet.
func runJobs(ctx context.Context, jobs []encodeJob, limit int, log *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := runEncode(ctx, job, log.With("job", i)); err != nil {
				return fmt.Errorf("job %d (%s): %w", i, job.Output, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func enginesCmd() error {
	for _, id := range velvet.AvailableEngines() {
		e, err := velvet.LoadEngine(id)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n  formats: %v\n  encoders: %v\n  decoders: %v\n",
			e.Name(), e.Formats(), e.Codecs(velvet.Encode), e.Codecs(velvet.Decode))
	}
	return nil
}
