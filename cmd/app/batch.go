package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfbatcher/internal/batch"
	cfgpkg "github.com/local/pdfbatcher/internal/config"
	"github.com/local/pdfbatcher/internal/document"
	logpkg "github.com/local/pdfbatcher/internal/logger"
	"github.com/local/pdfbatcher/internal/metrics"
	"github.com/local/pdfbatcher/internal/orchestrator"
)

// Exit codes of the batch command.
const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitPartial = 3
)

type cliOptions struct {
	input     string
	output    string
	batchSize int
	master    int
	tolerance float64
	retain    bool
	verbose   bool
	recursive bool
	publish   bool
}

// parseArgs reads the batch flags. Every flag has a short and a long name.
func parseArgs(cfg cfgpkg.Config, args []string, stderr io.Writer) (cliOptions, map[string]bool, error) {
	var o cliOptions
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	str := func(p *string, short, long, def, usage string) {
		fs.StringVar(p, short, def, usage)
		fs.StringVar(p, long, def, usage)
	}
	num := func(p *int, short, long string, usage string) {
		fs.IntVar(p, short, 0, usage)
		fs.IntVar(p, long, 0, usage)
	}
	boolean := func(p *bool, short, long string, def bool, usage string) {
		fs.BoolVar(p, short, def, usage)
		fs.BoolVar(p, long, def, usage)
	}

	str(&o.input, "i", "input", "*", "comma separated input files, .pdf assumed; dir/* selects every PDF in dir")
	str(&o.output, "o", "output", "", "output file name, .pdf assumed; existing files are overwritten")
	num(&o.batchSize, "b", "batch", "pages per output batch, appends _Batch_<n>")
	num(&o.master, "bic", "batchByImageComparison", "master page; batch at every page that looks like it")
	fs.Float64Var(&o.tolerance, "t", cfg.Batch.Tolerance, "maximum difference in percent for -bic matches")
	fs.Float64Var(&o.tolerance, "tolerance", cfg.Batch.Tolerance, "maximum difference in percent for -bic matches")
	boolean(&o.retain, "ro", "retainOriginal", cfg.Batch.Retain, "keep the original file when batching")
	boolean(&o.verbose, "v", "verbose", false, "log every comparison")
	boolean(&o.recursive, "r", "recursive", false, "search subdirectories for * inputs")
	fs.BoolVar(&o.publish, "publish", false, "upload written batches to the configured bucket")

	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return o, set, nil
}

// buildJob turns CLI options into a pass. -b wins over -bic; neither means
// the inputs are concatenated into the output.
func buildJob(o cliOptions, set map[string]bool, inputs []string) (orchestrator.Job, error) {
	job := orchestrator.Job{
		ID:        uuid.NewString(),
		Inputs:    inputs,
		Output:    o.output,
		Tolerance: batch.Tolerance(o.tolerance),
		Retain:    o.retain,
		Attempt:   1,
	}
	bySize := set["b"] || set["batch"]
	byImage := set["bic"] || set["batchByImageComparison"]
	switch {
	case bySize:
		job.Mode = orchestrator.ModeFixed
		job.BatchSize = o.batchSize
	case byImage:
		job.Mode = orchestrator.ModeSimilarity
		job.MasterPage = o.master
	default:
		job.Mode = orchestrator.ModeConcat
	}
	return job, job.Validate()
}

func runBatch(cfg cfgpkg.Config, args []string, stdout, stderr io.Writer) int {
	o, set, err := parseArgs(cfg, args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if o.verbose {
		logpkg.SetVerbose()
	}
	if o.output == "" {
		fmt.Fprintln(stderr, "missing -o output")
		return exitUsage
	}

	in, err := document.ExpandInputs(o.input, o.recursive)
	for _, m := range in.Missing {
		fmt.Fprintf(stderr, "input not found: %s\n", m)
	}
	if err != nil {
		fmt.Fprintf(stderr, "no inputs: %v\n", err)
		return exitFailed
	}

	job, err := buildJob(o, set, in.Valid)
	if err != nil {
		fmt.Fprintf(stderr, "invalid arguments: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "setup failed: %v\n", err)
		return exitFailed
	}
	if o.publish {
		if svc.s3 == nil {
			fmt.Fprintln(stderr, "-publish needs AWS_S3_BUCKET")
			return exitUsage
		}
		svc.runner.Publisher = svc.s3
	}
	if cfg.Server.MetricsTextfile != "" {
		metrics.Init()
	}

	rep, err := svc.runner.Run(ctx, job, printProgress(stdout, o.verbose))
	if cfg.Server.MetricsTextfile != "" {
		if werr := metrics.WriteTextfile(cfg.Server.MetricsTextfile); werr != nil {
			log.Warn().Err(werr).Str("path", cfg.Server.MetricsTextfile).Msg("metrics textfile write failed")
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "batching failed: %v\n", err)
		return exitFailed
	}

	printReport(stdout, rep)
	if len(rep.Failed) > 0 {
		return exitPartial
	}
	return exitOK
}

func printProgress(w io.Writer, verbose bool) orchestrator.ProgressFunc {
	return func(ev orchestrator.Event) {
		switch ev.Stage {
		case orchestrator.StageCoalesce:
			if ev.Total > 1 {
				fmt.Fprintf(w, "Concatenating %d files\n", ev.Total)
			}
		case orchestrator.StagePlan:
			if verbose && ev.Done > 0 {
				mark := ""
				if ev.Match {
					mark = " *"
				}
				fmt.Fprintf(w, "Compared page %d/%d: %.3f%%%s\n", ev.Done, ev.Total, ev.Score, mark)
			}
		case orchestrator.StageMaterialize:
			fmt.Fprintf(w, "Wrote batch %d/%d\n", ev.Done, ev.Total)
		}
	}
}

func printReport(w io.Writer, rep *orchestrator.Report) {
	for _, r := range rep.Written {
		if r.URL != "" {
			fmt.Fprintf(w, "%s pages %d-%d -> %s\n", r.Path, r.Batch.Start, r.Batch.End, r.URL)
		} else {
			fmt.Fprintf(w, "%s pages %d-%d\n", r.Path, r.Batch.Start, r.Batch.End)
		}
	}
	for _, r := range rep.Failed {
		fmt.Fprintf(w, "FAILED batch %d pages %d-%d: %s\n", r.Index, r.Batch.Start, r.Batch.End, r.Error)
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	fmt.Fprintf(w, "%d pages, %d batches written, %d failed in %s\n", rep.Pages, len(rep.Written), len(rep.Failed), rep.Duration.Round(time.Millisecond))
}
