package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize/english"
	"github.com/nvr-ai/go-facemask/benchmark"
	"github.com/nvr-ai/go-facemask/images"
	"github.com/urfave/cli"
)

// BenchCommand measures throughput over frame sizes and encodings.
var BenchCommand = cli.Command{
	Name:      "bench",
	Usage:     "Benchmark the detector on sample frames",
	ArgsUsage: "<file or directory>...",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "iterations", Value: 100, Usage: "measured runs per scenario"},
		cli.IntFlag{Name: "warmup", Value: 10, Usage: "unmeasured runs per scenario"},
		cli.StringFlag{Name: "output, o", Value: "benchmark_results", Usage: "report directory"},
	},
	Action: benchAction,
}

func benchAction(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return cli.NewExitError("at least one sample image or directory is required", 1)
	}

	opts := optionsFromContext(ctx)
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}

	files, err := collectInputs(ctx.Args())
	if err != nil {
		return err
	}

	engine, prof, err := newEngine(cfg, opts.Profile)
	if err != nil {
		return err
	}
	defer engine.Close()
	defer prof.Stop()

	suite := benchmark.NewSuite(engine, ctx.String("output"))
	if err := suite.LoadSources(files); err != nil {
		return err
	}
	formats := []images.ImageFormat{images.FormatJPEG, images.FormatPNG, images.FormatWebP}
	for _, s := range benchmark.Scenarios(benchmark.CommonResolutions, formats, ctx.Int("iterations"), ctx.Int("warmup")) {
		suite.AddScenario(s)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := suite.RunAllScenarios(runCtx); err != nil {
		return err
	}

	resultsFile, summaryFile, err := suite.SaveResults()
	if err != nil {
		return err
	}
	log.WithField("results", resultsFile).WithField("summary", summaryFile).
		Infof("bench: saved %s", english.Plural(len(suite.Results()), "scenario", "scenarios"))
	return nil
}
