// Command radixbench validates and times the radix sort engine over a range
// of key counts and block sizes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	cli "github.com/urfave/cli/v2"

	"github.com/openfluke/radix/compute"
	"github.com/openfluke/radix/cpu"
	"github.com/openfluke/radix/detector"
	"github.com/openfluke/radix/gpu"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to a TOML benchmark plan; flags given explicitly override it",
	}
	backendFlag = &cli.StringFlag{
		Name:  "backend",
		Usage: "Compute backend: cpu or gpu",
		Value: "cpu",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Worker goroutines for the cpu backend (0 = GOMAXPROCS)",
	}
	blockSizesFlag = &cli.IntSliceFlag{
		Name:  "blockSizes",
		Usage: "Work-group sizes to benchmark (e.g. --blockSizes 128 --blockSizes 256)",
		Value: cli.NewIntSlice(128, 256),
	}
	bitStepFlag = &cli.IntFlag{
		Name:  "bitStep",
		Usage: "Digit width per pass, 1 to 8 bits",
		Value: 4,
	}
	keyBitsFlag = &cli.IntFlag{
		Name:  "keyBits",
		Usage: "Significant low bits of every key",
		Value: 32,
	}
	minElementsFlag = &cli.IntFlag{
		Name:  "minElements",
		Usage: "Smallest key count",
		Value: 32768,
	}
	maxElementsFlag = &cli.IntFlag{
		Name:  "maxElements",
		Usage: "Largest key count",
		Value: 8388608,
	}
	samplesFlag = &cli.IntFlag{
		Name:  "samples",
		Usage: "Timed sorts per size",
		Value: 10,
	}
	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "Random seed for the keys",
		Value: 42,
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "logLevel",
		Usage: "debug, info, warn or error",
		Value: "info",
	}
)

var app = &cli.App{
	Name:     "radixbench",
	Usage:    "Validate and time the radix sort engine",
	Commands: []*cli.Command{
		{
			Name:  "bench",
			Usage: "Sort random keys at every size and report timings",
			Flags: []cli.Flag{
				configFlag, backendFlag, workersFlag, blockSizesFlag, bitStepFlag,
				keyBitsFlag, minElementsFlag, maxElementsFlag, samplesFlag, seedFlag, logLevelFlag,
			},
			Action: handleBench,
		},
		{
			Name:   "detect",
			Usage:  "Print the GPU adapter report and recommended engine sizing",
			Action: func(c *cli.Context) error {
				out, err := detector.DetectJSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, out)
				return nil
			},
		},
	},
}

// benchConfig resolves the plan from the optional file and the flags.
func benchConfig(c *cli.Context) (BenchConfig, error) {
	cfg := DefaultBenchConfig()
	if path := c.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if c.IsSet(backendFlag.Name) {
		cfg.Backend = c.String(backendFlag.Name)
	}
	if c.IsSet(workersFlag.Name) {
		cfg.Workers = c.Int(workersFlag.Name)
	}
	if c.IsSet(blockSizesFlag.Name) {
		cfg.BlockSizes = c.IntSlice(blockSizesFlag.Name)
	}
	if c.IsSet(bitStepFlag.Name) {
		cfg.BitStep = c.Int(bitStepFlag.Name)
	}
	if c.IsSet(keyBitsFlag.Name) {
		cfg.KeyBits = c.Int(keyBitsFlag.Name)
	}
	if c.IsSet(minElementsFlag.Name) {
		cfg.MinElements = c.Int(minElementsFlag.Name)
	}
	if c.IsSet(maxElementsFlag.Name) {
		cfg.MaxElements = c.Int(maxElementsFlag.Name)
	}
	if c.IsSet(samplesFlag.Name) {
		cfg.Samples = c.Int(samplesFlag.Name)
	}
	if c.IsSet(seedFlag.Name) {
		cfg.Seed = c.Int64(seedFlag.Name)
	}
	if c.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = c.String(logLevelFlag.Name)
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func openBackend(cfg BenchConfig, log *slog.Logger) (compute.Backend, error) {
	if cfg.Backend == "gpu" {
		b, err := gpu.New()
		if err != nil {
			return nil, err
		}
		log.Info("using gpu backend", "adapter", b.Adapter())
		return b.WithLogger(log), nil
	}
	return cpu.New(cfg.Workers).WithLogger(log), nil
}

func handleBench(c *cli.Context) error {
	cfg, err := benchConfig(c)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	b, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	results, err := runBench(ctx, b, cfg, log)
	if perr := printResults(c.App.Writer, b.Name(), results); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		return err
	}
	for _, r := range results {
		if !r.Valid {
			return fmt.Errorf("block size %d, %d keys: output is not sorted", r.BlockSize, r.Elements)
		}
	}
	return nil
}

func main() {
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "radixbench:", err)
		os.Exit(1)
	}
}
