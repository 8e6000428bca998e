package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vampirenirmal/storyforge/internal/assembly"
	"github.com/vampirenirmal/storyforge/internal/config"
	"github.com/vampirenirmal/storyforge/internal/orchestrator"
	"github.com/vampirenirmal/storyforge/internal/provider"
	"github.com/vampirenirmal/storyforge/internal/quality"
	"github.com/vampirenirmal/storyforge/internal/repair"
	"github.com/vampirenirmal/storyforge/internal/storage"
	"github.com/vampirenirmal/storyforge/internal/tokens"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file path (default: $STORYFORGE_CONFIG or XDG location)")
		workPath   = flag.String("work", "", "work file describing the units to generate (required)")
		poolPath   = flag.String("pool", "", "story bible YAML with characters, settings and plot arcs (required)")
		outDir     = flag.String("out", "", "output directory (overrides config)")
		budget     = flag.Float64("budget", 0, "per-work spend cap in USD (overrides config and work file)")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *workPath == "" || *poolPath == "" {
		fmt.Fprintln(os.Stderr, "usage: storyforge -work <work.yaml> -pool <pool.yaml> [-config path] [-out dir]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, *workPath, *poolPath, *outDir, *budget, logger); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, workPath, poolPath, outDir string, budget float64, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if outDir == "" {
		outDir = cfg.Output.Dir
	}

	work, err := orchestrator.LoadWork(workPath)
	if err != nil {
		return err
	}
	pool, err := assembly.LoadPool(poolPath)
	if err != nil {
		return err
	}

	providers, err := cfg.BuildProviders()
	if err != nil {
		return err
	}
	chain, err := provider.NewFailover(providers, logger)
	if err != nil {
		return err
	}

	gate, err := quality.NewGate(cfg.GateConfig(), chain, logger)
	if err != nil {
		return err
	}

	if budget == 0 {
		budget = cfg.Generation.BudgetUSD
	}

	orch := orchestrator.New(
		gate,
		repair.NewEngine(chain, logger),
		storage.NewArchive(storage.NewFileSystem(outDir)),
		orchestrator.WithEmitter(orchestrator.NewLogEmitter(logger)),
		orchestrator.WithLogger(logger),
		orchestrator.WithBudget(budget),
		orchestrator.WithAssemblyBudgets(cfg.AssemblyBudgets()),
		orchestrator.WithEstimator(tokens.NewEstimator(cfg.TokenProfile())),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orch.RunWork(ctx, work, pool)
	if err != nil {
		return err
	}

	fmt.Printf("work %s: %d units, %d fallbacks, %d facts, $%.4f\n",
		result.WorkID, len(result.Units), result.FallbackUnits, result.FactCount, result.TotalCost)
	for _, unit := range result.Units {
		note := ""
		if unit.RequiresHumanReview {
			note = " (needs review)"
		}
		fmt.Printf("  %s: score %.1f in %d attempt(s)%s\n", unit.UnitID, unit.QualityScore, unit.Attempts, note)
	}
	return nil
}
