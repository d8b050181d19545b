package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"refiner/internal/chain"
	"refiner/internal/config"
	"refiner/internal/eek"
	"refiner/internal/models"
	"refiner/internal/pipeline"
	"refiner/internal/refine"
	"refiner/internal/report"
	"refiner/internal/status"
	"refiner/internal/storage"
	"refiner/internal/version"
)

func main() {
	// .envファイルを読み込み（存在しない場合はスキップ）
	_ = godotenv.Load()

	var (
		start   = flag.Uint64("start", 0, "Override START_FILE_ID (first ID of the descending window)")
		end     = flag.Uint64("end", 0, "Override END_FILE_ID (last ID of the descending window)")
		batch   = flag.Int("batch", 0, "Override BATCH_SIZE (sub-batch concurrency)")
		mode    = flag.String("mode", "", "Override MODE: direct or index")
		history = flag.Int("history", 0, "Print the N most recent runs and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Processes a descending window of file IDs against the permission\n")
		fmt.Fprintf(os.Stderr, "registry and submits recovered keys to the refinement service.\n")
		fmt.Fprintf(os.Stderr, "Configuration comes from the environment (or a .env file).\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*start, *end, *batch, *mode, *history); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(start, end uint64, batch int, mode string, history int) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if start > 0 {
		cfg.StartID = start
	}
	if end > 0 {
		cfg.EndID = end
	}
	if batch > 0 {
		cfg.BatchSize = batch
	}
	if mode != "" {
		cfg.Mode = mode
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	runs := storage.NewRunRepository(db)

	ctx := context.Background()

	if history > 0 {
		return printHistory(ctx, runs, history)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	reporter, err := report.New(cfg.LogDir, cfg.LogMaxBytes)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(report.Fanout(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		reporter.ConsoleHandler(level),
	)))
	slog.Info("refiner starting", "version", version.Version, "mode", cfg.Mode,
		"start", cfg.StartID, "end", cfg.EndID, "batch_size", cfg.BatchSize)

	priv, err := cfg.PrivateKey()
	if err != nil {
		return err
	}
	chainClient, err := chain.Dial(ctx, cfg.RPCURL, cfg.Registry(), cfg.Operator())
	if err != nil {
		return err
	}
	defer chainClient.Close()

	proc := pipeline.NewProcessor(
		chainClient,
		eek.NewDecrypter(priv),
		refine.NewClient(cfg.RefinementURL, cfg.RefinerID, cfg.EnvVars),
		cfg.RefinerID,
		reporter,
	)

	source := pipeline.DirectIDs()
	if cfg.Mode == models.ModeIndex {
		source = pipeline.IndexIDs(chainClient)
	}
	sched := pipeline.NewScheduler(proc, source, reporter)

	record := &models.Run{
		Mode:      cfg.Mode,
		StartID:   cfg.StartID,
		EndID:     cfg.EndID,
		BatchSize: cfg.BatchSize,
	}
	if err := runs.Create(ctx, record); err != nil {
		slog.Error("failed to record run start", "error", err)
	}

	if cfg.StatusAddr != "" {
		srv := status.New(cfg.StatusAddr, reporter.Run)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	snap, err := sched.Run(ctx, pipeline.Window{
		Start:     cfg.StartID,
		End:       cfg.EndID,
		BatchSize: cfg.BatchSize,
	})
	if err != nil {
		return err
	}

	if record.ID != "" {
		if err := runs.Complete(ctx, record.ID, snap); err != nil {
			slog.Error("failed to record run completion", "error", err)
		}
	}

	fmt.Printf("Done. total=%d already_refined=%d processed=%d success=%d failed=%d\n",
		snap.Total, snap.AlreadyRefined, snap.Processed, snap.Success, snap.Failed)
	return nil
}

func printHistory(ctx context.Context, runs *storage.RunRepository, limit int) error {
	list, err := runs.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, r := range list {
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %s  %s  %d→%d batch=%d  total=%d refined=%d ok=%d failed=%d  %s\n",
			r.StartedAt.Format(time.RFC3339), r.ID[:8], r.Mode,
			r.StartID, r.EndID, r.BatchSize,
			r.Total, r.AlreadyRefined, r.Success, r.Failed, completed)
	}
	return nil
}
