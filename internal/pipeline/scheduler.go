package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"refiner/internal/report"
	"refiner/internal/stats"
)

// Window は処理対象のID範囲。両端を含み、StartからEndへ降順に走査する。
type Window struct {
	Start     uint64
	End       uint64
	BatchSize int
}

// Validate はウィンドウの整合性を確認
func (w Window) Validate() error {
	if w.Start < w.End {
		return fmt.Errorf("window start %d is below end %d", w.Start, w.End)
	}
	if w.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", w.BatchSize)
	}
	return nil
}

// IDSource resolves a scheduler position to the file ID to process.
// Direct mode is the identity; index mode asks the registry.
type IDSource func(ctx context.Context, pos uint64) (uint64, bool)

// DirectIDs は位置をそのままファイルIDとして返すIDSource
func DirectIDs() IDSource {
	return func(_ context.Context, pos uint64) (uint64, bool) {
		return pos, true
	}
}

// IndexIDs はレジストリのインデックスをファイルIDへ解決するIDSource
func IndexIDs(chain ChainReader) IDSource {
	return func(ctx context.Context, pos uint64) (uint64, bool) {
		return chain.FileIDAt(ctx, pos)
	}
}

// Scheduler partitions a window into fixed-size sub-batches and runs every
// file in a sub-batch concurrently. It advances only after all files of the
// current sub-batch reached a terminal state.
type Scheduler struct {
	proc     *Processor
	source   IDSource
	reporter *report.Reporter
}

// NewScheduler は新しいSchedulerを作成
func NewScheduler(proc *Processor, source IDSource, reporter *report.Reporter) *Scheduler {
	return &Scheduler{proc: proc, source: source, reporter: reporter}
}

// Run processes the whole window and returns the final cumulative
// statistics. Sub-batch statistics are merged into the run-level counters
// between sub-batches; a PROGRESS record is persisted after each sub-batch
// and a COMPLETE record at the end.
func (s *Scheduler) Run(ctx context.Context, w Window) (stats.Snapshot, error) {
	if err := w.Validate(); err != nil {
		return stats.Snapshot{}, err
	}

	slog.Info("starting window", "start", w.Start, "end", w.End, "batch_size", w.BatchSize)

	for id := w.Start; ; {
		batchEnd := w.End
		if span := id - w.End + 1; span > uint64(w.BatchSize) {
			batchEnd = id - uint64(w.BatchSize) + 1
		}

		sub := &stats.Stats{}
		var wg sync.WaitGroup
		for pos := batchEnd; pos <= id; pos++ {
			sub.IncTotal()
			wg.Add(1)
			go func(pos uint64) {
				defer wg.Done()
				fileID, ok := s.source(ctx, pos)
				if !ok {
					sub.IncFailed()
					slog.Error("could not resolve position to a file", "position", pos)
					s.reporter.File(report.OutcomeError, pos, "position not resolvable")
					return
				}
				s.proc.ProcessFile(ctx, fileID, sub)
			}(pos)
		}
		wg.Wait()

		snap := sub.Snapshot()
		s.reporter.Run.Merge(snap)
		cumulative := s.reporter.Run.Snapshot()
		s.reporter.Progress(cumulative)
		slog.Info("sub-batch complete",
			"from", id, "to", batchEnd,
			"processed", cumulative.Processed,
			"success", cumulative.Success,
			"failed", cumulative.Failed,
			"already_refined", cumulative.AlreadyRefined)

		if batchEnd == w.End {
			break
		}
		id = batchEnd - 1
	}

	final := s.reporter.Run.Snapshot()
	s.reporter.Complete(final)
	slog.Info("window complete",
		"total", final.Total,
		"already_refined", final.AlreadyRefined,
		"processed", final.Processed,
		"success", final.Success,
		"failed", final.Failed)
	return final, nil
}
