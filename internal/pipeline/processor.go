// Package pipeline implements the per-file decision pipeline and the
// sub-batch scheduler that drives it over an ID window.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"refiner/internal/report"
	"refiner/internal/stats"
)

// ChainReader は権限レジストリの読み取りインターフェース
type ChainReader interface {
	// FilePermissions returns the encrypted key envelope or nil when absent.
	FilePermissions(ctx context.Context, fileID uint64) []byte
	// FileRefined reports whether the refiner already refined the file.
	FileRefined(ctx context.Context, fileID, refinerID uint64) bool
	// FileIDAt resolves a registry index to a file ID.
	FileIDAt(ctx context.Context, index uint64) (uint64, bool)
}

// Decrypter は鍵エンベロープを復号する
type Decrypter interface {
	Decrypt(raw []byte) ([]byte, error)
}

// Refiner は復号済み鍵を精製サービスへ送信する
type Refiner interface {
	Refine(ctx context.Context, fileID uint64, key []byte) (string, error)
}

// Processor runs the per-file state machine: permission lookup, refinement
// check, key recovery, submission. Each state short-circuits on the first
// terminal condition.
type Processor struct {
	chain     ChainReader
	decrypter Decrypter
	refiner   Refiner
	refinerID uint64
	reporter  *report.Reporter
}

// NewProcessor は新しいProcessorを作成
func NewProcessor(chain ChainReader, decrypter Decrypter, refiner Refiner, refinerID uint64, reporter *report.Reporter) *Processor {
	return &Processor{
		chain:     chain,
		decrypter: decrypter,
		refiner:   refiner,
		refinerID: refinerID,
		reporter:  reporter,
	}
}

// ProcessFile drives one file to a terminal state, incrementing st as it
// goes. Faults never escape: anything unexpected is counted as failed and
// logged, so a broken file cannot abort its siblings in the sub-batch.
func (p *Processor) ProcessFile(ctx context.Context, fileID uint64, st *stats.Stats) {
	defer func() {
		if rec := recover(); rec != nil {
			st.IncFailed()
			slog.Error("unexpected failure while processing file", "file_id", fileID, "panic", fmt.Sprint(rec))
			p.reporter.File(report.OutcomeError, fileID, fmt.Sprintf("unexpected: %v", rec))
		}
	}()

	encrypted := p.chain.FilePermissions(ctx, fileID)
	if encrypted == nil {
		slog.Debug("no key granted, skipping", "file_id", fileID)
		p.reporter.File(report.OutcomeInfo, fileID, "no key granted, skipped")
		return
	}

	if p.chain.FileRefined(ctx, fileID, p.refinerID) {
		st.IncAlreadyRefined()
		slog.Debug("already refined", "file_id", fileID)
		p.reporter.File(report.OutcomeInfo, fileID, "already refined")
		return
	}

	st.IncProcessed()

	key, err := p.decrypter.Decrypt(encrypted)
	if err != nil {
		st.IncFailed()
		slog.Error("decrypt-error", "file_id", fileID, "error", err)
		p.reporter.File(report.OutcomeFailure, fileID, "decrypt-error: "+err.Error())
		return
	}

	cid, err := p.refiner.Refine(ctx, fileID, key)
	if err != nil {
		st.IncFailed()
		slog.Error("api-error", "file_id", fileID, "error", err)
		p.reporter.File(report.OutcomeFailure, fileID, "api-error: "+err.Error())
		return
	}

	st.IncSuccess()
	slog.Info("file refined", "file_id", fileID, "cid", cid)
	p.reporter.File(report.OutcomeSuccess, fileID, cid)
}
