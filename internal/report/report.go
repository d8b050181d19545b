// Package report は実行統計と3本の追記専用ログストリームを所有する。
// ストリームはファイル別結果・バッチ統計・コンソール記録のCSVで、
// それぞれ独立にサイズローテーションする。
package report

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"refiner/internal/stats"
)

// DefaultMaxBytes はローテーション閾値のデフォルト（1MiB）
const DefaultMaxBytes = 1 << 20

// Outcome kinds recorded in the file stream.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
	OutcomeInfo    = "info"
)

// RotatingCSV は閾値超過時にタイムスタンプ付きリネームで世代交代する
// 追記専用のCSVファイル。各Appendは1レコードの単一書き込み。
type RotatingCSV struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
}

// NewRotatingCSV は新しいRotatingCSVを作成
func NewRotatingCSV(path string, maxBytes int64) *RotatingCSV {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &RotatingCSV{path: path, maxBytes: maxBytes}
}

// Append writes one record, rotating first if the file has outgrown the
// threshold. Rotation failures are logged and the append proceeds on the
// oversized file; processing never aborts over a log stream.
func (w *RotatingCSV) Append(record []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rotateIfNeeded()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(record); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func (w *RotatingCSV) rotateIfNeeded() {
	info, err := os.Stat(w.path)
	if err != nil || info.Size() <= w.maxBytes {
		return
	}
	rotated := rotatedName(w.path, time.Now())
	if err := os.Rename(w.path, rotated); err != nil {
		// Straight to stderr: the console stream logs through slog, and
		// slog would re-enter this stream's lock.
		fmt.Fprintf(os.Stderr, "log rotation failed for %s: %v\n", w.path, err)
	}
}

// rotatedName inserts a timestamp suffix before the extension:
// logs/files.csv -> logs/files-20060102T150405.csv
func rotatedName(path string, t time.Time) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + t.Format("20060102T150405") + ext
}

// Reporter は実行全体の統計カウンタと3本のログストリームを所有する
type Reporter struct {
	Run *stats.Stats

	files   *RotatingCSV
	batches *RotatingCSV
	console *RotatingCSV
}

// New はログディレクトリ配下にストリームを用意したReporterを作成
func New(dir string, maxBytes int64) (*Reporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Reporter{
		Run:     &stats.Stats{},
		files:   NewRotatingCSV(filepath.Join(dir, "files.csv"), maxBytes),
		batches: NewRotatingCSV(filepath.Join(dir, "batches.csv"), maxBytes),
		console: NewRotatingCSV(filepath.Join(dir, "console.csv"), maxBytes),
	}, nil
}

// File はファイル別結果を記録する
func (r *Reporter) File(kind string, fileID uint64, msg string) {
	record := []string{
		time.Now().Format(time.RFC3339),
		kind,
		strconv.FormatUint(fileID, 10),
		msg,
	}
	if err := r.files.Append(record); err != nil {
		slog.Error("failed to append file outcome", "error", err)
	}
}

// Progress はサブバッチ完了時点の累積統計をPROGRESSレコードとして記録
func (r *Reporter) Progress(snap stats.Snapshot) {
	r.batch("PROGRESS", snap)
}

// Complete はウィンドウ完了時点の最終統計をCOMPLETEレコードとして記録
func (r *Reporter) Complete(snap stats.Snapshot) {
	r.batch("COMPLETE", snap)
}

func (r *Reporter) batch(kind string, snap stats.Snapshot) {
	record := []string{
		time.Now().Format(time.RFC3339),
		kind,
		strconv.Itoa(snap.Total),
		strconv.Itoa(snap.AlreadyRefined),
		strconv.Itoa(snap.Processed),
		strconv.Itoa(snap.Success),
		strconv.Itoa(snap.Failed),
	}
	if err := r.batches.Append(record); err != nil {
		slog.Error("failed to append batch record", "error", err)
	}
}
