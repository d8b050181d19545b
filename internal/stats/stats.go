package stats

import "sync"

// Stats は実行またはサブバッチ単位の集計カウンタ。
// サブバッチ内のファイルはゴルーチンで並行処理されるため、
// すべての増分はミューテックスで保護する。
type Stats struct {
	mu             sync.Mutex
	total          int
	alreadyRefined int
	processed      int
	success        int
	failed         int
}

// Snapshot はある時点のカウンタ値のコピー
type Snapshot struct {
	Total          int `json:"total"`
	AlreadyRefined int `json:"already_refined"`
	Processed      int `json:"processed"`
	Success        int `json:"success"`
	Failed         int `json:"failed"`
}

// IncTotal は検査対象ファイル数を1増やす
func (s *Stats) IncTotal() {
	s.mu.Lock()
	s.total++
	s.mu.Unlock()
}

// IncAlreadyRefined は精製済みファイル数を1増やす
func (s *Stats) IncAlreadyRefined() {
	s.mu.Lock()
	s.alreadyRefined++
	s.mu.Unlock()
}

// IncProcessed は処理着手ファイル数を1増やす
func (s *Stats) IncProcessed() {
	s.mu.Lock()
	s.processed++
	s.mu.Unlock()
}

// IncSuccess は成功ファイル数を1増やす
func (s *Stats) IncSuccess() {
	s.mu.Lock()
	s.success++
	s.mu.Unlock()
}

// IncFailed は失敗ファイル数を1増やす
func (s *Stats) IncFailed() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

// Merge はサブバッチのスナップショットを実行全体のカウンタへ合算する
func (s *Stats) Merge(snap Snapshot) {
	s.mu.Lock()
	s.total += snap.Total
	s.alreadyRefined += snap.AlreadyRefined
	s.processed += snap.Processed
	s.success += snap.Success
	s.failed += snap.Failed
	s.mu.Unlock()
}

// Snapshot は現在のカウンタ値を返す
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Total:          s.total,
		AlreadyRefined: s.alreadyRefined,
		Processed:      s.processed,
		Success:        s.success,
		Failed:         s.failed,
	}
}
