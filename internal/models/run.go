package models

import "time"

// Run は1回のパイプライン実行の記録
type Run struct {
	ID             string     `json:"id"`
	Mode           string     `json:"mode"`
	StartID        uint64     `json:"start_id"`
	EndID          uint64     `json:"end_id"`
	BatchSize      int        `json:"batch_size"`
	Status         string     `json:"status"`
	Total          int        `json:"total"`
	AlreadyRefined int        `json:"already_refined"`
	Processed      int        `json:"processed"`
	Success        int        `json:"success"`
	Failed         int        `json:"failed"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// アドレッシングモード
const (
	ModeDirect = "direct" // 連続するファイルIDを直接走査
	ModeIndex  = "index"  // レジストリのインデックス経由でIDを解決
)

// 実行ステータス
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
)
