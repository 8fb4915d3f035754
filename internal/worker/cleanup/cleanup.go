// Package cleanup は放置されたセッションストレージの自動削除ジョブを提供する。
// ブラウザセッションのCookie有効期限（SESSION_MAX_AGE）を超えて
// 書き込みの無い名前空間のエントリを削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Pruner は一定時刻より古いストレージエントリを削除するインターフェース。
// repository.StorageRepository が満たす。
type Pruner interface {
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
}

// Recorder は削除件数を記録するインターフェース。
type Recorder interface {
	RecordCleanupDeleted(n int64)
}

// CleanupJob は放置セッションの削除ジョブ。
// 冪等であり、削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	store    Pruner
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	MaxAge time.Duration // 最終書き込みからの保持期間（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(store Pruner, recorder Recorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		store:    store,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
		MaxAge:   24 * time.Hour,
	}
}

// Run はMaxAgeより前に最終書き込みされたエントリを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	before := start.Add(-j.MaxAge)

	deleted, err := j.store.DeleteIdle(ctx, before)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("max_age", j.MaxAge),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordCleanupDeleted(deleted)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Duration("max_age", j.MaxAge),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
// 個々の実行の失敗はログに記録して次の周期へ進む。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
