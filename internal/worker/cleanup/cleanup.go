// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// セッションの有効性はSQLの期限フィルタで保証されるため、
// このジョブは正しさではなくテーブル肥大の抑制のために動く。
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/importdash/internal/repository"
)

// MetricsRecorder は削除件数のメトリクス記録インターフェース。nilを許容する。
type MetricsRecorder interface {
	RecordSessionsPurged(count int64)
}

// Worker は期限切れセッションを定期的に削除する。
type Worker struct {
	sessionRepo repository.SessionRepository
	metrics     MetricsRecorder
	interval    time.Duration
}

// NewWorker はWorkerを生成する。
func NewWorker(sessionRepo repository.SessionRepository, metrics MetricsRecorder, interval time.Duration) *Worker {
	return &Worker{
		sessionRepo: sessionRepo,
		metrics:     metrics,
		interval:    interval,
	}
}

// Run は定期削除ループを開始する。起動直後に1回実行し、
// 以降はinterval間隔で実行する。ctxのキャンセルで停止する。
func (w *Worker) Run(ctx context.Context) {
	slog.Info("session cleanup worker started",
		slog.Duration("interval", w.interval),
	)

	w.purge(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session cleanup worker stopped")
			return
		case <-ticker.C:
			w.purge(ctx)
		}
	}
}

// purge は期限切れセッションを1回削除する。
// 失敗してもループは継続する（次回の実行で再試行される）。
func (w *Worker) purge(ctx context.Context) {
	deleted, err := w.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		slog.Error("failed to delete expired sessions",
			slog.String("error", err.Error()),
		)
		return
	}

	if w.metrics != nil {
		w.metrics.RecordSessionsPurged(deleted)
	}
	if deleted > 0 {
		slog.Info("expired sessions deleted",
			slog.Int64("count", deleted),
		)
	}
}
