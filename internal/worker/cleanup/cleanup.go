// Package cleanup は過去日のキューとトリオの自動削除ジョブを提供する。
// 前日以前のキューは翌日には意味を持たないため即時に、トリオは保持期間
// （デフォルト30日）を超えたものを日次バッチで削除する。
// trio_membersはCASCADE削除で自動的に処理される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dailytrio/internal/model"
)

// DefaultRetentionDays はトリオの保持日数のデフォルト値。
const DefaultRetentionDays = 30

// Purger は過去日データの削除インターフェース。repository.GroupingStoreが実装する。
type Purger interface {
	DeleteQueueBefore(ctx context.Context, before model.Day) (int64, error)
	DeleteTriosBefore(ctx context.Context, before model.Day) (int64, error)
}

// CleanupJob は過去日のキューと保持期間を超過したトリオの削除ジョブ。
// 冪等であり、何度実行しても同じ結果になる。
type CleanupJob struct {
	store         Purger
	today         func() model.Day
	logger        *slog.Logger
	RetentionDays int // トリオの保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// todayはサービスのタイムゾーンでの今日を返す関数。
func NewCleanupJob(store Purger, today func() model.Day, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		store:         store,
		today:         today,
		logger:        logger,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は今日より前のキューと、今日からRetentionDays日より前のトリオを削除する。
// 今日のデータは保持期間に関わらず削除しない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	today := j.today()

	queueDeleted, err := j.store.DeleteQueueBefore(ctx, today)
	if err != nil {
		j.logger.Error("queue cleanup failed",
			slog.String("error", err.Error()),
			slog.String("day", today.String()),
		)
		return fmt.Errorf("failed to clean up queue entries: %w", err)
	}

	retention := max(j.RetentionDays, 0)
	cutoff := today.AddDays(-retention)
	triosDeleted, err := j.store.DeleteTriosBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("trio cleanup failed",
			slog.String("error", err.Error()),
			slog.String("cutoff", cutoff.String()),
			slog.Int("retention_days", retention),
		)
		return fmt.Errorf("failed to clean up trios: %w", err)
	}

	j.logger.Info("cleanup finished",
		slog.Int64("queue_entries_deleted", queueDeleted),
		slog.Int64("trios_deleted", triosDeleted),
		slog.String("cutoff", cutoff.String()),
		slog.Int("retention_days", retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はinterval間隔でRunを実行する。起動直後にも1回実行する。
// 失敗はログに記録して次の周期で再試行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("cleanup job started", slog.Duration("interval", interval))
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup job stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
