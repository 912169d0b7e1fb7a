// Package sweep はキューに残ったユーザーを定期的に編成し直すスイーパーを提供する。
// join直後の編成が競合やストア障害で完了しなかったユーザーを拾う。
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/dailytrio/internal/metrics"
	"github.com/hitoshi/dailytrio/internal/model"
	"github.com/hitoshi/dailytrio/internal/trio"
)

// QueueCounter はキュー人数の取得インターフェース。
type QueueCounter interface {
	CountQueue(ctx context.Context, day model.Day) (int, error)
}

// QueueAssembler はキュー編成の実行インターフェース。trio.Assemblerが実装する。
type QueueAssembler interface {
	AssembleQueue(ctx context.Context, day model.Day) (*trio.BatchResult, error)
}

// Sweeper は一定間隔で今日のキューを確認し、待機者がいれば編成を実行する。
// ストア障害が続く間は指数バックオフでサイクルを間引く。
type Sweeper struct {
	counter   QueueCounter
	assembler QueueAssembler
	today     func() model.Day
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time

	mu                sync.Mutex
	consecutiveErrors int
	nextRunAt         time.Time
}

// NewSweeper はSweeperを生成する。todayはサービスのタイムゾーンでの今日を返す関数。
func NewSweeper(counter QueueCounter, assembler QueueAssembler, today func() model.Day, m metrics.MetricsCollector, logger *slog.Logger) *Sweeper {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		counter:   counter,
		assembler: assembler,
		today:     today,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Start はinterval間隔のティッカーでスイーパーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("assembly sweeper started", slog.Duration("interval", interval))

	// 起動直後に1回実行
	s.tick(ctx, interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("assembly sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx, interval)
		}
	}
}

// tick はバックオフ中でなければRunOnceを実行し、結果に応じてバックオフを更新する。
func (s *Sweeper) tick(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	skip := s.now().Before(s.nextRunAt)
	s.mu.Unlock()
	if skip {
		return
	}

	err := s.RunOnce(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.consecutiveErrors = 0
		s.nextRunAt = time.Time{}
		return
	}
	if ctx.Err() != nil {
		return
	}
	s.consecutiveErrors++
	delay := CalculateBackoff(interval, s.consecutiveErrors)
	s.nextRunAt = s.now().Add(delay)
	s.logger.Error("assembly sweep failed",
		slog.String("error", err.Error()),
		slog.Int("consecutive_errors", s.consecutiveErrors),
		slog.Duration("backoff", delay),
	)
}

// RunOnce は今日のキューを1回確認し、待機者がいれば編成する。
// 1〜2人でも編成を呼ぶのは、再編成で作られた部分トリオへの追加があるため。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := s.now()
	day := s.today()

	count, err := s.counter.CountQueue(ctx, day)
	if err != nil {
		return err
	}
	s.metrics.SetQueueLength(count)

	if count == 0 {
		s.logger.Debug("queue is empty", slog.String("day", day.String()))
		return nil
	}

	result, err := s.assembler.AssembleQueue(ctx, day)
	if err != nil {
		return err
	}

	if remaining, err := s.counter.CountQueue(ctx, day); err == nil {
		s.metrics.SetQueueLength(remaining)
	}

	s.logger.Info("assembly sweep finished",
		slog.String("day", day.String()),
		slog.Int("queued", count),
		slog.Int("trios_formed", len(result.Formed)),
		slog.Int("partials_filled", len(result.Filled)),
		slog.Int("conflicts", result.Conflicts),
		slog.Int("failures", len(result.Failures)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return nil
}
