package trio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dailytrio/internal/metrics"
	"github.com/hitoshi/dailytrio/internal/model"
)

// JoinStatus はjoinの結果種別。
type JoinStatus string

const (
	// JoinMatched はユーザーがトリオに所属している状態。
	JoinMatched JoinStatus = "matched"
	// JoinQueued はユーザーがキューで待っている状態。
	JoinQueued JoinStatus = "queued"
)

// JoinResult はjoinの結果を表す。
type JoinResult struct {
	Status JoinStatus
	Day    model.Day
	// Trio はStatusがmatchedの場合に所属しているトリオ。
	Trio *model.Trio
	// Position はStatusがqueuedの場合のキュー内の順位（joined_at順、1始まり）。
	Position int
	// QueueSize はStatusがqueuedの場合のキュー人数（本人を含む）。
	// QueueStatus.QueueCountと違い本人も数える。
	QueueSize int
	// AlreadyGrouped はjoin前から既にトリオに所属していた場合にtrue。
	AlreadyGrouped bool
}

// QueueStatus はstatusの結果を表す。
type QueueStatus struct {
	Day     model.Day
	InQueue bool
	// QueueCount は本人以外にキューで待っている人数。
	QueueCount int
	// Position はキューにいる場合の順位（1始まり）。いない場合は0。
	Position int
	// Trio は当日に所属しているトリオ。所属していない場合はnil。
	Trio *model.Trio
}

// QueueManager はユーザー操作（join, leave, status）を受け付ける。
type QueueManager struct {
	guard     *Guard
	assembler *Assembler
	clock     func() time.Time
	loc       *time.Location
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewQueueManager はQueueManagerを生成する。
// locは「今日」を決めるサービスのタイムゾーン。nilの場合はUTC。
func NewQueueManager(guard *Guard, assembler *Assembler, loc *time.Location, m metrics.MetricsCollector, logger *slog.Logger) *QueueManager {
	if loc == nil {
		loc = time.UTC
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueManager{
		guard:     guard,
		assembler: assembler,
		clock:     time.Now,
		loc:       loc,
		metrics:   m,
		logger:    logger,
	}
}

// Today は現在時刻をサービスのタイムゾーンで暦日に変換する。
func (m *QueueManager) Today() model.Day {
	return model.DayOf(m.clock(), m.loc)
}

// Join はユーザーを今日のキューに並べ、可能であればその場でトリオを編成する。
// 既にトリオに所属している場合はエラーではなく既存のトリオを返す。
// 日付はこの呼び出しの開始時に一度だけ決め、以降の処理はすべてその日に対して行う。
func (m *QueueManager) Join(ctx context.Context, userID string) (*JoinResult, error) {
	day := m.Today()

	err := m.guard.Reserve(ctx, userID, day)
	switch {
	case errors.Is(err, model.ErrAlreadyGrouped):
		trio, err := m.guard.FindTrio(ctx, userID, day)
		if err != nil {
			m.metrics.RecordJoin("error")
			return nil, err
		}
		if trio == nil {
			// 所属確認の直後にwipeされた
			m.metrics.RecordJoin("error")
			return nil, fmt.Errorf("%w: trio for user %s disappeared", model.ErrConflictingMembership, userID)
		}
		m.metrics.RecordJoin("already_grouped")
		return &JoinResult{Status: JoinMatched, Day: day, Trio: trio, AlreadyGrouped: true}, nil
	case errors.Is(err, model.ErrAlreadyQueued):
		// 前回のjoinの再試行。編成だけやり直す。
	case err != nil:
		m.metrics.RecordJoin("error")
		return nil, err
	}

	if _, err := m.assembler.AssembleQueue(ctx, day); err != nil {
		// 予約は成立しているため、編成はスイーパーに任せてキュー状態を返す。
		m.logger.Warn("assembly after join failed",
			slog.String("user_id", userID),
			slog.String("day", day.String()),
			slog.String("error", err.Error()),
		)
	}

	trio, err := m.guard.FindTrio(ctx, userID, day)
	if err != nil {
		m.metrics.RecordJoin("error")
		return nil, err
	}
	if trio != nil {
		m.metrics.RecordJoin(string(JoinMatched))
		return &JoinResult{Status: JoinMatched, Day: day, Trio: trio}, nil
	}

	entries, err := m.guard.QueueEntries(ctx, day)
	if err != nil {
		m.metrics.RecordJoin("error")
		return nil, err
	}
	m.metrics.SetQueueLength(len(entries))

	position := positionOf(entries, userID)
	if position == 0 {
		// 読み取りの間に並行する編成でトリオに入った可能性がある
		trio, err := m.guard.FindTrio(ctx, userID, day)
		if err != nil {
			m.metrics.RecordJoin("error")
			return nil, err
		}
		if trio != nil {
			m.metrics.RecordJoin(string(JoinMatched))
			return &JoinResult{Status: JoinMatched, Day: day, Trio: trio}, nil
		}
		// leaveまたはwipeされた
		m.metrics.RecordJoin("error")
		return nil, fmt.Errorf("%w: user %s left the queue during join", model.ErrConflictingMembership, userID)
	}

	m.metrics.RecordJoin(string(JoinQueued))
	return &JoinResult{Status: JoinQueued, Day: day, Position: position, QueueSize: len(entries)}, nil
}

// Leave はユーザーを今日のキューから外す。キューにいない場合も成功として扱う。
func (m *QueueManager) Leave(ctx context.Context, userID string) error {
	removed, err := m.guard.Release(ctx, userID, m.Today())
	if err != nil {
		return err
	}
	m.metrics.RecordLeave(removed)
	return nil
}

// Status はユーザーの今日のキュー状態と所属トリオを返す。
// 順位は読み取り時点のjoined_atから計算した目安であり、並行するjoinにより変わりうる。
func (m *QueueManager) Status(ctx context.Context, userID string) (*QueueStatus, error) {
	day := m.Today()

	entries, err := m.guard.QueueEntries(ctx, day)
	if err != nil {
		return nil, err
	}
	m.metrics.SetQueueLength(len(entries))

	status := &QueueStatus{Day: day, QueueCount: len(entries)}
	if pos := positionOf(entries, userID); pos > 0 {
		status.InQueue = true
		status.Position = pos
		status.QueueCount--
	}

	trio, err := m.guard.FindTrio(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	status.Trio = trio
	return status, nil
}

// positionOf はentries内のuserIDの1始まりの順位を返す。いない場合は0。
func positionOf(entries []model.QueueEntry, userID string) int {
	for i, e := range entries {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}
