package trio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/dailytrio/internal/identity"
	"github.com/hitoshi/dailytrio/internal/metrics"
	"github.com/hitoshi/dailytrio/internal/model"
	"github.com/hitoshi/dailytrio/internal/repository"
)

// RandomizeResult はランダム再編成の結果を表す。
type RandomizeResult struct {
	Day             model.Day
	Population      int
	Wiped           model.WipeResult
	GroupsAttempted int
	GroupsFormed    int
	Conflicts       int
	Failures        []GroupFailure
	// PartialSize は余りとして作られた部分トリオの人数（0〜2）。
	PartialSize  int
	UsersGrouped int
	Trios        []model.Trio
}

// Complete は全てのグループが確定したかを返す。
func (r *RandomizeResult) Complete() bool {
	return r.GroupsFormed == r.GroupsAttempted
}

// Summary は運用者向けの集計文を返す。
// 例: "formed 14 of 15 groups, 1 conflict; re-run verify"
func (r *RandomizeResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "formed %d of %d groups", r.GroupsFormed, r.GroupsAttempted)
	if r.Conflicts > 0 {
		fmt.Fprintf(&b, ", %d %s", r.Conflicts, plural(r.Conflicts, "conflict", "conflicts"))
	}
	if n := len(r.Failures); n > 0 {
		fmt.Fprintf(&b, ", %d %s", n, plural(n, "failure", "failures"))
	}
	if !r.Complete() {
		b.WriteString("; re-run verify")
	}
	return b.String()
}

// VerifiedTrio は検証用にメンバー情報を解決したトリオ。
type VerifiedTrio struct {
	ID        string
	Members   []model.Member
	CreatedAt time.Time
	Partial   bool
}

// VerifyReport はverifyの結果を表す。
type VerifyReport struct {
	Day           model.Day
	Trios         []VerifiedTrio
	DistinctUsers int
	PartialTrios  int
}

// Admin は管理者向けの一括操作を提供する。
// 呼び出し元が管理者かどうかは認証基盤から渡された値をそのまま信頼する。
type Admin struct {
	guard     *Guard
	assembler *Assembler
	directory repository.UserDirectory
	sanitizer *bluemonday.Policy
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewAdmin はAdminを生成する。
func NewAdmin(guard *Guard, assembler *Assembler, directory repository.UserDirectory, m metrics.MetricsCollector, logger *slog.Logger) *Admin {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{
		guard:     guard,
		assembler: assembler,
		directory: directory,
		sanitizer: bluemonday.StrictPolicy(),
		metrics:   m,
		logger:    logger,
	}
}

// Randomize は指定日のトリオとキューを全て削除し、アクティブなユーザー全員で編成し直す。
// アクティブユーザーが3人未満の場合は何も変更せずにErrInsufficientUsersを返す。
// 一部のグループが確定できなかった場合もエラーにはせず、結果に集計して返す。
func (a *Admin) Randomize(ctx context.Context, caller identity.Identity, day model.Day) (*RandomizeResult, error) {
	if !caller.IsAdmin {
		return nil, model.ErrForbidden
	}

	ids, err := a.directory.ListActiveUserIDs(ctx)
	if err != nil {
		a.metrics.RecordRandomize("error")
		return nil, fmt.Errorf("%w: failed to list active users: %w", model.ErrStoreUnavailable, err)
	}
	ids = dedupe(ids)
	if len(ids) < model.TrioSize {
		a.metrics.RecordRandomize("insufficient")
		return nil, fmt.Errorf("%w: %d active users, need at least %d", model.ErrInsufficientUsers, len(ids), model.TrioSize)
	}

	wiped, err := a.guard.Wipe(ctx, model.DayScope(day))
	if err != nil {
		a.metrics.RecordRandomize("error")
		return nil, err
	}

	batch := a.assembler.AssemblePopulation(ctx, day, ids)

	result := &RandomizeResult{
		Day:             day,
		Population:      len(ids),
		Wiped:           wiped,
		GroupsAttempted: batch.Attempted,
		GroupsFormed:    len(batch.Formed),
		Conflicts:       batch.Conflicts,
		Failures:        batch.Failures,
		UsersGrouped:    batch.UsersGrouped(),
		Trios:           batch.Formed,
	}
	for _, t := range batch.Formed {
		if t.IsPartial() {
			result.PartialSize = len(t.Members)
		}
	}

	outcome := "complete"
	if !result.Complete() {
		outcome = "partial"
	}
	a.metrics.RecordRandomize(outcome)
	a.logger.Info("randomize finished",
		slog.String("user_id", caller.UserID),
		slog.String("day", day.String()),
		slog.Int("population", result.Population),
		slog.Int64("trios_wiped", wiped.TriosDeleted),
		slog.String("summary", result.Summary()),
	)
	return result, nil
}

// Delete はscopeに含まれるトリオとキューを削除する。
func (a *Admin) Delete(ctx context.Context, caller identity.Identity, scope model.WipeScope) (model.WipeResult, error) {
	if !caller.IsAdmin {
		return model.WipeResult{}, model.ErrForbidden
	}

	result, err := a.guard.Wipe(ctx, scope)
	if err != nil {
		return model.WipeResult{}, err
	}

	a.logger.Info("trios deleted",
		slog.String("user_id", caller.UserID),
		slog.String("scope", scope.String()),
		slog.Int64("trios_deleted", result.TriosDeleted),
		slog.Int64("queue_entries_deleted", result.QueueEntriesDeleted),
	)
	return result, nil
}

// Verify は指定日のトリオをメンバー情報付きで返す。読み取りのみ。
func (a *Admin) Verify(ctx context.Context, caller identity.Identity, day model.Day) (*VerifyReport, error) {
	if !caller.IsAdmin {
		return nil, model.ErrForbidden
	}

	trios, err := a.guard.Trios(ctx, day)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, t := range trios {
		ids = append(ids, t.Members...)
	}
	ids = dedupe(ids)

	members, err := a.directory.ResolveMembers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve members: %w", model.ErrStoreUnavailable, err)
	}

	report := &VerifyReport{Day: day, DistinctUsers: len(ids), Trios: make([]VerifiedTrio, 0, len(trios))}
	for _, t := range trios {
		vt := VerifiedTrio{ID: t.ID, CreatedAt: t.CreatedAt, Partial: t.IsPartial()}
		for _, userID := range t.Members {
			m, ok := members[userID]
			if !ok {
				m = model.Member{UserID: userID}
			}
			// 表示名は外部のプロフィール編集で自由入力されるためタグを除去する
			m.DisplayName = a.sanitizer.Sanitize(m.DisplayName)
			vt.Members = append(vt.Members, m)
		}
		if vt.Partial {
			report.PartialTrios++
		}
		report.Trios = append(report.Trios, vt)
	}
	return report, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
