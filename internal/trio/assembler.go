package trio

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/dailytrio/internal/metrics"
	"github.com/hitoshi/dailytrio/internal/model"
)

// DefaultMaxRounds はキュー編成で競合が起きたときに再読み込みする上限回数のデフォルト値。
const DefaultMaxRounds = 5

// GroupFailure は競合以外の理由で確定できなかったグループを表す。
type GroupFailure struct {
	Members []string
	Err     error
}

// BatchResult は1回の編成処理の結果を表す。
type BatchResult struct {
	Day model.Day
	// Candidates は最後のラウンドで対象になったユーザー数。
	Candidates int
	// Attempted は確定を試みたグループ数（部分トリオへの追加は含まない）。
	Attempted int
	// Formed は新たに作成されたトリオ。
	Formed []model.Trio
	// Filled は既存の部分トリオにメンバーを追加した結果。
	Filled []model.Trio
	// Conflicts は他の処理と競合して確定できなかった回数。
	Conflicts int
	// Failures は競合以外の理由で確定できなかったグループ。
	Failures []GroupFailure
	// Rounds はキュー編成で実行したラウンド数。
	Rounds int

	filledMembers int
}

// UsersGrouped は新たにトリオに所属したユーザー数を返す。
func (r *BatchResult) UsersGrouped() int {
	n := 0
	for _, t := range r.Formed {
		n += len(t.Members)
	}
	return n + r.filledMembers
}

// upsertFilled はFilledに同じトリオがあれば置き換え、なければ追加する。
func (r *BatchResult) upsertFilled(trio model.Trio) {
	r.filledMembers++
	for i := range r.Filled {
		if r.Filled[i].ID == trio.ID {
			r.Filled[i] = trio
			return
		}
	}
	r.Filled = append(r.Filled, trio)
}

// Assembler はキューまたは指定されたユーザー集合からトリオを編成する。
// 書き込みはすべてGuardを経由する。
type Assembler struct {
	guard     *Guard
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	maxRounds int
	intN      func(n int) int
}

// NewAssembler はAssemblerを生成する。maxRoundsが0以下の場合はDefaultMaxRoundsを使う。
func NewAssembler(guard *Guard, logger *slog.Logger, m metrics.MetricsCollector, maxRounds int) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Assembler{
		guard:     guard,
		logger:    logger,
		metrics:   m,
		maxRounds: maxRounds,
		intN:      defaultIntN,
	}
}

// AssembleQueue は指定日のキューから3人組をできるだけ多く確定する。
// 3人に満たない余りはトリオを作らずキューに残すが、管理者の再編成で作られた
// 部分トリオがあればそこへ追加する。
// 競合が起きたラウンドはキューを読み直して再試行するため、同時にjoinした
// ユーザーがキューに取り残されることはない。
func (a *Assembler) AssembleQueue(ctx context.Context, day model.Day) (*BatchResult, error) {
	start := time.Now()
	defer func() { a.metrics.RecordAssemblyLatency(metrics.SourceQueue, time.Since(start)) }()

	result := &BatchResult{Day: day}
	for round := 1; round <= a.maxRounds; round++ {
		entries, err := a.guard.QueueEntries(ctx, day)
		if err != nil {
			return result, err
		}
		if len(entries) == 0 {
			break
		}
		result.Rounds = round

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.UserID
		}
		result.Candidates = len(ids)

		conflicts := 0
		var remainder []string
		for _, group := range chunk(shuffle(ids, a.intN), model.TrioSize) {
			if len(group) < model.TrioSize {
				remainder = group
				continue
			}
			result.Attempted++
			trio, err := a.guard.CommitGroup(ctx, day, group)
			if a.record(result, metrics.SourceQueue, group, trio, err) {
				conflicts++
			}
		}

		if len(remainder) > 0 {
			conflicts += a.fillPartials(ctx, day, remainder, result)
		}

		if conflicts == 0 {
			break
		}
		a.logger.Debug("queue assembly round had conflicts, re-reading queue",
			slog.String("day", day.String()),
			slog.Int("round", round),
			slog.Int("conflicts", conflicts),
		)
	}

	return result, nil
}

// fillPartials は余りのユーザーを定員未満のトリオへ順に追加し、競合した回数を返す。
func (a *Assembler) fillPartials(ctx context.Context, day model.Day, users []string, result *BatchResult) int {
	partials, err := a.guard.PartialTrios(ctx, day)
	if err != nil {
		a.logger.Warn("failed to list partial trios",
			slog.String("day", day.String()),
			slog.String("error", err.Error()),
		)
		return 0
	}

	conflicts := 0
	i := 0
	for _, userID := range users {
		for i < len(partials) && !partials[i].IsPartial() {
			i++
		}
		if i >= len(partials) {
			break
		}

		trio, err := a.guard.FillPartial(ctx, day, partials[i].ID, userID)
		switch {
		case err == nil:
			partials[i] = *trio
			result.upsertFilled(*trio)
			a.metrics.RecordTrioFormed(metrics.SourceFill, 1)
			a.logger.Info("partial trio filled",
				slog.String("day", day.String()),
				slog.String("trio_id", trio.ID),
				slog.String("user_id", userID),
				slog.Int("size", len(trio.Members)),
			)
		case errors.Is(err, model.ErrConflictingMembership):
			conflicts++
			result.Conflicts++
			a.metrics.RecordCommitConflict(metrics.SourceFill)
			a.logger.Warn("partial trio fill conflicted",
				slog.String("day", day.String()),
				slog.String("trio_id", partials[i].ID),
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			i++
		default:
			result.Failures = append(result.Failures, GroupFailure{Members: []string{userID}, Err: err})
			a.metrics.RecordCommitFailure(metrics.SourceFill)
			a.logger.Log(ctx, failureLevel(err), "partial trio fill failed",
				slog.String("day", day.String()),
				slog.String("trio_id", partials[i].ID),
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return conflicts
}

// AssemblePopulation は指定されたユーザー全員を3人ずつのトリオに分けて確定する。
// 余りの1〜2人は部分トリオとして確定する。キューにいることは要求しない。
// 個々のグループの失敗は他のグループに影響せず、結果に集計される。
func (a *Assembler) AssemblePopulation(ctx context.Context, day model.Day, userIDs []string) *BatchResult {
	start := time.Now()
	defer func() { a.metrics.RecordAssemblyLatency(metrics.SourceRandomize, time.Since(start)) }()

	ids := dedupe(userIDs)
	result := &BatchResult{Day: day, Candidates: len(ids), Rounds: 1}
	for _, group := range chunk(shuffle(ids, a.intN), model.TrioSize) {
		result.Attempted++
		trio, err := a.guard.CommitRepopulated(ctx, day, group)
		a.record(result, metrics.SourceRandomize, group, trio, err)
	}
	return result
}

// record はグループ確定の結果を集計する。競合だった場合はtrueを返す。
func (a *Assembler) record(result *BatchResult, source string, group []string, trio *model.Trio, err error) bool {
	switch {
	case err == nil:
		result.Formed = append(result.Formed, *trio)
		a.metrics.RecordTrioFormed(source, len(trio.Members))
		a.logger.Info("trio formed",
			slog.String("source", source),
			slog.String("day", trio.Day.String()),
			slog.String("trio_id", trio.ID),
			slog.Any("members", trio.Members),
		)
		return false
	case errors.Is(err, model.ErrConflictingMembership):
		result.Conflicts++
		a.metrics.RecordCommitConflict(source)
		a.logger.Warn("group commit conflicted",
			slog.String("source", source),
			slog.String("day", result.Day.String()),
			slog.Any("members", group),
			slog.String("error", err.Error()),
		)
		return true
	default:
		result.Failures = append(result.Failures, GroupFailure{Members: group, Err: err})
		a.metrics.RecordCommitFailure(source)
		a.logger.Log(context.Background(), failureLevel(err), "group commit failed",
			slog.String("source", source),
			slog.String("day", result.Day.String()),
			slog.Any("members", group),
			slog.String("error", err.Error()),
		)
		return false
	}
}

// failureLevel は確定失敗のログレベルを返す。呼び出し元の切断はサービスの異常ではないためDebugに落とす。
func failureLevel(err error) slog.Level {
	if errors.Is(err, context.Canceled) {
		return slog.LevelDebug
	}
	return slog.LevelError
}

// dedupe は順序を保ったまま重複と空文字を取り除く。
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
