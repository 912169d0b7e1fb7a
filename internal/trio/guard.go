// Package trio は1日1回のトリオ（3人組）編成を扱う。
package trio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dailytrio/internal/model"
	"github.com/hitoshi/dailytrio/internal/repository"
)

// DefaultCommitTimeout はストア操作1回あたりのタイムアウトのデフォルト値。
const DefaultCommitTimeout = 5 * time.Second

// Guard はキューとトリオへの書き込みを一手に引き受ける。
// 「1ユーザーは1日に1つのトリオにしか所属しない」「トリオに所属したユーザーはその日のキューにいない」
// の2つを、全ての書き込みを単一トランザクション内の検査と更新で行うことで保証する。
type Guard struct {
	store   repository.GroupingStore
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

// NewGuard はGuardを生成する。timeoutが0以下の場合はDefaultCommitTimeoutを使う。
func NewGuard(store repository.GroupingStore, logger *slog.Logger, timeout time.Duration) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultCommitTimeout
	}
	return &Guard{
		store:   store,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Reserve はユーザーを指定日のキューに追加する。
// 既にキューにいる場合はErrAlreadyQueued、既にトリオに所属している場合はErrAlreadyGroupedを返す。
func (g *Guard) Reserve(ctx context.Context, userID string, day model.Day) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", model.ErrInvalidGroup)
	}

	lock := repository.LockSet{Day: day, Keys: []string{userID}}
	return g.run(ctx, lock, func(ctx context.Context, tx repository.GroupingTx) error {
		entry, err := tx.FindQueueEntry(ctx, userID, day)
		if err != nil {
			return err
		}
		if entry != nil {
			return model.ErrAlreadyQueued
		}

		trio, err := tx.FindTrioByMember(ctx, userID, day)
		if err != nil {
			return err
		}
		if trio != nil {
			return model.ErrAlreadyGrouped
		}

		err = tx.InsertQueueEntry(ctx, model.QueueEntry{UserID: userID, Day: day, JoinedAt: g.now().UTC()})
		if errors.Is(err, repository.ErrDuplicate) {
			return model.ErrAlreadyQueued
		}
		return err
	})
}

// Release はユーザーを指定日のキューから外す。キューにいない場合は何もしない。
func (g *Guard) Release(ctx context.Context, userID string, day model.Day) (bool, error) {
	var removed bool
	lock := repository.LockSet{Day: day, Keys: []string{userID}}
	err := g.run(ctx, lock, func(ctx context.Context, tx repository.GroupingTx) error {
		var err error
		removed, err = tx.DeleteQueueEntry(ctx, userID, day)
		return err
	})
	return removed, err
}

// CommitGroup はキューにいる3人をトリオとして確定する。
// 1人でもキューから外れている、または既にトリオに所属している場合は何も書き込まずに
// ErrConflictingMembershipを返す。
func (g *Guard) CommitGroup(ctx context.Context, day model.Day, userIDs []string) (*model.Trio, error) {
	if err := validateGroup(userIDs, model.TrioSize, model.TrioSize); err != nil {
		return nil, err
	}
	return g.commit(ctx, day, userIDs, true)
}

// CommitRepopulated は管理者の再編成で選ばれた1〜3人をトリオとして確定する。
// キューにいることは要求しないが、いればキューから外す。
func (g *Guard) CommitRepopulated(ctx context.Context, day model.Day, userIDs []string) (*model.Trio, error) {
	if err := validateGroup(userIDs, 1, model.TrioSize); err != nil {
		return nil, err
	}
	return g.commit(ctx, day, userIDs, false)
}

func (g *Guard) commit(ctx context.Context, day model.Day, userIDs []string, requireQueued bool) (*model.Trio, error) {
	trio := &model.Trio{
		ID:        g.newID(),
		Day:       day,
		Members:   append([]string(nil), userIDs...),
		CreatedAt: g.now().UTC(),
	}

	lock := repository.LockSet{Day: day, Keys: userIDs}
	err := g.run(ctx, lock, func(ctx context.Context, tx repository.GroupingTx) error {
		for _, userID := range userIDs {
			existing, err := tx.FindTrioByMember(ctx, userID, day)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("%w: user %s is already in trio %s", model.ErrConflictingMembership, userID, existing.ID)
			}

			removed, err := tx.DeleteQueueEntry(ctx, userID, day)
			if err != nil {
				return err
			}
			if requireQueued && !removed {
				return fmt.Errorf("%w: user %s is no longer queued", model.ErrConflictingMembership, userID)
			}
		}
		return tx.InsertTrio(ctx, *trio)
	})
	if err != nil {
		return nil, err
	}
	return trio, nil
}

// FillPartial はキューにいるユーザーを定員未満のトリオに追加する。
// トリオが既に埋まっている、消えている、またはユーザーの状態が変わっていた場合は
// ErrConflictingMembershipを返す。
func (g *Guard) FillPartial(ctx context.Context, day model.Day, trioID, userID string) (*model.Trio, error) {
	var filled *model.Trio
	lock := repository.LockSet{Day: day, Keys: []string{trioKey(trioID), userID}}
	err := g.run(ctx, lock, func(ctx context.Context, tx repository.GroupingTx) error {
		trio, err := tx.FindTrio(ctx, trioID)
		if err != nil {
			return err
		}
		if trio == nil || trio.Day != day || !trio.IsPartial() {
			return fmt.Errorf("%w: trio %s is no longer open", model.ErrConflictingMembership, trioID)
		}

		existing, err := tx.FindTrioByMember(ctx, userID, day)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: user %s is already in trio %s", model.ErrConflictingMembership, userID, existing.ID)
		}

		removed, err := tx.DeleteQueueEntry(ctx, userID, day)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: user %s is no longer queued", model.ErrConflictingMembership, userID)
		}

		if err := tx.AddTrioMember(ctx, trio.ID, day, userID, len(trio.Members)+1); err != nil {
			return err
		}
		trio.Members = append(trio.Members, userID)
		filled = trio
		return nil
	})
	if err != nil {
		return nil, err
	}
	return filled, nil
}

// Wipe はscopeに含まれるトリオとキューを削除する。
// 削除中はその日（Allの場合は全日付）の書き込みを排他する。
func (g *Guard) Wipe(ctx context.Context, scope model.WipeScope) (model.WipeResult, error) {
	var result model.WipeResult
	lock := repository.LockSet{Day: scope.Day, ExclusiveDay: true, ExclusiveAll: scope.All}
	err := g.run(ctx, lock, func(ctx context.Context, tx repository.GroupingTx) error {
		var err error
		result, err = tx.DeleteScope(ctx, scope)
		return err
	})
	return result, err
}

// FindTrio はユーザーが指定日に所属するトリオを返す。所属していない場合はnilを返す。
func (g *Guard) FindTrio(ctx context.Context, userID string, day model.Day) (*model.Trio, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	trio, err := g.store.FindTrioByMember(ctx, userID, day)
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	return trio, nil
}

// QueueEntries は指定日のキューを並んだ順に返す。
func (g *Guard) QueueEntries(ctx context.Context, day model.Day) ([]model.QueueEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	entries, err := g.store.ListQueue(ctx, day)
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	return entries, nil
}

// Trios は指定日のトリオを作成順に返す。
func (g *Guard) Trios(ctx context.Context, day model.Day) ([]model.Trio, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	trios, err := g.store.ListTrios(ctx, day)
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	return trios, nil
}

// PartialTrios は指定日の定員未満のトリオを作成順に返す。
func (g *Guard) PartialTrios(ctx context.Context, day model.Day) ([]model.Trio, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	trios, err := g.store.ListPartialTrios(ctx, day)
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	return trios, nil
}

// run はタイムアウト付きでトランザクションを実行し、エラーをドメインエラーに変換する。
func (g *Guard) run(ctx context.Context, lock repository.LockSet, fn func(ctx context.Context, tx repository.GroupingTx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.store.WithinTx(txCtx, lock, fn); err != nil {
		return g.classify(txCtx, err)
	}
	return nil
}

// classify はストアから返ったエラーをドメインエラーに変換する。
// ドメインエラーはそのまま返し、一意制約違反とシリアライズ失敗は競合として扱う。
// 呼び出し元のキャンセルはcontext.Canceledとして返す。
// それ以外（接続断、タイムアウト等）はErrStoreUnavailableとする。
func (g *Guard) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, model.ErrAlreadyQueued),
		errors.Is(err, model.ErrAlreadyGrouped),
		errors.Is(err, model.ErrConflictingMembership),
		errors.Is(err, model.ErrInvalidGroup):
		return err
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, repository.ErrSerialization):
		return fmt.Errorf("%w: %w", model.ErrConflictingMembership, err)
	case errors.Is(ctx.Err(), context.Canceled):
		// ドライバによってはキャンセルをcontext.Canceledとして返さない
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %w", context.Canceled, err)
	default:
		g.logger.Warn("grouping store operation failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
}

// validateGroup はメンバー数と重複を検査する。
func validateGroup(userIDs []string, minSize, maxSize int) error {
	if len(userIDs) < minSize || len(userIDs) > maxSize {
		return fmt.Errorf("%w: got %d members, want %d..%d", model.ErrInvalidGroup, len(userIDs), minSize, maxSize)
	}
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			return fmt.Errorf("%w: empty user id", model.ErrInvalidGroup)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate member %s", model.ErrInvalidGroup, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// trioKey はトリオ単位のロックキー。ユーザーIDと衝突しないよう接頭辞を付ける。
func trioKey(trioID string) string {
	return "trio:" + trioID
}
