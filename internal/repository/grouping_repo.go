package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/dailytrio/internal/model"
)

// queryer は*sql.DBと*sql.Txの共通操作。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect はドライバごとの差分を表す。
// SQLは "?" プレースホルダで記述し、rebindでドライバの形式に変換する。
type dialect struct {
	// numbered がtrueの場合は "$1, $2, ..." 形式に変換する。
	numbered bool
	// timeArg は時刻をカラムに書き込む値へ変換する。
	timeArg func(t time.Time) any
	// lock はトランザクション開始直後にロックを取得する。
	lock func(ctx context.Context, tx *sql.Tx, lock LockSet) error
	// classify はドライバ固有のエラーをErrDuplicate/ErrSerializationに分類する。
	classify func(err error) error
}

func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// sqlGroupingRepo はdatabase/sqlを使用したGroupingStoreの共通実装。
type sqlGroupingRepo struct {
	db *sql.DB
	d  *dialect
}

// WithinTx はロックを取得したトランザクション内でfnを実行する。
func (r *sqlGroupingRepo) WithinTx(ctx context.Context, lock LockSet, fn func(ctx context.Context, tx GroupingTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", r.d.classify(err))
	}
	defer tx.Rollback()

	if err := r.d.lock(ctx, tx, lock); err != nil {
		return fmt.Errorf("failed to acquire locks: %w", r.d.classify(err))
	}

	if err := fn(ctx, &sqlGroupingTx{q: tx, d: r.d}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", r.d.classify(err))
	}
	return nil
}

// ListQueue は指定日のキューをjoined_at、user_idの昇順で返す。
func (r *sqlGroupingRepo) ListQueue(ctx context.Context, day model.Day) ([]model.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, r.d.rebind(
		`SELECT user_id, day, joined_at FROM queue_entries WHERE day = ? ORDER BY joined_at, user_id`),
		string(day),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var entries []model.QueueEntry
	for rows.Next() {
		var e model.QueueEntry
		if err := rows.Scan(&e.UserID, dayScanner{&e.Day}, timeScanner{&e.JoinedAt}); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}
	return entries, nil
}

// CountQueue は指定日のキュー人数を返す。
func (r *sqlGroupingRepo) CountQueue(ctx context.Context, day model.Day) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.d.rebind(
		`SELECT count(*) FROM queue_entries WHERE day = ?`), string(day),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// ListTrios は指定日のトリオをcreated_at昇順で返す。
func (r *sqlGroupingRepo) ListTrios(ctx context.Context, day model.Day) ([]model.Trio, error) {
	return listTrios(ctx, r.db, r.d, day)
}

// ListPartialTrios は指定日の定員未満のトリオをcreated_at昇順で返す。
func (r *sqlGroupingRepo) ListPartialTrios(ctx context.Context, day model.Day) ([]model.Trio, error) {
	trios, err := listTrios(ctx, r.db, r.d, day)
	if err != nil {
		return nil, err
	}
	partial := trios[:0]
	for _, t := range trios {
		if t.IsPartial() {
			partial = append(partial, t)
		}
	}
	return partial, nil
}

// FindTrioByMember はユーザーが所属する指定日のトリオを返す。
func (r *sqlGroupingRepo) FindTrioByMember(ctx context.Context, userID string, day model.Day) (*model.Trio, error) {
	return findTrioByMember(ctx, r.db, r.d, userID, day)
}

// DeleteQueueBefore はbeforeより前の日付のキューを削除する。
func (r *sqlGroupingRepo) DeleteQueueBefore(ctx context.Context, before model.Day) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.d.rebind(`DELETE FROM queue_entries WHERE day < ?`), string(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale queue entries: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTriosBefore はbeforeより前の日付のトリオを削除する。メンバーはCASCADE削除される。
func (r *sqlGroupingRepo) DeleteTriosBefore(ctx context.Context, before model.Day) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.d.rebind(`DELETE FROM trios WHERE day < ?`), string(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired trios: %w", err)
	}
	return res.RowsAffected()
}

// Ping はストアへの疎通を確認する。
func (r *sqlGroupingRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// sqlGroupingTx はトランザクション内のGroupingTx実装。
type sqlGroupingTx struct {
	q queryer
	d *dialect
}

func (t *sqlGroupingTx) FindQueueEntry(ctx context.Context, userID string, day model.Day) (*model.QueueEntry, error) {
	e := &model.QueueEntry{}
	err := t.q.QueryRowContext(ctx, t.d.rebind(
		`SELECT user_id, day, joined_at FROM queue_entries WHERE day = ? AND user_id = ?`),
		string(day), userID,
	).Scan(&e.UserID, dayScanner{&e.Day}, timeScanner{&e.JoinedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find queue entry: %w", t.d.classify(err))
	}
	return e, nil
}

func (t *sqlGroupingTx) FindTrioByMember(ctx context.Context, userID string, day model.Day) (*model.Trio, error) {
	return findTrioByMember(ctx, t.q, t.d, userID, day)
}

func (t *sqlGroupingTx) FindTrio(ctx context.Context, trioID string) (*model.Trio, error) {
	trio := &model.Trio{}
	err := t.q.QueryRowContext(ctx, t.d.rebind(
		`SELECT id, day, created_at FROM trios WHERE id = ?`), trioID,
	).Scan(&trio.ID, dayScanner{&trio.Day}, timeScanner{&trio.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find trio: %w", t.d.classify(err))
	}
	if trio.Members, err = listMembers(ctx, t.q, t.d, trio.ID); err != nil {
		return nil, err
	}
	return trio, nil
}

func (t *sqlGroupingTx) InsertQueueEntry(ctx context.Context, entry model.QueueEntry) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(
		`INSERT INTO queue_entries (day, user_id, joined_at) VALUES (?, ?, ?)`),
		string(entry.Day), entry.UserID, t.d.timeArg(entry.JoinedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue entry: %w", t.d.classify(err))
	}
	return nil
}

func (t *sqlGroupingTx) DeleteQueueEntry(ctx context.Context, userID string, day model.Day) (bool, error) {
	res, err := t.q.ExecContext(ctx, t.d.rebind(
		`DELETE FROM queue_entries WHERE day = ? AND user_id = ?`), string(day), userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete queue entry: %w", t.d.classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (t *sqlGroupingTx) InsertTrio(ctx context.Context, trio model.Trio) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(
		`INSERT INTO trios (id, day, created_at) VALUES (?, ?, ?)`),
		trio.ID, string(trio.Day), t.d.timeArg(trio.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trio: %w", t.d.classify(err))
	}
	for i, userID := range trio.Members {
		if err := t.AddTrioMember(ctx, trio.ID, trio.Day, userID, i+1); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlGroupingTx) AddTrioMember(ctx context.Context, trioID string, day model.Day, userID string, position int) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(
		`INSERT INTO trio_members (trio_id, day, user_id, position) VALUES (?, ?, ?, ?)`),
		trioID, string(day), userID, position,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trio member: %w", t.d.classify(err))
	}
	return nil
}

func (t *sqlGroupingTx) DeleteScope(ctx context.Context, scope model.WipeScope) (model.WipeResult, error) {
	var result model.WipeResult

	where, args := "", []any{}
	if !scope.All {
		where, args = " WHERE day = ?", []any{string(scope.Day)}
	}

	// メンバーはCASCADEで消えるが、外部キーが無効な接続でも残らないよう明示的に削除する。
	if _, err := t.q.ExecContext(ctx, t.d.rebind(`DELETE FROM trio_members`+where), args...); err != nil {
		return result, fmt.Errorf("failed to delete trio members: %w", t.d.classify(err))
	}
	res, err := t.q.ExecContext(ctx, t.d.rebind(`DELETE FROM trios`+where), args...)
	if err != nil {
		return result, fmt.Errorf("failed to delete trios: %w", t.d.classify(err))
	}
	if result.TriosDeleted, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to get rows affected: %w", err)
	}

	res, err = t.q.ExecContext(ctx, t.d.rebind(`DELETE FROM queue_entries`+where), args...)
	if err != nil {
		return result, fmt.Errorf("failed to delete queue entries: %w", t.d.classify(err))
	}
	if result.QueueEntriesDeleted, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return result, nil
}

func findTrioByMember(ctx context.Context, q queryer, d *dialect, userID string, day model.Day) (*model.Trio, error) {
	trio := &model.Trio{}
	err := q.QueryRowContext(ctx, d.rebind(
		`SELECT t.id, t.day, t.created_at
		 FROM trio_members m
		 JOIN trios t ON t.id = m.trio_id
		 WHERE m.day = ? AND m.user_id = ?`),
		string(day), userID,
	).Scan(&trio.ID, dayScanner{&trio.Day}, timeScanner{&trio.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find trio by member: %w", d.classify(err))
	}
	if trio.Members, err = listMembers(ctx, q, d, trio.ID); err != nil {
		return nil, err
	}
	return trio, nil
}

func listMembers(ctx context.Context, q queryer, d *dialect, trioID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, d.rebind(
		`SELECT user_id FROM trio_members WHERE trio_id = ? ORDER BY position`), trioID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list trio members: %w", d.classify(err))
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan trio member: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trio members: %w", err)
	}
	return members, nil
}

func listTrios(ctx context.Context, q queryer, d *dialect, day model.Day) ([]model.Trio, error) {
	rows, err := q.QueryContext(ctx, d.rebind(
		`SELECT t.id, t.day, t.created_at, m.user_id
		 FROM trios t
		 JOIN trio_members m ON m.trio_id = t.id
		 WHERE t.day = ?
		 ORDER BY t.created_at, t.id, m.position`),
		string(day),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list trios: %w", err)
	}
	defer rows.Close()

	var trios []model.Trio
	for rows.Next() {
		var (
			t      model.Trio
			userID string
		)
		if err := rows.Scan(&t.ID, dayScanner{&t.Day}, timeScanner{&t.CreatedAt}, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan trio: %w", err)
		}
		if n := len(trios); n > 0 && trios[n-1].ID == t.ID {
			trios[n-1].Members = append(trios[n-1].Members, userID)
			continue
		}
		t.Members = []string{userID}
		trios = append(trios, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trios: %w", err)
	}
	return trios, nil
}

// dayScanner はDATE列（time.Time）とTEXT列（string）のどちらからもDayを読み出す。
type dayScanner struct{ d *model.Day }

func (s dayScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.d = model.Day(v.Format(model.DayLayout))
	case string:
		*s.d = model.Day(trimDay(v))
	case []byte:
		*s.d = model.Day(trimDay(string(v)))
	default:
		return fmt.Errorf("unsupported day column type %T", src)
	}
	return nil
}

// trimDay は "2006-01-02T00:00:00Z" 形式で返るドライバに備えて日付部分のみを取り出す。
func trimDay(s string) string {
	if len(s) > len(model.DayLayout) {
		return s[:len(model.DayLayout)]
	}
	return s
}

// timeScanner はTIMESTAMPTZ列（time.Time）とUnixナノ秒のINTEGER列のどちらからも時刻を読み出す。
type timeScanner struct{ t *time.Time }

func (s timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.t = v.UTC()
	case int64:
		*s.t = time.Unix(0, v).UTC()
	case nil:
		*s.t = time.Time{}
	default:
		return fmt.Errorf("unsupported time column type %T", src)
	}
	return nil
}
