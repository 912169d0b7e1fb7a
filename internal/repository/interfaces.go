// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/dailytrio/internal/model"
)

// ストア実装がドライバ固有のエラーを分類して返すエラー。
var (
	// ErrDuplicate は一意制約違反を示す。
	ErrDuplicate = errors.New("duplicate key")
	// ErrSerialization はデッドロック検出やシリアライズ失敗を示す。
	ErrSerialization = errors.New("serialization failure")
)

// LockSet はトランザクション開始時に取得するロックの集合。
// ロックは「全体 → 日 → キー」の順に、キーはソート済みの固定順序で取得される。
type LockSet struct {
	// Day はロック対象の暦日。
	Day model.Day
	// Keys は日の中で排他するキー（ユーザーIDやトリオID）。
	Keys []string
	// ExclusiveDay は日単位の排他ロックを取る。falseの場合は共有ロック。
	ExclusiveDay bool
	// ExclusiveAll は全日付に対する排他ロックを取る。DayとKeysは無視される。
	ExclusiveAll bool
}

// GroupingStore はキューとトリオの永続化ストア。
// 書き込みはすべてWithinTxの中で行う。
type GroupingStore interface {
	// WithinTx はlockで指定したロックを取得したトランザクション内でfnを実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーを返す。
	WithinTx(ctx context.Context, lock LockSet, fn func(ctx context.Context, tx GroupingTx) error) error

	// ListQueue は指定日のキューをjoined_at、user_idの昇順で返す。
	ListQueue(ctx context.Context, day model.Day) ([]model.QueueEntry, error)

	// CountQueue は指定日のキュー人数を返す。
	CountQueue(ctx context.Context, day model.Day) (int, error)

	// ListTrios は指定日のトリオをcreated_at昇順で返す。
	ListTrios(ctx context.Context, day model.Day) ([]model.Trio, error)

	// ListPartialTrios は指定日の定員未満のトリオをcreated_at昇順で返す。
	ListPartialTrios(ctx context.Context, day model.Day) ([]model.Trio, error)

	// FindTrioByMember はユーザーが所属する指定日のトリオを返す。見つからない場合はnilを返す。
	FindTrioByMember(ctx context.Context, userID string, day model.Day) (*model.Trio, error)

	// DeleteQueueBefore はbeforeより前の日付のキューを削除し、削除件数を返す。
	DeleteQueueBefore(ctx context.Context, before model.Day) (int64, error)

	// DeleteTriosBefore はbeforeより前の日付のトリオを削除し、削除件数を返す。
	DeleteTriosBefore(ctx context.Context, before model.Day) (int64, error)

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}

// GroupingTx はWithinTx内で使用するトランザクション操作。
type GroupingTx interface {
	// FindQueueEntry はキューエントリを取得する。見つからない場合はnilを返す。
	FindQueueEntry(ctx context.Context, userID string, day model.Day) (*model.QueueEntry, error)

	// FindTrioByMember はユーザーが所属する指定日のトリオを返す。見つからない場合はnilを返す。
	FindTrioByMember(ctx context.Context, userID string, day model.Day) (*model.Trio, error)

	// FindTrio はIDでトリオを取得する。見つからない場合はnilを返す。
	FindTrio(ctx context.Context, trioID string) (*model.Trio, error)

	// InsertQueueEntry はキューエントリを追加する。既に存在する場合はErrDuplicateを返す。
	InsertQueueEntry(ctx context.Context, entry model.QueueEntry) error

	// DeleteQueueEntry はキューエントリを削除する。削除した場合はtrueを返す。
	DeleteQueueEntry(ctx context.Context, userID string, day model.Day) (bool, error)

	// InsertTrio はトリオとメンバーを追加する。
	// 同日に既に所属しているメンバーがいる場合はErrDuplicateを返す。
	InsertTrio(ctx context.Context, trio model.Trio) error

	// AddTrioMember は既存トリオの指定positionにメンバーを追加する。
	AddTrioMember(ctx context.Context, trioID string, day model.Day, userID string, position int) error

	// DeleteScope はscopeに含まれるトリオとキューを削除する。
	DeleteScope(ctx context.Context, scope model.WipeScope) (model.WipeResult, error)
}

// UserDirectory はグルーピング対象となるユーザー情報の参照インターフェース。
// ユーザーの登録・更新は外部のアカウント管理が行う。
type UserDirectory interface {
	// ListActiveUserIDs はアクティブなユーザーIDを昇順で返す。
	ListActiveUserIDs(ctx context.Context) ([]string, error)

	// ResolveMembers はユーザーIDから表示用情報を引く。存在しないIDは結果に含まれない。
	ResolveMembers(ctx context.Context, userIDs []string) (map[string]model.Member, error)
}
