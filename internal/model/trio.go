// Package model はドメインモデルを定義する。
package model

import "time"

// TrioSize は1トリオの定員。
const TrioSize = 3

// QueueEntry はその日のマッチング待ちキューに並んでいるユーザーを表す。
// (Day, UserID) の組は一意。
type QueueEntry struct {
	UserID   string
	Day      Day
	JoinedAt time.Time
}

// Trio はある日に確定したグループを表す。
// 通常は3人だが、管理者によるランダム再編成の余りとして1〜2人の部分トリオが存在しうる。
type Trio struct {
	ID        string
	Day       Day
	Members   []string // position順
	CreatedAt time.Time
}

// IsPartial は定員未満のトリオかどうかを返す。
func (t *Trio) IsPartial() bool {
	return len(t.Members) < TrioSize
}

// Has はuserIDがメンバーに含まれるかを返す。
func (t *Trio) Has(userID string) bool {
	for _, m := range t.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Member はトリオメンバーの表示用情報を表す。
type Member struct {
	UserID      string
	DisplayName string
}

// WipeResult は削除処理で消えた件数を表す。
type WipeResult struct {
	TriosDeleted        int64
	QueueEntriesDeleted int64
}
