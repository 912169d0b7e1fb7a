package repository

import (
	"hash/fnv"
	"slices"
)

// advisoryKey は名前空間付きの文字列を64bitのロックキーに変換する。
func advisoryKey(parts ...string) int64 {
	h := fnv.New64a()
	h.Write([]byte("dailytrio"))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return int64(h.Sum64())
}

// globalLockKey は全日付をまたぐロックのキー。
var globalLockKey = advisoryKey("global")

// dayLockKey は暦日単位のロックのキーを返す。
func dayLockKey(lock LockSet) int64 {
	return advisoryKey("day", string(lock.Day))
}

// memberLockKeys はLockSet.Keysのロックキーをソート・重複除去して返す。
// 全トランザクションが同じ順序で取得するため、キー同士でデッドロックしない。
func memberLockKeys(lock LockSet) []int64 {
	keys := make([]int64, 0, len(lock.Keys))
	for _, k := range lock.Keys {
		keys = append(keys, advisoryKey("key", string(lock.Day), k))
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}
