package trio

import "math/rand/v2"

// shuffle はidsのコピーをFisher–Yatesで一様にシャッフルして返す。
// intNは [0, n) の一様乱数を返す関数。
func shuffle(ids []string, intN func(n int) int) []string {
	out := append([]string(nil), ids...)
	for i := len(out) - 1; i > 0; i-- {
		j := intN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// chunk はidsを先頭から size 人ずつに分ける。最後のグループは size 未満になりうる。
func chunk(ids []string, size int) [][]string {
	groups := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		groups = append(groups, ids[start:end])
	}
	return groups
}

// defaultIntN はプロセス共有の乱数源を使う。並行呼び出しに対して安全。
func defaultIntN(n int) int {
	return rand.IntN(n)
}
