package sweep

import "time"

// maxBackoffFactor はバックオフ遅延の上限をスイープ間隔の何倍にするか。
const maxBackoffFactor = 16

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回はinterval、2倍ずつ増加し、最大でintervalのmaxBackoffFactor倍。
func CalculateBackoff(interval time.Duration, consecutiveErrors int) time.Duration {
	if consecutiveErrors <= 0 {
		return 0
	}
	limit := interval * maxBackoffFactor
	delay := interval
	for i := 1; i < consecutiveErrors; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	return delay
}
