package testutil

import (
	"sync"
	"time"
)

// ReferenceTime はテストで共通に使う基準時刻（UTCの正午）。
func ReferenceTime() time.Time {
	return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
}

// Clock はテスト用に操作可能な時刻源。
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock はstartで初期化したClockを返す。ゼロ値の場合はReferenceTimeを使う。
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now は現在時刻を返す。呼び出すたびに1マイクロ秒進める。
// joined_atが同じ値にならないようにするため。
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Microsecond)
	return c.current
}

// Set は時刻をtに設定する。
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance は時刻をdだけ進め、更新後の時刻を返す。
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}
