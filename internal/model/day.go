package model

import (
	"fmt"
	"time"
)

// DayLayout は暦日の文字列表現で使うレイアウト。
const DayLayout = "2006-01-02"

// Day はグルーピング単位となる暦日を表す。
// サービスのタイムゾーンで解釈した "YYYY-MM-DD" 形式の文字列。
type Day string

// DayOf は時刻tをlocのタイムゾーンで暦日に変換する。
// locがnilの場合はUTCとして扱う。
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day(t.In(loc).Format(DayLayout))
}

// ParseDay は "YYYY-MM-DD" 形式の文字列をDayに変換する。
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(DayLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDay, s)
	}
	return Day(s), nil
}

// String はfmt.Stringerを実装する。
func (d Day) String() string {
	return string(d)
}

// AddDays はn日後（負数の場合はn日前）の暦日を返す。
func (d Day) AddDays(n int) Day {
	t, err := time.Parse(DayLayout, string(d))
	if err != nil {
		return d
	}
	return Day(t.AddDate(0, 0, n).Format(DayLayout))
}

// WipeScope はトリオ削除の対象範囲を表す。
// Allがtrueの場合はDayを無視して全日付を対象とする。
type WipeScope struct {
	Day Day
	All bool
}

// DayScope は指定日のみを対象とするWipeScopeを返す。
func DayScope(d Day) WipeScope {
	return WipeScope{Day: d}
}

// AllDays は全日付を対象とするWipeScopeを返す。
func AllDays() WipeScope {
	return WipeScope{All: true}
}

// String はログ出力用の表現を返す。
func (s WipeScope) String() string {
	if s.All {
		return "all"
	}
	return "day:" + string(s.Day)
}
