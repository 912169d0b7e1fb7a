package trio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/dailytrio/internal/model"
)

func TestAdmin_ForbiddenForNonAdmin(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.h.SeedUsers(t, userIDs("u", 3)...)

	_, err := e.admin.Randomize(ctx, memberCaller, today)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = e.admin.Delete(ctx, memberCaller, model.AllDays())
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = e.admin.Verify(ctx, memberCaller, today)
	assert.ErrorIs(t, err, model.ErrForbidden)

	trios, err := e.guard.Trios(ctx, today)
	require.NoError(t, err)
	assert.Empty(t, trios)
}

func TestAdmin_RandomizeInsufficientUsers(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	e.h.SeedUsers(t, "a", "b")
	e.h.SeedUser(t, "inactive", "Inactive", false)
	reserveAll(t, e, today, "a")

	_, err := e.admin.Randomize(ctx, adminCaller, today)
	assert.ErrorIs(t, err, model.ErrInsufficientUsers)

	// 何も削除されていない
	entries, err := e.guard.QueueEntries(ctx, today)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAdmin_RandomizeSevenUsers(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	ids := userIDs("u", 7)
	e.h.SeedUsers(t, ids...)

	result, err := e.admin.Randomize(ctx, adminCaller, today)
	require.NoError(t, err)
	assert.True(t, result.Complete())
	assert.Equal(t, 7, result.Population)
	assert.Equal(t, 3, result.GroupsAttempted)
	assert.Equal(t, 3, result.GroupsFormed)
	assert.Equal(t, 1, result.PartialSize)
	assert.Equal(t, 7, result.UsersGrouped)
	assert.Equal(t, "formed 3 of 3 groups", result.Summary())

	report, err := e.admin.Verify(ctx, adminCaller, today)
	require.NoError(t, err)
	assert.Len(t, report.Trios, 3)
	assert.Equal(t, 7, report.DistinctUsers)
	assert.Equal(t, 1, report.PartialTrios)

	full := 0
	for _, vt := range report.Trios {
		if len(vt.Members) == model.TrioSize {
			full++
		}
	}
	assert.Equal(t, 2, full)
}

func TestAdmin_RandomizeReplacesDay(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	tomorrow := today.AddDays(1)

	e.h.SeedUsers(t, userIDs("u", 6)...)
	_, err := e.guard.CommitRepopulated(ctx, today, []string{"ua", "ub"})
	require.NoError(t, err)
	_, err = e.guard.CommitRepopulated(ctx, tomorrow, []string{"ua", "ub", "uc"})
	require.NoError(t, err)
	reserveAll(t, e, today, "uc")

	result, err := e.admin.Randomize(ctx, adminCaller, today)
	require.NoError(t, err)
	assert.Equal(t, model.WipeResult{TriosDeleted: 1, QueueEntriesDeleted: 1}, result.Wiped)
	assert.Equal(t, 2, result.GroupsFormed)
	assert.Zero(t, result.PartialSize)

	trios, err := e.guard.Trios(ctx, today)
	require.NoError(t, err)
	assert.Len(t, trios, 2)
	for user, n := range memberCounts(trios) {
		assert.Equal(t, 1, n, "user %s", user)
	}

	// 他の日は変更されない
	other, err := e.guard.Trios(ctx, tomorrow)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestRandomizeResult_Summary(t *testing.T) {
	tests := []struct {
		name   string
		result RandomizeResult
		want   string
	}{
		{
			name:   "全て成功",
			result: RandomizeResult{GroupsAttempted: 4, GroupsFormed: 4},
			want:   "formed 4 of 4 groups",
		},
		{
			name:   "競合1件",
			result: RandomizeResult{GroupsAttempted: 15, GroupsFormed: 14, Conflicts: 1},
			want:   "formed 14 of 15 groups, 1 conflict; re-run verify",
		},
		{
			name: "競合と失敗",
			result: RandomizeResult{
				GroupsAttempted: 5,
				GroupsFormed:    2,
				Conflicts:       2,
				Failures:        []GroupFailure{{Members: []string{"a"}, Err: errors.New("boom")}},
			},
			want: "formed 2 of 5 groups, 2 conflicts, 1 failure; re-run verify",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Summary())
		})
	}
}

func TestAdmin_VerifySanitizesDisplayNames(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	e.h.SeedUser(t, "bob", "<b>Bob</b>", true)
	e.h.SeedUser(t, "eve", `<script>alert(1)</script>Eve`, true)
	_, err := e.guard.CommitRepopulated(ctx, today, []string{"bob", "eve", "ghost"})
	require.NoError(t, err)

	report, err := e.admin.Verify(ctx, adminCaller, today)
	require.NoError(t, err)
	require.Len(t, report.Trios, 1)

	names := map[string]string{}
	for _, m := range report.Trios[0].Members {
		names[m.UserID] = m.DisplayName
	}
	assert.Equal(t, "Bob", names["bob"])
	assert.Equal(t, "Eve", names["eve"])
	// ディレクトリにいないユーザーもIDだけで表示する
	assert.Contains(t, names, "ghost")
	assert.Empty(t, names["ghost"])
}

func TestAdmin_Delete(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.guard.CommitRepopulated(ctx, today, []string{"a", "b", "c"})
	require.NoError(t, err)
	_, err = e.guard.CommitRepopulated(ctx, today.AddDays(1), []string{"a"})
	require.NoError(t, err)
	reserveAll(t, e, today.AddDays(1), "b")

	result, err := e.admin.Delete(ctx, adminCaller, model.AllDays())
	require.NoError(t, err)
	assert.Equal(t, model.WipeResult{TriosDeleted: 2, QueueEntriesDeleted: 1}, result)

	report, err := e.admin.Verify(ctx, adminCaller, today)
	require.NoError(t, err)
	assert.Empty(t, report.Trios)
	assert.Zero(t, report.DistinctUsers)
}
