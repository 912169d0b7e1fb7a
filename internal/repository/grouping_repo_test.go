package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/dailytrio/internal/model"
	"github.com/hitoshi/dailytrio/internal/repository"
	"github.com/hitoshi/dailytrio/internal/testutil"
)

const (
	day1 = model.Day("2026-03-01")
	day2 = model.Day("2026-03-02")
)

// forEachBackend はSQLiteと（接続可能であれば）PostgreSQLの両方でテストを実行する。
func forEachBackend(t *testing.T, fn func(t *testing.T, h *testutil.Harness)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, testutil.NewSQLiteHarness(t))
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, testutil.NewPostgresHarness(t))
	})
}

func insertTrio(t *testing.T, store repository.GroupingStore, id string, day model.Day, createdAt time.Time, members ...string) error {
	t.Helper()
	return store.WithinTx(context.Background(), repository.LockSet{Day: day, Keys: members},
		func(ctx context.Context, tx repository.GroupingTx) error {
			return tx.InsertTrio(ctx, model.Trio{ID: id, Day: day, Members: members, CreatedAt: createdAt})
		})
}

func enqueue(t *testing.T, store repository.GroupingStore, day model.Day, userID string, joinedAt time.Time) error {
	t.Helper()
	return store.WithinTx(context.Background(), repository.LockSet{Day: day, Keys: []string{userID}},
		func(ctx context.Context, tx repository.GroupingTx) error {
			return tx.InsertQueueEntry(ctx, model.QueueEntry{UserID: userID, Day: day, JoinedAt: joinedAt})
		})
}

func trioID(n int) string {
	return []string{
		"00000000-0000-0000-0000-000000000001",
		"00000000-0000-0000-0000-000000000002",
		"00000000-0000-0000-0000-000000000003",
	}[n-1]
}

func TestGroupingRepo_QueueEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *testutil.Harness) {
		ctx := context.Background()
		base := testutil.ReferenceTime()

		// joined_at順、同時刻はuser_id順
		for _, e := range []struct {
			user string
			at   time.Time
		}{
			{"carol", base.Add(2 * time.Second)},
			{"bob", base},
			{"alice", base},
		} {
			if err := enqueue(t, h.Store, day1, e.user, e.at); err != nil {
				t.Fatalf("enqueue(%s) failed: %v", e.user, err)
			}
		}

		err := enqueue(t, h.Store, day1, "alice", base.Add(time.Minute))
		if !errors.Is(err, repository.ErrDuplicate) {
			t.Errorf("duplicate enqueue error = %v, want ErrDuplicate", err)
		}

		// 別の日は独立
		if err := enqueue(t, h.Store, day2, "alice", base); err != nil {
			t.Fatalf("enqueue on another day failed: %v", err)
		}

		entries, err := h.Store.ListQueue(ctx, day1)
		if err != nil {
			t.Fatalf("ListQueue failed: %v", err)
		}
		var got []string
		for _, e := range entries {
			got = append(got, e.UserID)
			if e.Day != day1 {
				t.Errorf("entry day = %q, want %q", e.Day, day1)
			}
		}
		want := []string{"alice", "bob", "carol"}
		if len(got) != len(want) {
			t.Fatalf("ListQueue = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("ListQueue[%d] = %q, want %q", i, got[i], want[i])
			}
		}
		if !entries[2].JoinedAt.Equal(base.Add(2 * time.Second)) {
			t.Errorf("JoinedAt = %v, want %v", entries[2].JoinedAt, base.Add(2*time.Second))
		}

		n, err := h.Store.CountQueue(ctx, day1)
		if err != nil || n != 3 {
			t.Errorf("CountQueue = %d, %v; want 3, nil", n, err)
		}

		// 削除
		var removed bool
		err = h.Store.WithinTx(ctx, repository.LockSet{Day: day1, Keys: []string{"bob"}},
			func(ctx context.Context, tx repository.GroupingTx) error {
				var err error
				removed, err = tx.DeleteQueueEntry(ctx, "bob", day1)
				return err
			})
		if err != nil || !removed {
			t.Fatalf("DeleteQueueEntry = %v, %v; want true, nil", removed, err)
		}
	})
}

func TestGroupingRepo_Trios(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *testutil.Harness) {
		ctx := context.Background()
		base := testutil.ReferenceTime()

		if err := insertTrio(t, h.Store, trioID(1), day1, base, "alice", "bob", "carol"); err != nil {
			t.Fatalf("insertTrio failed: %v", err)
		}
		if err := insertTrio(t, h.Store, trioID(2), day1, base.Add(time.Second), "dave"); err != nil {
			t.Fatalf("insertTrio (partial) failed: %v", err)
		}

		// 同日に既に所属しているメンバーを含むトリオはロールバックされる
		err := insertTrio(t, h.Store, trioID(3), day1, base.Add(2*time.Second), "erin", "frank", "alice")
		if !errors.Is(err, repository.ErrDuplicate) {
			t.Fatalf("overlapping trio error = %v, want ErrDuplicate", err)
		}
		if trio, err := h.Store.FindTrioByMember(ctx, "erin", day1); err != nil || trio != nil {
			t.Errorf("rolled back trio is visible: %+v, %v", trio, err)
		}

		trio, err := h.Store.FindTrioByMember(ctx, "bob", day1)
		if err != nil {
			t.Fatalf("FindTrioByMember failed: %v", err)
		}
		if trio == nil || trio.ID != trioID(1) || len(trio.Members) != 3 || trio.Members[0] != "alice" {
			t.Errorf("FindTrioByMember = %+v", trio)
		}
		if trio != nil && trio.Day != day1 {
			t.Errorf("trio.Day = %q, want %q", trio.Day, day1)
		}

		if trio, err := h.Store.FindTrioByMember(ctx, "bob", day2); err != nil || trio != nil {
			t.Errorf("FindTrioByMember on another day = %+v, %v; want nil", trio, err)
		}

		trios, err := h.Store.ListTrios(ctx, day1)
		if err != nil {
			t.Fatalf("ListTrios failed: %v", err)
		}
		if len(trios) != 2 {
			t.Fatalf("len(ListTrios) = %d, want 2", len(trios))
		}

		partial, err := h.Store.ListPartialTrios(ctx, day1)
		if err != nil {
			t.Fatalf("ListPartialTrios failed: %v", err)
		}
		if len(partial) != 1 || partial[0].ID != trioID(2) {
			t.Fatalf("ListPartialTrios = %+v", partial)
		}

		// 部分トリオへの追加
		err = h.Store.WithinTx(ctx, repository.LockSet{Day: day1, Keys: []string{trioID(2), "erin"}},
			func(ctx context.Context, tx repository.GroupingTx) error {
				return tx.AddTrioMember(ctx, trioID(2), day1, "erin", 2)
			})
		if err != nil {
			t.Fatalf("AddTrioMember failed: %v", err)
		}
		err = h.Store.WithinTx(ctx, repository.LockSet{Day: day1},
			func(ctx context.Context, tx repository.GroupingTx) error {
				got, err := tx.FindTrio(ctx, trioID(2))
				if err != nil {
					return err
				}
				if got == nil || len(got.Members) != 2 || got.Members[1] != "erin" {
					t.Errorf("FindTrio after fill = %+v", got)
				}
				return nil
			})
		if err != nil {
			t.Fatalf("FindTrio failed: %v", err)
		}
	})
}

func TestGroupingRepo_DeleteScope(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *testutil.Harness) {
		ctx := context.Background()
		base := testutil.ReferenceTime()

		if err := insertTrio(t, h.Store, trioID(1), day1, base, "alice", "bob", "carol"); err != nil {
			t.Fatal(err)
		}
		if err := insertTrio(t, h.Store, trioID(2), day2, base, "alice", "bob", "carol"); err != nil {
			t.Fatal(err)
		}
		if err := enqueue(t, h.Store, day1, "dave", base); err != nil {
			t.Fatal(err)
		}
		if err := enqueue(t, h.Store, day2, "dave", base); err != nil {
			t.Fatal(err)
		}

		wipe := func(scope model.WipeScope) model.WipeResult {
			t.Helper()
			var result model.WipeResult
			lock := repository.LockSet{Day: scope.Day, ExclusiveDay: true, ExclusiveAll: scope.All}
			err := h.Store.WithinTx(ctx, lock, func(ctx context.Context, tx repository.GroupingTx) error {
				var err error
				result, err = tx.DeleteScope(ctx, scope)
				return err
			})
			if err != nil {
				t.Fatalf("DeleteScope(%s) failed: %v", scope, err)
			}
			return result
		}

		got := wipe(model.DayScope(day1))
		if got.TriosDeleted != 1 || got.QueueEntriesDeleted != 1 {
			t.Errorf("DeleteScope(day1) = %+v, want 1 trio and 1 queue entry", got)
		}
		if trio, _ := h.Store.FindTrioByMember(ctx, "alice", day2); trio == nil {
			t.Error("day2 trio should survive a day1 wipe")
		}

		got = wipe(model.AllDays())
		if got.TriosDeleted != 1 || got.QueueEntriesDeleted != 1 {
			t.Errorf("DeleteScope(all) = %+v, want 1 trio and 1 queue entry", got)
		}
		if trios, _ := h.Store.ListTrios(ctx, day2); len(trios) != 0 {
			t.Errorf("trios remain after wiping all: %+v", trios)
		}
	})
}

func TestGroupingRepo_Retention(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *testutil.Harness) {
		ctx := context.Background()
		base := testutil.ReferenceTime()

		if err := insertTrio(t, h.Store, trioID(1), day1, base, "alice", "bob", "carol"); err != nil {
			t.Fatal(err)
		}
		if err := insertTrio(t, h.Store, trioID(2), day2, base, "alice", "bob", "carol"); err != nil {
			t.Fatal(err)
		}
		if err := enqueue(t, h.Store, day1, "dave", base); err != nil {
			t.Fatal(err)
		}

		n, err := h.Store.DeleteQueueBefore(ctx, day2)
		if err != nil || n != 1 {
			t.Errorf("DeleteQueueBefore = %d, %v; want 1, nil", n, err)
		}
		n, err = h.Store.DeleteTriosBefore(ctx, day2)
		if err != nil || n != 1 {
			t.Errorf("DeleteTriosBefore = %d, %v; want 1, nil", n, err)
		}
		if trio, _ := h.Store.FindTrioByMember(ctx, "alice", day1); trio != nil {
			t.Error("expired trio still visible")
		}
		if trio, _ := h.Store.FindTrioByMember(ctx, "alice", day2); trio == nil {
			t.Error("current trio should be kept")
		}
	})
}

func TestUserDirectory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *testutil.Harness) {
		ctx := context.Background()
		h.SeedUser(t, "bob", "Bob", true)
		h.SeedUser(t, "alice", "Alice", true)
		h.SeedUser(t, "carol", "Carol", false)

		ids, err := h.Directory.ListActiveUserIDs(ctx)
		if err != nil {
			t.Fatalf("ListActiveUserIDs failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
			t.Errorf("ListActiveUserIDs = %v, want [alice bob]", ids)
		}

		members, err := h.Directory.ResolveMembers(ctx, []string{"alice", "carol", "ghost"})
		if err != nil {
			t.Fatalf("ResolveMembers failed: %v", err)
		}
		if len(members) != 2 || members["alice"].DisplayName != "Alice" || members["carol"].DisplayName != "Carol" {
			t.Errorf("ResolveMembers = %+v", members)
		}
	})
}
