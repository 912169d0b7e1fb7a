package trio

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/dailytrio/internal/identity"
	"github.com/hitoshi/dailytrio/internal/model"
	"github.com/hitoshi/dailytrio/internal/testutil"
)

const today = model.Day("2026-03-01")

var (
	adminCaller  = identity.Identity{UserID: "admin", IsAdmin: true}
	memberCaller = identity.Identity{UserID: "member"}
)

// engine はテスト用にストア上で組み立てたグルーピングエンジン一式。
type engine struct {
	h         *testutil.Harness
	clock     *testutil.Clock
	guard     *Guard
	assembler *Assembler
	queue     *QueueManager
	admin     *Admin
}

// newEngine はSQLite上にエンジンを組み立てる。
func newEngine(t *testing.T) *engine {
	t.Helper()
	return newEngineOn(t, testutil.NewSQLiteHarness(t))
}

// forEachBackend はSQLiteと（接続可能であれば）PostgreSQLの両方でテストを実行する。
// SQLiteは書き込みトランザクションを直列化するため、並行性の検証はPostgreSQL側が本番と同じロック経路を通る。
func forEachBackend(t *testing.T, fn func(t *testing.T, e *engine)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newEngineOn(t, testutil.NewSQLiteHarness(t)))
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, newEngineOn(t, testutil.NewPostgresHarness(t)))
	})
}

func newEngineOn(t *testing.T, h *testutil.Harness) *engine {
	t.Helper()

	clock := testutil.NewClock(time.Time{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	guard := NewGuard(h.Store, logger, 10*time.Second)
	guard.now = clock.Now
	assembler := NewAssembler(guard, logger, nil, 0)
	queue := NewQueueManager(guard, assembler, time.UTC, nil, logger)
	queue.clock = clock.Now
	admin := NewAdmin(guard, assembler, h.Directory, nil, logger)

	return &engine{h: h, clock: clock, guard: guard, assembler: assembler, queue: queue, admin: admin}
}

// memberCounts はユーザーIDごとのトリオ所属数を返す。
func memberCounts(trios []model.Trio) map[string]int {
	counts := make(map[string]int)
	for _, t := range trios {
		for _, m := range t.Members {
			counts[m]++
		}
	}
	return counts
}

func userIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = prefix + string(rune('a'+i))
	}
	return ids
}
