package handler

import (
	"context"

	"github.com/hitoshi/dailytrio/internal/identity"
	"github.com/hitoshi/dailytrio/internal/model"
	"github.com/hitoshi/dailytrio/internal/trio"
)

// QueueServiceAdapter は trio.QueueManager を QueueServiceInterface に適合させるアダプタ。
type QueueServiceAdapter struct {
	queue *trio.QueueManager
}

// NewQueueServiceAdapter はQueueServiceAdapterを生成する。
func NewQueueServiceAdapter(queue *trio.QueueManager) *QueueServiceAdapter {
	return &QueueServiceAdapter{queue: queue}
}

// Join はjoinの結果をhandlerレスポンス型で返す。
func (a *QueueServiceAdapter) Join(ctx context.Context, userID string) (*joinResponse, error) {
	result, err := a.queue.Join(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &joinResponse{
		Status:         string(result.Status),
		Day:            result.Day.String(),
		Trio:           toTrioResponse(result.Trio),
		Position:       result.Position,
		QueueSize:      result.QueueSize,
		AlreadyGrouped: result.AlreadyGrouped,
	}, nil
}

// Leave はユーザーを今日のキューから外す。
func (a *QueueServiceAdapter) Leave(ctx context.Context, userID string) error {
	return a.queue.Leave(ctx, userID)
}

// Status はユーザーの状態をhandlerレスポンス型で返す。
func (a *QueueServiceAdapter) Status(ctx context.Context, userID string) (*statusResponse, error) {
	status, err := a.queue.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &statusResponse{
		Day:        status.Day.String(),
		InQueue:    status.InQueue,
		QueueCount: status.QueueCount,
		Position:   status.Position,
		Trio:       toTrioResponse(status.Trio),
	}, nil
}

// AdminServiceAdapter は trio.Admin を AdminServiceInterface に適合させるアダプタ。
type AdminServiceAdapter struct {
	admin *trio.Admin
	today func() model.Day
}

// NewAdminServiceAdapter はAdminServiceAdapterを生成する。
// todayは日付が省略された場合に使う。
func NewAdminServiceAdapter(admin *trio.Admin, today func() model.Day) *AdminServiceAdapter {
	return &AdminServiceAdapter{admin: admin, today: today}
}

func (a *AdminServiceAdapter) dayOrToday(day model.Day) model.Day {
	if day == "" {
		return a.today()
	}
	return day
}

// Randomize は再編成の結果をhandlerレスポンス型で返す。
func (a *AdminServiceAdapter) Randomize(ctx context.Context, caller identity.Identity, day model.Day) (*randomizeResponse, error) {
	result, err := a.admin.Randomize(ctx, caller, a.dayOrToday(day))
	if err != nil {
		return nil, err
	}

	resp := &randomizeResponse{
		Day:               result.Day.String(),
		Population:        result.Population,
		TriosWiped:        result.Wiped.TriosDeleted,
		QueueEntriesWiped: result.Wiped.QueueEntriesDeleted,
		GroupsAttempted:   result.GroupsAttempted,
		GroupsFormed:      result.GroupsFormed,
		Conflicts:         result.Conflicts,
		Failures:          make([]groupFailureResponse, 0, len(result.Failures)),
		PartialSize:       result.PartialSize,
		UsersGrouped:      result.UsersGrouped,
		Complete:          result.Complete(),
		Summary:           result.Summary(),
		Trios:             make([]trioResponse, 0, len(result.Trios)),
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, groupFailureResponse{Members: f.Members, Error: f.Err.Error()})
	}
	for i := range result.Trios {
		resp.Trios = append(resp.Trios, *toTrioResponse(&result.Trios[i]))
	}
	return resp, nil
}

// Delete は削除件数をhandlerレスポンス型で返す。
func (a *AdminServiceAdapter) Delete(ctx context.Context, caller identity.Identity, scope model.WipeScope) (*deleteResponse, error) {
	if !scope.All {
		scope.Day = a.dayOrToday(scope.Day)
	}
	result, err := a.admin.Delete(ctx, caller, scope)
	if err != nil {
		return nil, err
	}
	return &deleteResponse{
		Scope:               scope.String(),
		TriosDeleted:        result.TriosDeleted,
		QueueEntriesDeleted: result.QueueEntriesDeleted,
	}, nil
}

// Verify は検証結果をhandlerレスポンス型で返す。
func (a *AdminServiceAdapter) Verify(ctx context.Context, caller identity.Identity, day model.Day) (*verifyResponse, error) {
	report, err := a.admin.Verify(ctx, caller, a.dayOrToday(day))
	if err != nil {
		return nil, err
	}

	resp := &verifyResponse{
		Day:           report.Day.String(),
		Trios:         make([]verifiedTrioResponse, 0, len(report.Trios)),
		DistinctUsers: report.DistinctUsers,
		PartialTrios:  report.PartialTrios,
	}
	for _, vt := range report.Trios {
		members := make([]memberResponse, len(vt.Members))
		for i, m := range vt.Members {
			members[i] = memberResponse{UserID: m.UserID, DisplayName: m.DisplayName}
		}
		resp.Trios = append(resp.Trios, verifiedTrioResponse{
			ID:        vt.ID,
			Members:   members,
			Partial:   vt.Partial,
			CreatedAt: vt.CreatedAt,
		})
	}
	return resp, nil
}

// toTrioResponse はドメインのTrioをhandlerのレスポンス型に変換する。
func toTrioResponse(t *model.Trio) *trioResponse {
	if t == nil {
		return nil
	}
	return &trioResponse{
		ID:        t.ID,
		Day:       t.Day.String(),
		Members:   append([]string(nil), t.Members...),
		Partial:   t.IsPartial(),
		CreatedAt: t.CreatedAt,
	}
}

// --- compile-time interface checks ---

var _ QueueServiceInterface = (*QueueServiceAdapter)(nil)
var _ AdminServiceInterface = (*AdminServiceAdapter)(nil)
