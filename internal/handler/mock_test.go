package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/dailytrio/internal/identity"
	"github.com/hitoshi/dailytrio/internal/middleware"
	"github.com/hitoshi/dailytrio/internal/model"
)

// --- モック定義 ---

// mockQueueService はQueueServiceInterfaceのモック実装。
type mockQueueService struct {
	joinFn   func(ctx context.Context, userID string) (*joinResponse, error)
	leaveFn  func(ctx context.Context, userID string) error
	statusFn func(ctx context.Context, userID string) (*statusResponse, error)
}

func (m *mockQueueService) Join(ctx context.Context, userID string) (*joinResponse, error) {
	if m.joinFn != nil {
		return m.joinFn(ctx, userID)
	}
	return &joinResponse{Status: "queued", Position: 1, QueueSize: 1}, nil
}

func (m *mockQueueService) Leave(ctx context.Context, userID string) error {
	if m.leaveFn != nil {
		return m.leaveFn(ctx, userID)
	}
	return nil
}

func (m *mockQueueService) Status(ctx context.Context, userID string) (*statusResponse, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, userID)
	}
	return &statusResponse{}, nil
}

// mockAdminService はAdminServiceInterfaceのモック実装。
type mockAdminService struct {
	randomizeFn func(ctx context.Context, caller identity.Identity, day model.Day) (*randomizeResponse, error)
	deleteFn    func(ctx context.Context, caller identity.Identity, scope model.WipeScope) (*deleteResponse, error)
	verifyFn    func(ctx context.Context, caller identity.Identity, day model.Day) (*verifyResponse, error)
}

func (m *mockAdminService) Randomize(ctx context.Context, caller identity.Identity, day model.Day) (*randomizeResponse, error) {
	if m.randomizeFn != nil {
		return m.randomizeFn(ctx, caller, day)
	}
	return &randomizeResponse{}, nil
}

func (m *mockAdminService) Delete(ctx context.Context, caller identity.Identity, scope model.WipeScope) (*deleteResponse, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, caller, scope)
	}
	return &deleteResponse{}, nil
}

func (m *mockAdminService) Verify(ctx context.Context, caller identity.Identity, day model.Day) (*verifyResponse, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, caller, day)
	}
	return &verifyResponse{}, nil
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// withUserID はリクエストに一般ユーザーを注入する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withIdentity はリクエストに呼び出し元情報を注入する。
func withIdentity(r *http.Request, id identity.Identity) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), id))
}
