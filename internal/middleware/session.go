// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dailytrio/internal/identity"
	"github.com/hitoshi/dailytrio/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに呼び出し元情報を格納するためのキー。
var identityContextKey = contextKey("identity")

// IdentityResolver はCookie値から呼び出し元を復元する。
// identity.CookieCodecが実装する。
type IdentityResolver interface {
	Decode(value string) (identity.Identity, error)
}

// NewSessionMiddleware は認証基盤が発行したCookieを検証し、
// 呼び出し元情報をリクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、または検証に失敗した場合は401 Unauthorizedを返す。
func NewSessionMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(identity.CookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			id, err := resolver.Decode(cookie.Value)
			if err != nil {
				slog.Warn("failed to decode identity cookie",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから呼び出し元情報を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (identity.Identity, error) {
	id, ok := ctx.Value(identityContextKey).(identity.Identity)
	if !ok || id.UserID == "" {
		return identity.Identity{}, fmt.Errorf("identity not found in context")
	}
	return id, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	id, err := IdentityFromContext(ctx)
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}

// ContextWithIdentity はコンテキストに呼び出し元情報を注入する。
func ContextWithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// ContextWithUserID は一般ユーザーとしてのユーザーIDをコンテキストに注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithIdentity(ctx, identity.Identity{UserID: userID})
}
